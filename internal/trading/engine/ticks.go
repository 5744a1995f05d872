package engine

import (
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// processTick infers the book from an anonymous trade print. A trade
// through one side consumes it, a trade inside the spread fills the gaps on
// both sides and a trade against a half-empty or empty book creates the
// level the trade must have hit.
func (e *Engine) processTick(tick *model.Execution, out *model.Batch) error {
	if !tick.TradePrice.Valid || !tick.TradePrice.Decimal.IsPositive() {
		return internalf("tick without a positive trade price")
	}
	tradePrice := tick.TradePrice.Decimal
	e.updateSteps(tradePrice, tick.TradeVolume)

	volume := decimal.NewFromInt(1)
	if tick.TradeVolume.Valid {
		volume = tick.TradeVolume.Decimal
	}
	if !volume.IsPositive() {
		return internalf("tick with volume %s", volume)
	}

	t := tick.LocalTime
	hasDepth := e.hasDepth(t)
	bestBid, hasBid := e.book.Bids.Best()
	bestAsk, hasAsk := e.book.Asks.Best()
	var bestBidPrice, bestAskPrice decimal.Decimal
	if hasBid {
		bestBidPrice = bestBid.Price
	}
	if hasAsk {
		bestAskPrice = bestAsk.Price
	}

	var err error
	switch {
	case hasBid && tradePrice.LessThanOrEqual(bestBidPrice):
		if err = e.sweep(t, model.SideSell, tradePrice, volume, out); err == nil && !hasDepth {
			err = e.addOpposite(model.SideBuy, tradePrice, volume)
		}
	case hasAsk && tradePrice.GreaterThanOrEqual(bestAskPrice):
		if err = e.sweep(t, model.SideBuy, tradePrice, volume, out); err == nil && !hasDepth {
			err = e.addOpposite(model.SideSell, tradePrice, volume)
		}
	case hasBid && hasAsk:
		err = e.fillSpread(tradePrice, bestBidPrice, bestAskPrice)
	default:
		err = e.seedBook(tick, tradePrice, volume, hasBid, hasAsk)
	}
	if err != nil {
		return err
	}

	if !hasDepth {
		e.cancelWorstQuote(model.SideBuy)
		e.cancelWorstQuote(model.SideSell)
	}

	e.prevTickPrice = tradePrice

	if e.ticksSubscription != 0 {
		out.Add(tick)
	}
	e.addDepthSnapshot(t, tick.ServerTime, out)
	return nil
}

// sweep removes the levels a market order of orderSide went through. User
// orders resting there fill completely at their level price. Unless a
// level remains one step from the trade, the trade volume is left at the trade price.
func (e *Engine) sweep(t time.Time, orderSide model.Side, tradePrice, volume decimal.Decimal, out *model.Batch) error {
	quotes := e.book.Side(orderSide.Invert())
	step := e.priceStep()

	var consumed []*orderbook.Level
	hasQuotes := false
	quotes.Scan(func(l *orderbook.Level) bool {
		if l.Price.Equal(tradePrice) || betterThan(quotes.Side(), l.Price, tradePrice) {
			consumed = append(consumed, l)
			return true
		}
		hasQuotes = tradePrice.Sub(l.Price).Abs().Equal(step)
		return false
	})

	for _, l := range consumed {
		price := l.Price
		for _, f := range quotes.RemoveLevel(l) {
			if !f.IsUser() {
				continue
			}
			order, ok := e.active.Get(f.TransactionID)
			if !ok {
				return internalf("swept fragment %d has no active order", f.TransactionID)
			}
			e.active.Delete(order.TransactionID)
			e.expirable.Delete(order.TransactionID)
			filled := order.GetBalance()
			order.Balance = decimal.NewNullDecimal(decimal.Zero)
			order.OrderState = model.OrderStateDone
			out.Add(e.toOrder(t, order))
			if err := e.processOwnTrade(t, order, price, filled, true, false, out); err != nil {
				return err
			}
		}
	}

	if hasQuotes {
		return nil
	}
	return e.addQuote(quotes.Side(), tradePrice, volume)
}

// addOpposite pulls the opposite side of a trade-through to SpreadSize steps from the trade.
func (e *Engine) addOpposite(originSide model.Side, tradePrice, volume decimal.Decimal) error {
	quotesSide := originSide.Invert()
	step := e.priceStep()
	offset := step.Mul(decimal.NewFromInt(int64(e.settings.SpreadSize)))
	if originSide == model.SideSell {
		offset = offset.Neg()
	}
	price := decimal.Max(tradePrice.Add(offset), step)

	best, ok := e.book.Side(quotesSide).Best()
	if ok && !betterThan(quotesSide, price, best.Price) {
		return nil
	}
	return e.addQuote(quotesSide, price, volume)
}

// fillSpread adds random levels between the trade and each best quote,
// spaced by random multiples of the spread and capped by MaxDepth.
func (e *Engine) fillSpread(tradePrice, bestBid, bestAsk decimal.Decimal) error {
	spreadStep := e.priceStep().Mul(decimal.NewFromInt(int64(e.settings.SpreadSize)))

	price := tradePrice.Add(spreadStep)
	for depth := e.settings.MaxDepth - 1; depth > 0 && bestAsk.GreaterThan(price); depth-- {
		if err := e.addQuote(model.SideSell, price, e.randomVolume()); err != nil {
			return err
		}
		price = price.Add(spreadStep.Mul(e.randomSpreadMultiplier()))
	}

	price = tradePrice.Sub(spreadStep)
	for depth := e.settings.MaxDepth - 1; depth > 0 && price.GreaterThan(bestBid); depth-- {
		if err := e.addQuote(model.SideBuy, price, e.randomVolume()); err != nil {
			return err
		}
		price = price.Sub(spreadStep.Mul(e.randomSpreadMultiplier()))
	}
	return nil
}

// seedBook handles a trade against a half-empty or empty book.
func (e *Engine) seedBook(tick *model.Execution, tradePrice, volume decimal.Decimal, hasBid, hasAsk bool) error {
	var origin model.Side
	hasOpposite := true
	switch {
	case hasBid:
		origin = model.SideSell
	case hasAsk:
		origin = model.SideBuy
	default:
		origin = e.orderSide(tick)
		hasOpposite = false
	}

	if err := e.addQuote(origin, tradePrice, volume); err != nil {
		return err
	}
	if hasOpposite {
		return nil
	}

	offset := e.priceStep().Mul(decimal.NewFromInt(int64(e.settings.SpreadSize)))
	if origin == model.SideSell {
		offset = offset.Neg()
	}
	if price := tradePrice.Add(offset); price.IsPositive() {
		return e.addQuote(origin.Invert(), price, volume)
	}
	return nil
}

// orderSide guesses the side of the resting order a tick hit.
func (e *Engine) orderSide(tick *model.Execution) model.Side {
	if tick.OriginSide != nil {
		return tick.OriginSide.Invert()
	}
	if tick.TradePrice.Decimal.GreaterThan(e.prevTickPrice) {
		return model.SideSell
	}
	return model.SideBuy
}

// cancelWorstQuote trims the synthetic volume of the worst level once the side outgrew MaxDepth.
func (e *Engine) cancelWorstQuote(side model.Side) {
	quotes := e.book.Side(side)
	if quotes.Len() <= e.settings.MaxDepth {
		return
	}
	worst, _ := quotes.Worst()
	volume := quotes.SyntheticVolume(worst)
	if volume.IsZero() {
		return
	}
	quotes.RemoveSynthetic(worst.Price, volume)
}

func (e *Engine) randomVolume() decimal.Decimal {
	return decimal.NewFromInt(int64(10 + e.rnd.Intn(90)))
}

func (e *Engine) randomSpreadMultiplier() decimal.Decimal {
	if e.settings.SpreadSize <= 1 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(1 + e.rnd.Intn(e.settings.SpreadSize-1)))
}

// updateSteps derives missing price and volume steps from the scale of observed values.
func (e *Engine) updateSteps(price decimal.Decimal, volume decimal.NullDecimal) {
	if !e.priceStepUpdated {
		e.def.PriceStep = stepOf(price)
		e.priceStepUpdated = true
		e.logger.Debug("price step inferred", zap.Stringer("step", e.def.PriceStep))
	}
	if !e.volumeStepUpdated && volume.Valid {
		e.def.VolumeStep = stepOf(volume.Decimal)
		e.volumeStepUpdated = true
	}
}

// stepOf is one unit of the last significant decimal place of v: 101.50 gives 0.1.
func stepOf(v decimal.Decimal) decimal.Decimal {
	s := v.Abs().String()
	scale := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		scale = len(s) - i - 1
	}
	return decimal.New(1, -int32(scale))
}

// updatePriceLimits publishes the daily price band around the first trade price of the day.
func (e *Engine) updatePriceLimits(exec *model.Execution, out *model.Batch) {
	offset := e.settings.PriceLimitOffset
	if !offset.IsPositive() {
		return
	}
	date := dateOf(exec.LocalTime)
	if !e.lastStripDate.IsZero() && e.lastStripDate.Equal(date) {
		return
	}

	var price decimal.Decimal
	switch exec.DataType {
	case model.DataTypeTicks, model.DataTypeOrderLog:
		if !exec.TradePrice.Valid {
			return
		}
		price = exec.TradePrice.Decimal
	default:
		return
	}
	e.lastStripDate = date

	step := e.priceStep()
	msg := (&model.Level1{
		Header:     model.Header{LocalTime: exec.LocalTime, ServerTime: exec.ServerTime},
		SecurityID: e.id,
	}).
		Set(model.Level1MinPrice, ShrinkPrice(price.Sub(offset), step)).
		Set(model.Level1MaxPrice, ShrinkPrice(price.Add(offset), step))
	e.host.UpdateLevel1(msg, out)
}

// ShrinkPrice rounds price to the nearest multiple of step, halves away from zero.
func ShrinkPrice(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Round(0).Mul(step)
}
