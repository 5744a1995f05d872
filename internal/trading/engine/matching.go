package engine

import (
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fill struct {
	price  decimal.Decimal
	volume decimal.Decimal
}

func fragmentOf(order *model.Execution) orderbook.Fragment {
	return orderbook.Fragment{
		TransactionID: order.TransactionID,
		Portfolio:     order.PortfolioName,
		Price:         order.OrderPrice,
		Volume:        order.OrderVolume,
		Balance:       order.GetBalance(),
	}
}

// crosses reports whether order may trade against a level at price.
func (e *Engine) crosses(order *model.Execution, price decimal.Decimal) bool {
	if order.IsMarket() {
		return true
	}
	if order.Side == model.SideBuy && price.GreaterThan(order.OrderPrice) {
		return false
	}
	if order.Side == model.SideSell && price.LessThan(order.OrderPrice) {
		return false
	}
	return e.settings.MatchOnTouch || !price.Equal(order.OrderPrice)
}

func isCross(order *model.Execution, f *orderbook.Fragment) bool {
	return f.IsUser() && strings.EqualFold(f.Portfolio, order.PortfolioName)
}

// matchable is the volume order could take in one pass without touching the
// book, and whether the pass stopped on an order of the same portfolio.
func (e *Engine) matchable(order *model.Execution, limit decimal.Decimal) (decimal.Decimal, bool) {
	quotes := e.book.Side(order.Side.Invert())
	sum := decimal.Zero
	crossed := false
	quotes.Scan(func(l *orderbook.Level) bool {
		if !e.crosses(order, l.Price) {
			return false
		}
		for _, h := range l.Handles() {
			f := quotes.Fragment(h)
			if isCross(order, f) {
				crossed = true
				return false
			}
			sum = sum.Add(f.Balance)
			if sum.GreaterThanOrEqual(limit) {
				return false
			}
		}
		return true
	})
	return sum, crossed
}

// matchOrder walks the opposite side best first and fills order in FIFO
// order inside each level. New orders trade at the level price, resting
// orders re-matched after a book change trade at their own price. Foreign
// aggressors (user false) only update their balance.
func (e *Engine) matchOrder(t time.Time, order *model.Execution, out *model.Batch, isNew, user bool) error {
	quotes := e.book.Side(order.Side.Invert())
	left := order.GetBalance()

	if user && order.TimeInForce == model.TimeInForceMatchOrCancel {
		if matched, crossed := e.matchable(order, left); matched.LessThan(left) {
			order.Balance = decimal.NewNullDecimal(left)
			order.OrderState = model.OrderStateDone
			e.logger.Info("fill or kill order not matched",
				zap.Int64("transaction_id", order.TransactionID),
				zap.Stringer("volume", left))
			out.Add(e.toOrder(t, order))
			if crossed {
				out.Add(e.toOrder(t, order))
			}
			return nil
		}
	}

	var fills []fill
	crossed := false
	for _, level := range quotes.Levels() {
		if !e.crosses(order, level.Price) {
			break
		}
		execPrice := level.Price
		if !isNew {
			execPrice = order.OrderPrice
		}
		for _, h := range level.Handles() {
			f := *quotes.Fragment(h)
			if user && isCross(order, &f) {
				e.logger.Warn("cross trade",
					zap.Int64("transaction_id", order.TransactionID),
					zap.Int64("resting_transaction_id", f.TransactionID),
					zap.String("portfolio", order.PortfolioName))
				crossed = true
				break
			}
			volume := decimal.Min(f.Balance, left)
			if _, err := quotes.Reduce(level, h, volume); err != nil {
				return internalf("match order %d: %v", order.TransactionID, err)
			}
			left = left.Sub(volume)
			if user {
				fills = append(fills, fill{price: execPrice, volume: volume})
				e.logger.Debug("fill",
					zap.Int64("transaction_id", order.TransactionID),
					zap.Stringer("price", execPrice),
					zap.Stringer("volume", volume))
			}
			if f.IsUser() {
				if err := e.fillPassive(t, f, volume, !user, out); err != nil {
					return err
				}
			}
			if left.IsZero() {
				break
			}
		}
		quotes.Prune(level)
		if crossed || left.IsZero() {
			break
		}
	}

	order.Balance = decimal.NewNullDecimal(left)
	if !user {
		return nil
	}

	switch order.TimeInForce {
	case model.TimeInForceMatchOrCancel, model.TimeInForceCancelBalance:
		order.OrderState = model.OrderStateDone
		out.Add(e.toOrder(t, order))
	default:
		if len(fills) > 0 {
			if left.IsZero() {
				order.OrderState = model.OrderStateDone
			}
			out.Add(e.toOrder(t, order))
		}
		if order.IsMarket() && left.IsPositive() {
			e.logger.Info("market order remainder cancelled",
				zap.Int64("transaction_id", order.TransactionID),
				zap.Stringer("balance", left))
			order.OrderState = model.OrderStateDone
			out.Add(e.toOrder(t, order))
		}
	}

	// a cross closes the order with its own Done report, on top of any
	// report the time in force already produced
	if crossed {
		order.OrderState = model.OrderStateDone
		out.Add(e.toOrder(t, order))
	}

	for _, f := range fills {
		if err := e.processOwnTrade(t, order, f.price, f.volume, false, true, out); err != nil {
			return err
		}
	}
	return nil
}

// fillPassive applies volume taken from the resting user fragment f. The tick
// is printed by the aggressor when it is a user order itself.
func (e *Engine) fillPassive(t time.Time, f orderbook.Fragment, volume decimal.Decimal, printTick bool, out *model.Batch) error {
	order, ok := e.active.Get(f.TransactionID)
	if !ok {
		return internalf("resting fragment %d has no active order", f.TransactionID)
	}
	left := order.GetBalance().Sub(volume)
	if left.IsNegative() {
		return internalf("passive fill %s exceeds balance of order %d", volume, order.TransactionID)
	}
	order.Balance = decimal.NewNullDecimal(left)
	if left.IsZero() {
		order.OrderState = model.OrderStateDone
		e.active.Delete(order.TransactionID)
		e.expirable.Delete(order.TransactionID)
	}
	out.Add(e.toOrder(t, order))
	return e.processOwnTrade(t, order, f.Price, volume, true, printTick, out)
}

// processOwnTrade emits the trade report of order, books it on the
// portfolio and prints the matching anonymous tick.
func (e *Engine) processOwnTrade(t time.Time, order *model.Execution, price, volume decimal.Decimal, isMaker, printTick bool, out *model.Batch) error {
	if !volume.IsPositive() {
		return internalf("non-positive fill volume %s for order %d", volume, order.TransactionID)
	}
	serverTime := e.serverTime(t)
	trade := &model.Execution{
		Header:                model.Header{LocalTime: t, ServerTime: serverTime},
		SecurityID:            e.id,
		DataType:              model.DataTypeTransactions,
		HasTradeInfo:          true,
		OrderID:               order.OrderID,
		OriginalTransactionID: order.TransactionID,
		TradeID:               e.host.NextTradeID(),
		TradePrice:            decimal.NewNullDecimal(price),
		TradeVolume:           decimal.NewNullDecimal(volume),
		Side:                  order.Side,
		IsMaker:               isMaker,
		PortfolioName:         order.PortfolioName,
		StrategyID:            order.StrategyID,
	}
	out.Add(trade)
	e.logger.Info("own trade",
		zap.Int64("trade_id", trade.TradeID),
		zap.Int64("order_id", order.OrderID),
		zap.Stringer("price", price),
		zap.Stringer("volume", volume),
		zap.Bool("maker", isMaker))

	e.host.Ledger(order.PortfolioName).ProcessTrade(order.Side, trade, out)
	if !printTick {
		return nil
	}

	origin := order.Side
	if isMaker {
		origin = origin.Invert()
	}
	out.Add(&model.Execution{
		Header:      model.Header{LocalTime: t, ServerTime: serverTime},
		SecurityID:  e.id,
		DataType:    model.DataTypeTicks,
		TradeID:     trade.TradeID,
		TradePrice:  trade.TradePrice,
		TradeVolume: trade.TradeVolume,
		OriginSide:  model.SideRef(origin),
	})
	return nil
}

// updateQuotes applies a foreign order-log entry: resting user orders are
// re-matched first, then the entry itself matches as an anonymous aggressor.
func (e *Engine) updateQuotes(msg *model.Execution, out *model.Batch) error {
	if !msg.OrderVolume.IsPositive() {
		return internalf("order log entry with volume %s", msg.OrderVolume)
	}
	t := msg.LocalTime
	side := e.book.Side(msg.Side)

	if msg.IsCancellation {
		if msg.TransactionID != 0 {
			side.RemoveTransaction(msg.OrderPrice, msg.TransactionID)
		} else {
			side.RemoveSynthetic(msg.OrderPrice, msg.OrderVolume)
		}
		return nil
	}

	for _, order := range e.active.Values() {
		if _, ok := e.active.Get(order.TransactionID); !ok {
			continue
		}
		before := order.GetBalance()
		if err := e.matchOrder(t, order, out, false, true); err != nil {
			return err
		}
		if order.OrderState == model.OrderStateDone {
			e.unrest(order)
			if order.IsCanceled() {
				balance := order.Balance.Decimal
				e.host.Ledger(order.PortfolioName).ProcessOrder(order, &balance, out)
			}
			continue
		}
		if filled := before.Sub(order.GetBalance()); filled.IsPositive() {
			if err := e.reduceResting(order, filled); err != nil {
				return err
			}
		}
	}

	foreign := msg.Clone()
	foreign.Balance = decimal.NewNullDecimal(msg.OrderVolume)
	if err := e.matchOrder(t, foreign, out, true, false); err != nil {
		return err
	}
	if foreign.GetBalance().IsPositive() && !foreign.IsMarket() &&
		(foreign.TimeInForce == "" || foreign.TimeInForce == model.TimeInForcePutInQueue) {
		side.Add(orderbook.Fragment{
			TransactionID: foreign.TransactionID,
			Price:         foreign.OrderPrice,
			Volume:        foreign.OrderVolume,
			Balance:       foreign.GetBalance(),
		})
	}
	return nil
}

// reduceResting keeps the book fragment of a resting order in line with its balance.
func (e *Engine) reduceResting(order *model.Execution, volume decimal.Decimal) error {
	side := e.book.Side(order.Side)
	level, ok := side.Level(order.OrderPrice)
	if !ok {
		return internalf("resting order %d has no level at %s", order.TransactionID, order.OrderPrice)
	}
	h, ok := level.ByTransaction(order.TransactionID)
	if !ok {
		return internalf("resting order %d has no fragment", order.TransactionID)
	}
	if _, err := side.Reduce(level, h, volume); err != nil {
		return internalf("reduce resting order %d: %v", order.TransactionID, err)
	}
	side.Prune(level)
	return nil
}
