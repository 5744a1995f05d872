package engine

import (
	"sort"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/orderbook"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// processQuoteChange reconciles the book with a new snapshot. Differences are
// applied as order-log entries, ordered against the direction the spread moved
// so that bids and asks never overlap on the way. Removals only take synthetic
// volume, so user orders survive a snapshot that no longer shows them.
func (e *Engine) processQuoteChange(msg *model.OrderBookSnapshot, out *model.Batch, markDepth bool) error {
	if !e.priceStepUpdated || !e.volumeStepUpdated {
		quote, ok := msg.BestBid()
		if !ok {
			quote, ok = msg.BestAsk()
		}
		if ok {
			e.updateSteps(quote.Price, decimal.NewNullDecimal(quote.Volume))
		}
	}
	if markDepth {
		e.lastDepthDate = dateOf(msg.LocalTime)
	}

	d := differ{engine: e, t: msg.LocalTime, serverTime: msg.ServerTime}
	bestBid := d.side(e.book.Bids, msg.Bids)
	bestAsk := d.side(e.book.Asks, msg.Asks)

	spread := bestBid
	switch {
	case bestAsk.IsZero():
	case bestBid.IsZero():
		spread = bestAsk
	default:
		spread = bestAsk.Sub(bestBid).Div(two).Add(bestBid)
	}

	ascending := spread.LessThan(e.currSpreadPrice)
	sort.SliceStable(d.diff, func(i, j int) bool {
		if ascending {
			return d.diff[i].OrderPrice.LessThan(d.diff[j].OrderPrice)
		}
		return d.diff[i].OrderPrice.GreaterThan(d.diff[j].OrderPrice)
	})

	for _, m := range d.diff {
		if m.DataType == model.DataTypeTicks {
			out.Add(m)
			continue
		}
		if err := e.processExecution(m, out); err != nil {
			return err
		}
	}
	e.currSpreadPrice = spread

	e.addDepthSnapshot(msg.LocalTime, msg.ServerTime, out)
	return nil
}

type differ struct {
	engine     *Engine
	t          time.Time
	serverTime time.Time
	diff       []*model.Execution
}

type diffQuote struct {
	price  decimal.Decimal
	volume decimal.Decimal
}

// side merge-joins the held levels, user volume included, with the target
// quotes, both best first, and returns the new best price (zero when the
// target is empty).
func (d *differ) side(held *orderbook.BookSide, target []model.Quote) decimal.Decimal {
	side := held.Side()

	var from []diffQuote
	held.Scan(func(l *orderbook.Level) bool {
		if l.Volume.IsPositive() {
			from = append(from, diffQuote{price: l.Price, volume: l.Volume})
		}
		return true
	})

	to := make([]diffQuote, 0, len(target))
	for _, q := range target {
		if q.Volume.IsPositive() && q.Price.IsPositive() {
			to = append(to, diffQuote{price: q.Price, volume: q.Volume})
		}
	}
	sort.SliceStable(to, func(i, j int) bool {
		if side == model.SideBuy {
			return to[i].price.GreaterThan(to[j].price)
		}
		return to[i].price.LessThan(to[j].price)
	})

	newBest := decimal.Zero
	if len(to) > 0 {
		newBest = to[0].price
	}

	// only the first held level is the spread level
	isSpread := func(i int) bool { return i == 0 }

	i, j := 0, 0
	for i < len(from) || j < len(to) {
		switch {
		case i >= len(from):
			d.add(side, to[j].price, to[j].volume, false)
			j++
		case j >= len(to):
			d.add(side, from[i].price, from[i].volume.Neg(), isSpread(i))
			i++
		case from[i].price.Equal(to[j].price):
			if !from[i].volume.Equal(to[j].volume) {
				d.add(side, to[j].price, to[j].volume.Sub(from[i].volume), isSpread(i))
			}
			i++
			j++
		case betterThan(side, to[j].price, from[i].price):
			d.add(side, to[j].price, to[j].volume, isSpread(i))
			j++
		default:
			d.add(side, from[i].price, from[i].volume.Neg(), isSpread(i))
			i++
		}
	}
	return newBest
}

// add records a volume change at price. Removing volume from the spread
// level sometimes prints a trade for half of it.
func (d *differ) add(side model.Side, price, volume decimal.Decimal, isSpread bool) {
	e := d.engine
	if volume.IsPositive() {
		d.diff = append(d.diff, e.orderLogEntry(d.t, d.serverTime, side, price, volume, false))
		return
	}
	volume = volume.Abs()

	if isSpread && volume.GreaterThan(decimal.NewFromInt(1)) && e.rnd.Intn(2) == 0 {
		if tradeVolume := volume.IntPart() / 2; tradeVolume > 0 {
			d.diff = append(d.diff, &model.Execution{
				Header:      model.Header{LocalTime: d.t, ServerTime: d.serverTime},
				SecurityID:  e.id,
				DataType:    model.DataTypeTicks,
				Side:        side,
				TradePrice:  decimal.NewNullDecimal(price),
				TradeVolume: decimal.NewNullDecimal(decimal.NewFromInt(tradeVolume)),
			})
		}
	}
	d.diff = append(d.diff, e.orderLogEntry(d.t, d.serverTime, side, price, volume, true))
}

// betterThan reports whether a is closer to the spread than b on side.
func betterThan(side model.Side, a, b decimal.Decimal) bool {
	if side == model.SideBuy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// processLevel1 applies definition fields, turns a last trade into a tick and
// best bid/ask changes into a one-level snapshot while no real depth arrived today.
func (e *Engine) processLevel1(msg *model.Level1, out *model.Batch) error {
	e.updateDefinitionFromLevel1(msg)

	if msg.HasTick() {
		return e.processTick(msg.ToTick(), out)
	}
	if !msg.HasQuotes() || e.hasDepth(msg.LocalTime) {
		return nil
	}

	prevBidPrice, prevBidVolume := e.prevBidPrice, e.prevBidVolume
	prevAskPrice, prevAskVolume := e.prevAskPrice, e.prevAskVolume

	pick := func(field model.Level1Field, prev decimal.NullDecimal) decimal.NullDecimal {
		if v, ok := msg.Get(field); ok {
			return decimal.NewNullDecimal(v)
		}
		return prev
	}
	e.prevBidPrice = pick(model.Level1BestBidPrice, e.prevBidPrice)
	e.prevBidVolume = pick(model.Level1BestBidVolume, e.prevBidVolume)
	e.prevAskPrice = pick(model.Level1BestAskPrice, e.prevAskPrice)
	e.prevAskVolume = pick(model.Level1BestAskVolume, e.prevAskVolume)
	if e.prevBidPrice.Valid && e.prevBidPrice.Decimal.IsZero() {
		e.prevBidPrice = decimal.NullDecimal{}
	}
	if e.prevAskPrice.Valid && e.prevAskPrice.Decimal.IsZero() {
		e.prevAskPrice = decimal.NullDecimal{}
	}

	if nullEqual(prevBidPrice, e.prevBidPrice) && nullEqual(prevBidVolume, e.prevBidVolume) &&
		nullEqual(prevAskPrice, e.prevAskPrice) && nullEqual(prevAskVolume, e.prevAskVolume) {
		return nil
	}

	snapshot := &model.OrderBookSnapshot{Header: msg.Header, SecurityID: e.id}
	if e.prevBidPrice.Valid {
		snapshot.Bids = []model.Quote{{Price: e.prevBidPrice.Decimal, Volume: e.prevBidVolume.Decimal}}
	}
	if e.prevAskPrice.Valid {
		snapshot.Asks = []model.Quote{{Price: e.prevAskPrice.Decimal, Volume: e.prevAskVolume.Decimal}}
	}
	return e.processQuoteChange(snapshot, out, false)
}

func (e *Engine) updateDefinitionFromLevel1(msg *model.Level1) {
	if v, ok := msg.Get(model.Level1PriceStep); ok && v.IsPositive() {
		e.def.PriceStep = v
		e.priceStepUpdated = true
		e.lastStripDate = time.Time{}
	}
	if v, ok := msg.Get(model.Level1VolumeStep); ok && v.IsPositive() {
		e.def.VolumeStep = v
		e.volumeStepUpdated = true
	}
	if v, ok := msg.Get(model.Level1MinVolume); ok {
		e.def.MinVolume = v
	}
	if v, ok := msg.Get(model.Level1MaxVolume); ok {
		e.def.MaxVolume = v
	}
	if v, ok := msg.Get(model.Level1Multiplier); ok {
		e.def.Multiplier = v
	}
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
