package portfolio

import (
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/shopspring/decimal"
)

// pnlQueue tracks one instrument with a weighted average position model.
type pnlQueue struct {
	position     decimal.Decimal
	averagePrice decimal.Decimal
	lastPrice    decimal.Decimal
	multiplier   decimal.Decimal
	realized     decimal.Decimal
}

func (q *pnlQueue) unrealized() decimal.Decimal {
	if q.position.IsZero() || q.lastPrice.IsZero() {
		return decimal.Zero
	}
	return q.lastPrice.Sub(q.averagePrice).Mul(q.position).Mul(q.multiplier)
}

// PnLManager computes realized and unrealized PnL of one portfolio from its
// own trades and the market prices it sees.
type PnLManager struct {
	queues   map[model.SecurityID]*pnlQueue
	realized decimal.Decimal
}

func NewPnLManager() *PnLManager {
	return &PnLManager{queues: make(map[model.SecurityID]*pnlQueue), realized: decimal.Zero}
}

func (m *PnLManager) queue(id model.SecurityID) *pnlQueue {
	q, ok := m.queues[id]
	if !ok {
		q = &pnlQueue{multiplier: decimal.NewFromInt(1)}
		m.queues[id] = q
	}
	return q
}

// ProcessTrade applies an own trade and returns the PnL it realized.
func (m *PnLManager) ProcessTrade(trade *model.Execution, multiplier decimal.Decimal) decimal.Decimal {
	if !trade.TradePrice.Valid || !trade.TradeVolume.Valid {
		return decimal.Zero
	}
	q := m.queue(trade.SecurityID)
	if multiplier.IsPositive() {
		q.multiplier = multiplier
	}
	price := trade.TradePrice.Decimal
	volume := trade.TradeVolume.Decimal
	signed := volume
	if trade.Side == model.SideSell {
		signed = signed.Neg()
	}
	q.lastPrice = price

	realized := decimal.Zero
	if q.position.IsZero() || q.position.Sign() == signed.Sign() {
		abs := q.position.Abs()
		q.averagePrice = q.averagePrice.Mul(abs).Add(price.Mul(volume)).Div(abs.Add(volume))
		q.position = q.position.Add(signed)
	} else {
		closed := decimal.Min(q.position.Abs(), volume)
		realized = price.Sub(q.averagePrice).Mul(closed).Mul(q.multiplier)
		if q.position.IsNegative() {
			realized = realized.Neg()
		}
		q.position = q.position.Add(signed)
		switch {
		case q.position.IsZero():
			q.averagePrice = decimal.Zero
		case volume.GreaterThan(closed):
			q.averagePrice = price
		}
	}
	q.realized = q.realized.Add(realized)
	m.realized = m.realized.Add(realized)
	return realized
}

// ProcessMessage updates market prices from ticks, level-1 last trades and books.
func (m *PnLManager) ProcessMessage(msg model.Message) {
	switch v := msg.(type) {
	case *model.Execution:
		if v.DataType != model.DataTypeTicks || !v.TradePrice.Valid {
			return
		}
		if q, ok := m.queues[v.SecurityID]; ok {
			q.lastPrice = v.TradePrice.Decimal
		}
	case *model.Level1:
		if p, ok := v.Get(model.Level1LastTradePrice); ok {
			if q, ok := m.queues[v.SecurityID]; ok {
				q.lastPrice = p
			}
		}
	case *model.OrderBookSnapshot:
		q, ok := m.queues[v.SecurityID]
		if !ok {
			return
		}
		bid, hasBid := v.BestBid()
		ask, hasAsk := v.BestAsk()
		switch {
		case hasBid && hasAsk:
			q.lastPrice = bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
		case hasBid:
			q.lastPrice = bid.Price
		case hasAsk:
			q.lastPrice = ask.Price
		}
	}
}

// RealizedPnL is the sum of closed trade results.
func (m *PnLManager) RealizedPnL() decimal.Decimal {
	return m.realized
}

// UnrealizedPnL marks the open positions to the last seen prices.
func (m *PnLManager) UnrealizedPnL() decimal.Decimal {
	sum := decimal.Zero
	for _, q := range m.queues {
		sum = sum.Add(q.unrealized())
	}
	return sum
}

// PnL is realized plus unrealized.
func (m *PnLManager) PnL() decimal.Decimal {
	return m.realized.Add(m.UnrealizedPnL())
}

// Reset forgets every position.
func (m *PnLManager) Reset() {
	m.queues = make(map[model.SecurityID]*pnlQueue)
	m.realized = decimal.Zero
}
