package portfolio

import (
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/shopspring/decimal"
)

// Market is the view of a security engine the ledger prices exposure with.
type Market interface {
	// MarginPrice is the price used to value open orders on side.
	MarginPrice(side model.Side) decimal.Decimal
	// Definition is the current instrument definition, nil when unknown.
	Definition() *model.SecurityDefinition
}

// position is the money info of one portfolio in one security.
type position struct {
	market Market

	BeginValue   decimal.Decimal
	Diff         decimal.Decimal
	AveragePrice decimal.Decimal
	TotalBids    decimal.Decimal
	TotalAsks    decimal.Decimal
}

func newPosition(market Market) *position {
	return &position{
		market:       market,
		BeginValue:   decimal.Zero,
		Diff:         decimal.Zero,
		AveragePrice: decimal.Zero,
		TotalBids:    decimal.Zero,
		TotalAsks:    decimal.Zero,
	}
}

// Current is the position held right now.
func (p *position) Current() decimal.Decimal {
	return p.BeginValue.Add(p.Diff)
}

// Price is the value of the held position at its average price.
func (p *position) Price() decimal.Decimal {
	pos := p.Current()
	if pos.IsZero() {
		return decimal.Zero
	}
	return pos.Abs().Mul(p.AveragePrice)
}

// TotalPrice is the money blocked by the position and the open orders.
func (p *position) TotalPrice() decimal.Decimal {
	return p.GetPrice(decimal.Zero, decimal.Zero)
}

// GetPrice is the money that would be blocked with buyVol and sellVol more on
// order. Orders that extend the position add to its value, orders that reduce
// it only count when they exceed it.
func (p *position) GetPrice(buyVol, sellVol decimal.Decimal) decimal.Decimal {
	total := p.Price()

	buyPrice := p.TotalBids.Add(buyVol).Mul(p.market.MarginPrice(model.SideBuy))
	sellPrice := p.TotalAsks.Add(sellVol).Mul(p.market.MarginPrice(model.SideSell))

	if total.IsZero() {
		return buyPrice.Add(sellPrice)
	}
	if p.Current().IsPositive() {
		return decimal.Max(total.Add(buyPrice), sellPrice)
	}
	return decimal.Max(total.Add(sellPrice), buyPrice)
}
