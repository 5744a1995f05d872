package simulator

import (
	"github.com/Aidin1998/pincex_sim/internal/trading/engine"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ engine.Host = (*Router)(nil)

// securityState is the level-1 state the router validates orders against.
type securityState struct {
	priceStep  decimal.NullDecimal
	volumeStep decimal.NullDecimal
	minPrice   decimal.NullDecimal
	maxPrice   decimal.NullDecimal
	marginBuy  decimal.NullDecimal
	marginSell decimal.NullDecimal
	state      model.SecurityState
}

func (r *Router) NextOrderID() int64 {
	r.orderID++
	return r.orderID
}

func (r *Router) NextTradeID() int64 {
	r.tradeID++
	return r.tradeID
}

func (r *Router) Ledger(name string) engine.Ledger {
	return r.ledger(r.portfolioName(name))
}

func (r *Router) Board(code string) *model.BoardDefinition {
	return r.boards[code]
}

// MarginPrice returns the MarginBuy/MarginSell override of id.
func (r *Router) MarginPrice(id model.SecurityID, side model.Side) (decimal.Decimal, bool) {
	st, ok := r.secStates[id]
	if !ok {
		return decimal.Zero, false
	}
	price := st.marginSell
	if side == model.SideBuy {
		price = st.marginBuy
	}
	return price.Decimal, price.Valid
}

// UpdateLevel1 records the price limits published by an engine.
func (r *Router) UpdateLevel1(msg *model.Level1, out *model.Batch) {
	r.updateLevel1Info(msg, out, true)
}

func (r *Router) updateLevel1Info(msg *model.Level1, out *model.Batch, addToResult bool) {
	st, ok := r.secStates[msg.SecurityID]
	if !ok {
		st = &securityState{}
		r.secStates[msg.SecurityID] = st
	}

	marginChanged := false
	for _, field := range model.Level1Fields {
		value, ok := msg.Get(field)
		if !ok {
			continue
		}
		switch field {
		case model.Level1PriceStep:
			st.priceStep = decimal.NewNullDecimal(value)
		case model.Level1VolumeStep:
			st.volumeStep = decimal.NewNullDecimal(value)
		case model.Level1MinPrice:
			st.minPrice = decimal.NewNullDecimal(value)
		case model.Level1MaxPrice:
			st.maxPrice = decimal.NewNullDecimal(value)
		case model.Level1MarginBuy:
			if !st.marginBuy.Valid || !st.marginBuy.Decimal.Equal(value) {
				st.marginBuy = decimal.NewNullDecimal(value)
				marginChanged = true
			}
		case model.Level1MarginSell:
			if !st.marginSell.Valid || !st.marginSell.Decimal.Equal(value) {
				st.marginSell = decimal.NewNullDecimal(value)
				marginChanged = true
			}
		}
	}
	if msg.State != "" && r.settings.CheckTradingState {
		st.state = msg.State
	}

	if addToResult {
		out.Add(msg)
	}
	if !marginChanged {
		return
	}
	r.logger.Debug("margin changed", zap.Stringer("security", msg.SecurityID))
	for _, name := range r.ledgerOrder {
		r.ledgers[name].ProcessMarginChange(msg.LocalTime, msg.SecurityID, out)
	}
}

// CheckRegistration validates a registration against the board session,
// the security state and definition, the level-1 price band and finally the portfolio.
func (r *Router) CheckRegistration(order *model.Execution, def *model.SecurityDefinition) *errors.Error {
	id := order.SecurityID

	if r.settings.CheckTradingState {
		if board, ok := r.boards[id.Board]; ok && !board.IsTradeTime(order.ServerTime) {
			return errors.ErrMarketClosed.Explain("board %s is not trading at %s", id.Board, order.ServerTime)
		}
	}

	st := r.secStates[id]
	if st != nil && st.state == model.SecurityStopped {
		return errors.ErrSecurityStopped.Explain("security %s is stopped", id)
	}
	if def != nil && def.BasketCode != "" {
		return errors.ErrNonTradable.Explain("security %s is a basket", id)
	}

	if !order.OrderVolume.IsPositive() {
		return errors.ErrInvalidOrder.Explain("order %d volume %s must be positive", order.TransactionID, order.OrderVolume).
			WithField("volume", order.OrderVolume.String(), "must be positive")
	}
	if !order.IsMarket() && !order.OrderPrice.IsPositive() {
		return errors.ErrInvalidOrder.Explain("order %d price %s must be positive", order.TransactionID, order.OrderPrice).
			WithField("price", order.OrderPrice.String(), "must be positive")
	}

	var priceStep, volumeStep, minVolume, maxVolume decimal.Decimal
	if def != nil {
		priceStep, volumeStep = def.PriceStep, def.VolumeStep
		minVolume, maxVolume = def.MinVolume, def.MaxVolume
	}

	if st != nil && !order.IsMarket() {
		if st.minPrice.Valid && st.minPrice.Decimal.IsPositive() && order.OrderPrice.LessThan(st.minPrice.Decimal) {
			return errors.ErrInvalidOrder.Explain("order %d price %s is below the minimum %s",
				order.TransactionID, order.OrderPrice, st.minPrice.Decimal)
		}
		if st.maxPrice.Valid && st.maxPrice.Decimal.IsPositive() && order.OrderPrice.GreaterThan(st.maxPrice.Decimal) {
			return errors.ErrInvalidOrder.Explain("order %d price %s is above the maximum %s",
				order.TransactionID, order.OrderPrice, st.maxPrice.Decimal)
		}
		if !priceStep.IsPositive() && st.priceStep.Valid {
			priceStep = st.priceStep.Decimal
		}
	}
	if priceStep.IsPositive() && !order.OrderPrice.Mod(priceStep).IsZero() {
		return errors.ErrInvalidOrder.Explain("order %d price %s is not a multiple of the price step %s",
			order.TransactionID, order.OrderPrice, priceStep).
			WithField("price", order.OrderPrice.String(), "not a multiple of the price step")
	}

	if !volumeStep.IsPositive() && st != nil && st.volumeStep.Valid {
		volumeStep = st.volumeStep.Decimal
	}
	if volumeStep.IsPositive() && !order.OrderVolume.Mod(volumeStep).IsZero() {
		return errors.ErrInvalidOrder.Explain("order %d volume %s is not a multiple of the volume step %s",
			order.TransactionID, order.OrderVolume, volumeStep).
			WithField("volume", order.OrderVolume.String(), "not a multiple of the volume step")
	}
	if minVolume.IsPositive() && order.OrderVolume.LessThan(minVolume) {
		return errors.ErrInvalidOrder.Explain("order %d volume %s is less than the minimum %s",
			order.TransactionID, order.OrderVolume, minVolume)
	}
	if maxVolume.IsPositive() && order.OrderVolume.GreaterThan(maxVolume) {
		return errors.ErrInvalidOrder.Explain("order %d volume %s is more than the maximum %s",
			order.TransactionID, order.OrderVolume, maxVolume)
	}

	return r.ledger(r.portfolioName(order.PortfolioName)).CheckRegistration(order)
}
