package model

import (
	"time"

	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
)

// Execution is the single vocabulary for order commands entering the matcher,
// order and trade reports leaving it, anonymous ticks and order-log entries.
type Execution struct {
	Header
	SecurityID SecurityID `json:"securityId"`
	DataType   DataType   `json:"dataType"`

	TransactionID         int64 `json:"transactionId,omitempty"`
	OriginalTransactionID int64 `json:"originalTransactionId,omitempty"`
	OrderID               int64 `json:"orderId,omitempty"`
	TradeID               int64 `json:"tradeId,omitempty"`

	Side        Side            `json:"side,omitempty"`
	OrderType   OrderType       `json:"orderType,omitempty"`
	TimeInForce TimeInForce     `json:"timeInForce,omitempty"`
	OrderPrice  decimal.Decimal `json:"orderPrice"`
	OrderVolume decimal.Decimal `json:"orderVolume"`
	// Balance is the unfilled remainder; invalid until the order is accepted.
	Balance        decimal.NullDecimal `json:"balance"`
	OrderState     OrderState          `json:"orderState,omitempty"`
	IsCancellation bool                `json:"isCancellation,omitempty"`

	TradePrice  decimal.NullDecimal `json:"tradePrice"`
	TradeVolume decimal.NullDecimal `json:"tradeVolume"`
	// OriginSide is the aggressor side of a tick when known.
	OriginSide *Side `json:"originSide,omitempty"`
	// IsMaker marks own trades where the order was the resting side.
	IsMaker bool `json:"isMaker,omitempty"`

	HasOrderInfo bool `json:"hasOrderInfo,omitempty"`
	HasTradeInfo bool `json:"hasTradeInfo,omitempty"`

	PortfolioName string              `json:"portfolio,omitempty"`
	UserOrderID   string              `json:"userOrderId,omitempty"`
	StrategyID    string              `json:"strategyId,omitempty"`
	ExpiryDate    *time.Time          `json:"expiryDate,omitempty"`
	Commission    decimal.NullDecimal `json:"commission"`
	Error         *errors.Error       `json:"error,omitempty"`
}

// GetBalance returns the balance when set, else the order volume.
func (e *Execution) GetBalance() decimal.Decimal {
	if e.Balance.Valid {
		return e.Balance.Decimal
	}
	return e.OrderVolume
}

// IsMarket reports whether the order ignores price limits.
func (e *Execution) IsMarket() bool {
	return e.OrderType == OrderTypeMarket
}

// IsCanceled reports an order that finished with volume left.
func (e *Execution) IsCanceled() bool {
	return e.OrderState == OrderStateDone && e.Balance.Valid && e.Balance.Decimal.IsPositive()
}

// Clone returns a deep copy.
func (e *Execution) Clone() *Execution {
	c := *e
	if e.OriginSide != nil {
		s := *e.OriginSide
		c.OriginSide = &s
	}
	if e.ExpiryDate != nil {
		t := *e.ExpiryDate
		c.ExpiryDate = &t
	}
	return &c
}

// SideRef returns a pointer to a copy of s.
func SideRef(s Side) *Side {
	return &s
}
