package model

import (
	"fmt"
	"time"

	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
)

// Kind is the discriminator of the message union.
type Kind string

const (
	KindReset                      Kind = "Reset"
	KindConnect                    Kind = "Connect"
	KindTimeTick                   Kind = "TimeTick"
	KindSecurityDefinition         Kind = "SecurityDefinition"
	KindBoardDefinition            Kind = "BoardDefinition"
	KindBoardState                 Kind = "BoardState"
	KindLevel1                     Kind = "Level1"
	KindOrderBookSnapshot          Kind = "OrderBookSnapshot"
	KindExecution                  Kind = "Execution"
	KindOrderRegister              Kind = "OrderRegister"
	KindOrderReplace               Kind = "OrderReplace"
	KindOrderCancel                Kind = "OrderCancel"
	KindOrderGroupCancel           Kind = "OrderGroupCancel"
	KindOrderStatusRequest         Kind = "OrderStatusRequest"
	KindMarketDataSubscription     Kind = "MarketDataSubscription"
	KindCandle                     Kind = "Candle"
	KindPortfolioLookup            Kind = "PortfolioLookup"
	KindPortfolioInfo              Kind = "PortfolioInfo"
	KindPositionChange             Kind = "PositionChange"
	KindCommissionRuleRegistration Kind = "CommissionRuleRegistration"
	KindSubscriptionResponse       Kind = "SubscriptionResponse"
	KindSubscriptionOnline         Kind = "SubscriptionOnline"
	KindSubscriptionFinished       Kind = "SubscriptionFinished"
	KindErrorReport                Kind = "ErrorReport"
)

// Header carries the timestamps shared by every message.
type Header struct {
	// LocalTime is the simulated time the message was produced or received at.
	LocalTime time.Time `json:"localTime"`
	// ServerTime is the exchange time, converted when time conversion is on.
	ServerTime time.Time `json:"serverTime"`
}

// Head gives access to the embedded header.
func (h *Header) Head() *Header { return h }

func (h *Header) sealed() {}

// Message is the closed set of values the simulator consumes and produces.
// Only types of this package embed Header, so a type switch over the
// concrete types below is exhaustive.
type Message interface {
	Kind() Kind
	Head() *Header
	sealed()
}

// Batch is the ordered output sink of a processing step.
type Batch []Message

// Add appends messages to the batch.
func (b *Batch) Add(msgs ...Message) {
	*b = append(*b, msgs...)
}

type Reset struct{ Header }

type Connect struct{ Header }

// TimeTick advances simulated time without carrying data.
type TimeTick struct{ Header }

// SecurityDefinition describes an instrument. Zero decimals mean "not provided".
type SecurityDefinition struct {
	Header
	SecurityID SecurityID      `json:"securityId"`
	PriceStep  decimal.Decimal `json:"priceStep"`
	VolumeStep decimal.Decimal `json:"volumeStep"`
	MinVolume  decimal.Decimal `json:"minVolume"`
	MaxVolume  decimal.Decimal `json:"maxVolume"`
	Multiplier decimal.Decimal `json:"multiplier"`
	// BasketCode is set for synthetic basket instruments, which cannot be traded.
	BasketCode string `json:"basketCode,omitempty"`
	// Shortable is nil when unknown.
	Shortable *bool `json:"shortable,omitempty"`
}

// Clone returns a deep copy.
func (m *SecurityDefinition) Clone() *SecurityDefinition {
	c := *m
	if m.Shortable != nil {
		v := *m.Shortable
		c.Shortable = &v
	}
	return &c
}

// BoardDefinition describes a trading venue.
type BoardDefinition struct {
	Header
	Code string `json:"code"`
	// TimeZone is an IANA zone name, used for trading periods and time conversion.
	TimeZone string          `json:"timeZone,omitempty"`
	Periods  []TradingPeriod `json:"periods,omitempty"`
}

type BoardState struct {
	Header
	// Board is empty for a state that applies to every board.
	Board string       `json:"board,omitempty"`
	State SessionState `json:"state"`
}

// Level1 carries top-of-book and reference field changes.
type Level1 struct {
	Header
	SecurityID SecurityID                      `json:"securityId"`
	Changes    map[Level1Field]decimal.Decimal `json:"changes,omitempty"`
	// State is empty when unchanged.
	State SecurityState `json:"state,omitempty"`
}

// Set records a field change and returns the message for chaining.
func (m *Level1) Set(field Level1Field, value decimal.Decimal) *Level1 {
	if m.Changes == nil {
		m.Changes = make(map[Level1Field]decimal.Decimal)
	}
	m.Changes[field] = value
	return m
}

// Get returns the value of field when present.
func (m *Level1) Get(field Level1Field) (decimal.Decimal, bool) {
	v, ok := m.Changes[field]
	return v, ok
}

// HasTick reports whether the message carries a last trade price.
func (m *Level1) HasTick() bool {
	_, ok := m.Changes[Level1LastTradePrice]
	return ok
}

// HasQuotes reports whether the message carries any best bid/ask field.
func (m *Level1) HasQuotes() bool {
	for _, f := range []Level1Field{Level1BestBidPrice, Level1BestBidVolume, Level1BestAskPrice, Level1BestAskVolume} {
		if _, ok := m.Changes[f]; ok {
			return true
		}
	}
	return false
}

// ToTick converts the last trade fields into a tick execution.
func (m *Level1) ToTick() *Execution {
	tick := &Execution{
		Header:     m.Header,
		SecurityID: m.SecurityID,
		DataType:   DataTypeTicks,
	}
	if p, ok := m.Changes[Level1LastTradePrice]; ok {
		tick.TradePrice = decimal.NewNullDecimal(p)
	}
	if v, ok := m.Changes[Level1LastTradeVolume]; ok {
		tick.TradeVolume = decimal.NewNullDecimal(v)
	}
	return tick
}

// OrderBookSnapshot is a full two-sided book. Bids are best first (descending),
// asks are best first (ascending).
type OrderBookSnapshot struct {
	Header
	SecurityID SecurityID `json:"securityId"`
	Bids       []Quote    `json:"bids"`
	Asks       []Quote    `json:"asks"`
}

// BestBid returns the first bid when present.
func (m *OrderBookSnapshot) BestBid() (Quote, bool) {
	if len(m.Bids) == 0 {
		return Quote{}, false
	}
	return m.Bids[0], true
}

// BestAsk returns the first ask when present.
func (m *OrderBookSnapshot) BestAsk() (Quote, bool) {
	if len(m.Asks) == 0 {
		return Quote{}, false
	}
	return m.Asks[0], true
}

type OrderRegister struct {
	Header
	SecurityID    SecurityID      `json:"securityId"`
	TransactionID int64           `json:"transactionId"`
	Side          Side            `json:"side"`
	OrderType     OrderType       `json:"orderType,omitempty"`
	TimeInForce   TimeInForce     `json:"timeInForce,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
	PortfolioName string          `json:"portfolio"`
	UserOrderID   string          `json:"userOrderId,omitempty"`
	StrategyID    string          `json:"strategyId,omitempty"`
	// ExpiryDate keeps the order alive until the end of that day.
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

// OrderReplace cancels the order registered by OriginalTransactionID and
// registers a new one. A zero Volume inherits the old order's balance.
type OrderReplace struct {
	Header
	SecurityID            SecurityID      `json:"securityId"`
	TransactionID         int64           `json:"transactionId"`
	OriginalTransactionID int64           `json:"originalTransactionId"`
	OldOrderID            int64           `json:"oldOrderId,omitempty"`
	Side                  Side            `json:"side"`
	OrderType             OrderType       `json:"orderType,omitempty"`
	TimeInForce           TimeInForce     `json:"timeInForce,omitempty"`
	Price                 decimal.Decimal `json:"price"`
	Volume                decimal.Decimal `json:"volume"`
	PortfolioName         string          `json:"portfolio"`
	UserOrderID           string          `json:"userOrderId,omitempty"`
	StrategyID            string          `json:"strategyId,omitempty"`
	ExpiryDate            *time.Time      `json:"expiryDate,omitempty"`
}

type OrderCancel struct {
	Header
	SecurityID            SecurityID `json:"securityId"`
	TransactionID         int64      `json:"transactionId"`
	OriginalTransactionID int64      `json:"originalTransactionId"`
	OrderID               int64      `json:"orderId,omitempty"`
	PortfolioName         string     `json:"portfolio"`
	OrderType             OrderType  `json:"orderType,omitempty"`
	StrategyID            string     `json:"strategyId,omitempty"`
}

// OrderGroupCancel cancels every active order matching the optional filters.
type OrderGroupCancel struct {
	Header
	TransactionID int64 `json:"transactionId"`
	// SecurityID limits the cancel to one instrument when set.
	SecurityID    SecurityID `json:"securityId"`
	PortfolioName string     `json:"portfolio,omitempty"`
	Side          Side       `json:"side,omitempty"`
}

type OrderStatusRequest struct {
	Header
	TransactionID int64  `json:"transactionId"`
	PortfolioName string `json:"portfolio,omitempty"`
	OrderID       int64  `json:"orderId,omitempty"`
	// IsUnsubscribe requests are acknowledged by nothing.
	IsUnsubscribe bool `json:"isUnsubscribe,omitempty"`
}

type MarketDataSubscription struct {
	Header
	SecurityID            SecurityID     `json:"securityId"`
	TransactionID         int64          `json:"transactionId"`
	OriginalTransactionID int64          `json:"originalTransactionId,omitempty"`
	DataType              MarketDataType `json:"dataType"`
	IsSubscribe           bool           `json:"isSubscribe"`
}

// Candle is a time-frame bar. It is converted into ticks by the engine.
type Candle struct {
	Header
	SecurityID   SecurityID          `json:"securityId"`
	OpenTime     time.Time           `json:"openTime"`
	CloseTime    time.Time           `json:"closeTime"`
	Open         decimal.Decimal     `json:"open"`
	High         decimal.Decimal     `json:"high"`
	Low          decimal.Decimal     `json:"low"`
	Close        decimal.Decimal     `json:"close"`
	TotalVolume  decimal.Decimal     `json:"totalVolume"`
	OpenInterest decimal.NullDecimal `json:"openInterest"`
}

type PortfolioLookup struct {
	Header
	TransactionID int64 `json:"transactionId"`
	// PortfolioName is empty to look up every portfolio.
	PortfolioName string `json:"portfolio,omitempty"`
	IsUnsubscribe bool   `json:"isUnsubscribe,omitempty"`
}

type PortfolioInfo struct {
	Header
	PortfolioName         string `json:"portfolio"`
	OriginalTransactionID int64  `json:"originalTransactionId,omitempty"`
}

// PositionChange reports money (SecurityID == MoneyID) or per-instrument values.
type PositionChange struct {
	Header
	PortfolioName         string                            `json:"portfolio"`
	SecurityID            SecurityID                        `json:"securityId"`
	OriginalTransactionID int64                             `json:"originalTransactionId,omitempty"`
	StrategyID            string                            `json:"strategyId,omitempty"`
	Changes               map[PositionField]decimal.Decimal `json:"changes"`
}

// Add records a field value and returns the message for chaining.
func (m *PositionChange) Add(field PositionField, value decimal.Decimal) *PositionChange {
	if m.Changes == nil {
		m.Changes = make(map[PositionField]decimal.Decimal)
	}
	m.Changes[field] = value
	return m
}

// TryAdd records a non-zero value only.
func (m *PositionChange) TryAdd(field PositionField, value decimal.Decimal) *PositionChange {
	if value.IsZero() {
		return m
	}
	return m.Add(field, value)
}

// Get returns a field value when present.
func (m *PositionChange) Get(field PositionField) (decimal.Decimal, bool) {
	v, ok := m.Changes[field]
	return v, ok
}

// IsMoney reports whether the change is about portfolio money.
func (m *PositionChange) IsMoney() bool {
	return m.SecurityID.IsMoney()
}

// Clone returns a deep copy.
func (m *PositionChange) Clone() *PositionChange {
	c := *m
	c.Changes = make(map[PositionField]decimal.Decimal, len(m.Changes))
	for k, v := range m.Changes {
		c.Changes[k] = v
	}
	return &c
}

type CommissionRuleRegistration struct {
	Header
	Rule CommissionRule `json:"rule"`
}

type SubscriptionResponse struct {
	Header
	OriginalTransactionID int64         `json:"originalTransactionId"`
	Error                 *errors.Error `json:"error,omitempty"`
}

type SubscriptionOnline struct {
	Header
	OriginalTransactionID int64 `json:"originalTransactionId"`
}

type SubscriptionFinished struct {
	Header
	OriginalTransactionID int64 `json:"originalTransactionId"`
}

// ErrorReport replaces the output of an input message aborted by an internal error.
type ErrorReport struct {
	Header
	InputKind Kind   `json:"inputKind"`
	Error     string `json:"error"`
}

func (*Reset) Kind() Kind                      { return KindReset }
func (*Connect) Kind() Kind                    { return KindConnect }
func (*TimeTick) Kind() Kind                   { return KindTimeTick }
func (*SecurityDefinition) Kind() Kind         { return KindSecurityDefinition }
func (*BoardDefinition) Kind() Kind            { return KindBoardDefinition }
func (*BoardState) Kind() Kind                 { return KindBoardState }
func (*Level1) Kind() Kind                     { return KindLevel1 }
func (*OrderBookSnapshot) Kind() Kind          { return KindOrderBookSnapshot }
func (*Execution) Kind() Kind                  { return KindExecution }
func (*OrderRegister) Kind() Kind              { return KindOrderRegister }
func (*OrderReplace) Kind() Kind               { return KindOrderReplace }
func (*OrderCancel) Kind() Kind                { return KindOrderCancel }
func (*OrderGroupCancel) Kind() Kind           { return KindOrderGroupCancel }
func (*OrderStatusRequest) Kind() Kind         { return KindOrderStatusRequest }
func (*MarketDataSubscription) Kind() Kind     { return KindMarketDataSubscription }
func (*Candle) Kind() Kind                     { return KindCandle }
func (*PortfolioLookup) Kind() Kind            { return KindPortfolioLookup }
func (*PortfolioInfo) Kind() Kind              { return KindPortfolioInfo }
func (*PositionChange) Kind() Kind             { return KindPositionChange }
func (*CommissionRuleRegistration) Kind() Kind { return KindCommissionRuleRegistration }
func (*SubscriptionResponse) Kind() Kind       { return KindSubscriptionResponse }
func (*SubscriptionOnline) Kind() Kind         { return KindSubscriptionOnline }
func (*SubscriptionFinished) Kind() Kind       { return KindSubscriptionFinished }
func (*ErrorReport) Kind() Kind                { return KindErrorReport }

// NewMessage returns an empty message of the given kind, used when decoding journals.
func NewMessage(kind Kind) (Message, error) {
	switch kind {
	case KindReset:
		return &Reset{}, nil
	case KindConnect:
		return &Connect{}, nil
	case KindTimeTick:
		return &TimeTick{}, nil
	case KindSecurityDefinition:
		return &SecurityDefinition{}, nil
	case KindBoardDefinition:
		return &BoardDefinition{}, nil
	case KindBoardState:
		return &BoardState{}, nil
	case KindLevel1:
		return &Level1{}, nil
	case KindOrderBookSnapshot:
		return &OrderBookSnapshot{}, nil
	case KindExecution:
		return &Execution{}, nil
	case KindOrderRegister:
		return &OrderRegister{}, nil
	case KindOrderReplace:
		return &OrderReplace{}, nil
	case KindOrderCancel:
		return &OrderCancel{}, nil
	case KindOrderGroupCancel:
		return &OrderGroupCancel{}, nil
	case KindOrderStatusRequest:
		return &OrderStatusRequest{}, nil
	case KindMarketDataSubscription:
		return &MarketDataSubscription{}, nil
	case KindCandle:
		return &Candle{}, nil
	case KindPortfolioLookup:
		return &PortfolioLookup{}, nil
	case KindPortfolioInfo:
		return &PortfolioInfo{}, nil
	case KindPositionChange:
		return &PositionChange{}, nil
	case KindCommissionRuleRegistration:
		return &CommissionRuleRegistration{}, nil
	case KindSubscriptionResponse:
		return &SubscriptionResponse{}, nil
	case KindSubscriptionOnline:
		return &SubscriptionOnline{}, nil
	case KindSubscriptionFinished:
		return &SubscriptionFinished{}, nil
	case KindErrorReport:
		return &ErrorReport{}, nil
	}
	return nil, fmt.Errorf("unknown message kind %q", kind)
}
