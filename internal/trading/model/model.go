package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order, trade or quote.
type Side string

// Constants for order sides, types, states and time in force options
const (
	// Order sides
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Invert returns the opposite side.
func (s Side) Invert() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderType is the price condition of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce tells the matcher what to do with an unmatched remainder.
type TimeInForce string

const (
	// TimeInForcePutInQueue rests the remainder in the book. Empty means the same.
	TimeInForcePutInQueue TimeInForce = "PUT_IN_QUEUE"
	// TimeInForceMatchOrCancel (FOK) fills completely or not at all.
	TimeInForceMatchOrCancel TimeInForce = "MATCH_OR_CANCEL"
	// TimeInForceCancelBalance (IOC) cancels whatever is left after one pass.
	TimeInForceCancelBalance TimeInForce = "CANCEL_BALANCE"
)

// OrderState is the lifecycle state carried by order reports.
type OrderState string

const (
	OrderStateNone    OrderState = ""
	OrderStatePending OrderState = "PENDING"
	OrderStateActive  OrderState = "ACTIVE"
	OrderStateDone    OrderState = "DONE"
	OrderStateFailed  OrderState = "FAILED"
)

// DataType classifies execution messages.
type DataType string

const (
	// DataTypeTransactions marks own order commands and reports.
	DataTypeTransactions DataType = "TRANSACTIONS"
	// DataTypeTicks marks anonymous trade prints.
	DataTypeTicks DataType = "TICKS"
	// DataTypeOrderLog marks foreign order-log entries.
	DataTypeOrderLog DataType = "ORDER_LOG"
)

// MarketDataType is the stream requested by a market data subscription.
type MarketDataType string

const (
	MarketDataDepth MarketDataType = "MARKET_DEPTH"
	MarketDataTicks MarketDataType = "TICKS"
)

// SessionState is the trading state of a board.
type SessionState string

const (
	SessionAssigned     SessionState = "ASSIGNED"
	SessionStarted      SessionState = "STARTED"
	SessionPaused       SessionState = "PAUSED"
	SessionForceStopped SessionState = "FORCE_STOPPED"
	SessionEnded        SessionState = "ENDED"
)

// IsStopped reports whether order commands must be rejected in this state.
func (s SessionState) IsStopped() bool {
	switch s {
	case SessionPaused, SessionForceStopped, SessionEnded:
		return true
	}
	return false
}

// SecurityState is the trading state of a single instrument.
type SecurityState string

const (
	SecurityTrading SecurityState = "TRADING"
	SecurityStopped SecurityState = "STOPPED"
)

// Level1Field names a top-of-book or reference field.
type Level1Field string

const (
	Level1PriceStep       Level1Field = "PRICE_STEP"
	Level1VolumeStep      Level1Field = "VOLUME_STEP"
	Level1MinVolume       Level1Field = "MIN_VOLUME"
	Level1MaxVolume       Level1Field = "MAX_VOLUME"
	Level1Multiplier      Level1Field = "MULTIPLIER"
	Level1MinPrice        Level1Field = "MIN_PRICE"
	Level1MaxPrice        Level1Field = "MAX_PRICE"
	Level1MarginBuy       Level1Field = "MARGIN_BUY"
	Level1MarginSell      Level1Field = "MARGIN_SELL"
	Level1LastTradePrice  Level1Field = "LAST_TRADE_PRICE"
	Level1LastTradeVolume Level1Field = "LAST_TRADE_VOLUME"
	Level1BestBidPrice    Level1Field = "BEST_BID_PRICE"
	Level1BestBidVolume   Level1Field = "BEST_BID_VOLUME"
	Level1BestAskPrice    Level1Field = "BEST_ASK_PRICE"
	Level1BestAskVolume   Level1Field = "BEST_ASK_VOLUME"
)

// Level1Fields lists every field in the order they are applied.
var Level1Fields = []Level1Field{
	Level1PriceStep,
	Level1VolumeStep,
	Level1MinVolume,
	Level1MaxVolume,
	Level1Multiplier,
	Level1MinPrice,
	Level1MaxPrice,
	Level1MarginBuy,
	Level1MarginSell,
	Level1LastTradePrice,
	Level1LastTradeVolume,
	Level1BestBidPrice,
	Level1BestBidVolume,
	Level1BestAskPrice,
	Level1BestAskVolume,
}

// PositionField names a value reported by a position change.
type PositionField string

const (
	PositionBeginValue      PositionField = "BEGIN_VALUE"
	PositionCurrentValue    PositionField = "CURRENT_VALUE"
	PositionAveragePrice    PositionField = "AVERAGE_PRICE"
	PositionBlockedValue    PositionField = "BLOCKED_VALUE"
	PositionRealizedPnL     PositionField = "REALIZED_PNL"
	PositionUnrealizedPnL   PositionField = "UNREALIZED_PNL"
	PositionVariationMargin PositionField = "VARIATION_MARGIN"
	PositionCommission      PositionField = "COMMISSION"
)

// SecurityID identifies an instrument on a board.
type SecurityID struct {
	Code  string `json:"code"`
	Board string `json:"board"`
}

// MoneyID is the pseudo instrument that carries portfolio money values.
var MoneyID = SecurityID{Code: "MONEY"}

func (id SecurityID) String() string {
	if id.Board == "" {
		return id.Code
	}
	return id.Code + "@" + id.Board
}

// IsMoney reports whether id is the money pseudo instrument.
func (id SecurityID) IsMoney() bool {
	return id == MoneyID
}

// IsZero reports whether the id is unset.
func (id SecurityID) IsZero() bool {
	return id.Code == "" && id.Board == ""
}

// CompareSecurityIDs orders ids by code then board, case-insensitive on the board.
func CompareSecurityIDs(a, b SecurityID) int {
	if c := strings.Compare(a.Code, b.Code); c != 0 {
		return c
	}
	return strings.Compare(strings.ToUpper(a.Board), strings.ToUpper(b.Board))
}

// Quote is one aggregated price level of a book snapshot.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// CommissionRuleKind selects how a commission rule charges.
type CommissionRuleKind string

const (
	CommissionPerOrder       CommissionRuleKind = "PER_ORDER"
	CommissionPerTrade       CommissionRuleKind = "PER_TRADE"
	CommissionPerOrderVolume CommissionRuleKind = "PER_ORDER_VOLUME"
	CommissionPerTradeVolume CommissionRuleKind = "PER_TRADE_VOLUME"
	CommissionPerTradePrice  CommissionRuleKind = "PER_TRADE_PRICE"
	CommissionTurnover       CommissionRuleKind = "TURNOVER"
	CommissionMaker          CommissionRuleKind = "MAKER"
	CommissionTaker          CommissionRuleKind = "TAKER"
)

// CommissionRule describes one commission charge. Percent kinds take Value in percent.
type CommissionRule struct {
	Kind  CommissionRuleKind `json:"kind" yaml:"kind"`
	Value decimal.Decimal    `json:"value" yaml:"value"`
	// Security restricts the rule to one instrument code when set.
	Security string `json:"security,omitempty" yaml:"security,omitempty"`
	// Board restricts the rule to one board when set.
	Board string `json:"board,omitempty" yaml:"board,omitempty"`
}
