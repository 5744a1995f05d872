package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

var (
	defaultPriceStep  = decimal.New(1, -2)
	defaultVolumeStep = decimal.NewFromInt(1)
)

// Ledger is the part of a portfolio the engine drives.
type Ledger interface {
	ProcessOrder(order *model.Execution, cancelBalance *decimal.Decimal, out *model.Batch) decimal.NullDecimal
	ProcessTrade(side model.Side, trade *model.Execution, out *model.Batch)
}

// Host is the router side of an engine: shared id sequences, portfolios,
// registration checks and per-security level-1 state.
type Host interface {
	NextOrderID() int64
	NextTradeID() int64
	Ledger(portfolio string) Ledger
	// CheckRegistration validates an accepted registration, nil when it may proceed.
	CheckRegistration(order *model.Execution, def *model.SecurityDefinition) *errors.Error
	// UpdateLevel1 stores price limits and adds msg to out.
	UpdateLevel1(msg *model.Level1, out *model.Batch)
	// MarginPrice returns the margin price override of id for side.
	MarginPrice(id model.SecurityID, side model.Side) (decimal.Decimal, bool)
	Board(code string) *model.BoardDefinition
}

// Engine is the matching state machine of one security. It is driven by a
// single goroutine and is not safe for concurrent use.
type Engine struct {
	id       model.SecurityID
	host     Host
	settings config.Settings
	tz       *time.Location
	logger   *zap.Logger
	rnd      *rand.Rand

	def               *model.SecurityDefinition
	// security is the last received definition, before any inferred steps
	security          *model.SecurityDefinition
	priceStepUpdated  bool
	volumeStepUpdated bool

	book *orderbook.Book
	// active orders by transaction id
	active btree.Map[int64, *model.Execution]
	// expiry deadline by transaction id
	expirable btree.Map[int64, time.Time]
	pending   []pendingExecution
	candles   btree.Map[int64, *candleBucket]

	lastStripDate   time.Time
	lastDepthDate   time.Time
	prevTickPrice   decimal.Decimal
	currSpreadPrice decimal.Decimal

	prevBidPrice, prevBidVolume decimal.NullDecimal
	prevAskPrice, prevAskVolume decimal.NullDecimal

	depthSubscription int64
	ticksSubscription int64
}

// New creates the engine of id. The random source is derived from seed and
// the security id, so replays with the same seed are identical.
func New(id model.SecurityID, host Host, settings config.Settings, logger *zap.Logger, seed int64) (*Engine, error) {
	tz, err := settings.Location()
	if err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.String()))

	return &Engine{
		id:       id,
		host:     host,
		settings: settings,
		tz:       tz,
		logger:   logger.Named("engine").With(zap.Stringer("security", id)),
		rnd:      rand.New(rand.NewSource(seed ^ int64(h.Sum64()))),
		def:      &model.SecurityDefinition{SecurityID: id},
		book:     orderbook.NewBook(),
	}, nil
}

// ID returns the security the engine matches.
func (e *Engine) ID() model.SecurityID { return e.id }

// Definition returns the current security definition.
func (e *Engine) Definition() *model.SecurityDefinition { return e.def }

// Book exposes the order book for inspection.
func (e *Engine) Book() *orderbook.Book { return e.book }

// ActiveOrders returns the resting user orders ordered by transaction id.
func (e *Engine) ActiveOrders() []*model.Execution { return e.active.Values() }

// PendingCount is the number of commands waiting for their latency to elapse.
func (e *Engine) PendingCount() int { return len(e.pending) }

// MarginPrice is the margin override of side when set, else the best quote of side, else zero.
func (e *Engine) MarginPrice(side model.Side) decimal.Decimal {
	if price, ok := e.host.MarginPrice(e.id, side); ok {
		return price
	}
	if l, ok := e.book.Side(side).Best(); ok {
		return l.Price
	}
	return decimal.Zero
}

// Process applies msg and appends the resulting messages to out. A returned
// error is structural: the caller must drop whatever msg added to out.
func (e *Engine) Process(msg model.Message, out *model.Batch) error {
	now := msg.Head().LocalTime

	var err error
	switch m := msg.(type) {
	case *model.TimeTick, *model.BoardDefinition:
	case *model.Execution:
		err = e.processExecution(m, out)
	case *model.OrderRegister:
		err = e.processRegister(m, out)
	case *model.OrderReplace:
		err = e.processReplace(m, out)
	case *model.OrderCancel:
		err = e.processExecution(e.cancelExecution(m), out)
	case *model.OrderGroupCancel:
		err = e.processGroupCancel(m, out)
	case *model.OrderStatusRequest:
		e.processOrderStatus(m, out)
	case *model.OrderBookSnapshot:
		err = e.processQuoteChange(m, out, true)
	case *model.Level1:
		err = e.processLevel1(m, out)
	case *model.SecurityDefinition:
		e.updateDefinition(m)
	case *model.MarketDataSubscription:
		e.processSubscription(m)
	case *model.Candle:
		err = e.processCandle(m, out)
	default:
		err = internalf("unsupported message %s", msg.Kind())
	}
	if err != nil {
		return err
	}

	return e.processTime(now, out)
}

func (e *Engine) processExecution(exec *model.Execution, out *model.Batch) error {
	e.updatePriceLimits(exec, out)

	switch exec.DataType {
	case model.DataTypeTicks:
		return e.processTick(exec, out)
	case model.DataTypeTransactions:
		if !exec.HasOrderInfo {
			return internalf("transaction %d carries no order info", exec.TransactionID)
		}
		if e.settings.Latency > 0 {
			e.park(exec)
			return nil
		}
		return e.acceptExecution(exec.LocalTime, exec.Clone(), out)
	case model.DataTypeOrderLog:
		if exec.TradeID == 0 {
			return e.updateQuotes(exec, out)
		}
		return nil
	default:
		return internalf("unsupported execution data type %q", exec.DataType)
	}
}

func (e *Engine) updateDefinition(def *model.SecurityDefinition) {
	e.def = def.Clone()
	e.def.SecurityID = e.id
	e.security = e.def.Clone()
	if def.PriceStep.IsPositive() {
		e.priceStepUpdated = true
	}
	if def.VolumeStep.IsPositive() {
		e.volumeStepUpdated = true
	}
}

func (e *Engine) processSubscription(msg *model.MarketDataSubscription) {
	switch {
	case msg.IsSubscribe && msg.DataType == model.MarketDataDepth:
		e.depthSubscription = msg.TransactionID
	case msg.IsSubscribe && msg.DataType == model.MarketDataTicks:
		e.ticksSubscription = msg.TransactionID
	case msg.DataType == model.MarketDataDepth && e.depthSubscription == msg.OriginalTransactionID:
		e.depthSubscription = 0
	case msg.DataType == model.MarketDataTicks && e.ticksSubscription == msg.OriginalTransactionID:
		e.ticksSubscription = 0
	}
}

func (e *Engine) priceStep() decimal.Decimal {
	if e.def.PriceStep.IsPositive() {
		return e.def.PriceStep
	}
	return defaultPriceStep
}

func (e *Engine) volumeStep() decimal.Decimal {
	if e.def.VolumeStep.IsPositive() {
		return e.def.VolumeStep
	}
	return defaultVolumeStep
}

// serverTime converts t to the configured zone, else the board's zone, when conversion is on.
func (e *Engine) serverTime(t time.Time) time.Time {
	if !e.settings.ConvertTime {
		return t
	}
	if e.tz != nil {
		return t.In(e.tz)
	}
	if board := e.host.Board(e.id.Board); board != nil {
		if loc := board.Location(); loc != nil {
			return t.In(loc)
		}
	}
	return t
}

func (e *Engine) hasDepth(t time.Time) bool {
	return !e.lastDepthDate.IsZero() && e.lastDepthDate.Equal(dateOf(t))
}

func (e *Engine) addDepthSnapshot(t, serverTime time.Time, out *model.Batch) {
	if e.depthSubscription == 0 {
		return
	}
	out.Add(e.snapshot(t, serverTime))
}

func (e *Engine) snapshot(t, serverTime time.Time) *model.OrderBookSnapshot {
	return &model.OrderBookSnapshot{
		Header:     model.Header{LocalTime: t, ServerTime: serverTime},
		SecurityID: e.id,
		Bids:       e.book.Bids.Snapshot(),
		Asks:       e.book.Asks.Snapshot(),
	}
}

// addQuote rests synthetic volume directly in the book.
func (e *Engine) addQuote(side model.Side, price, volume decimal.Decimal) error {
	if !price.IsPositive() || !volume.IsPositive() {
		return internalf("synthetic %s quote %s x %s", side, price, volume)
	}
	e.book.Side(side).Add(orderbook.Fragment{Price: price, Volume: volume, Balance: volume})
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return dateOf(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func internalf(format string, args ...any) error {
	return fmt.Errorf("engine: %w", errors.ErrInternal.Explain(format, args...))
}
