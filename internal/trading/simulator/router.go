// Package simulator routes normalized messages to the per-security engines
// and per-portfolio ledgers of one simulation run.
package simulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/commission"
	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/internal/trading/engine"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/portfolio"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/Aidin1998/pincex_sim/pkg/metrics"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// allBoards keys the session state that applies to every board.
const allBoards = ""

type market struct {
	id     model.SecurityID
	engine *engine.Engine
}

// Router is the entry point of a simulation run. It is not safe for
// concurrent use: one goroutine delivers every message, in order.
type Router struct {
	settings config.Settings
	logger   *zap.Logger
	metrics  *metrics.Collector

	markets *btree.BTreeG[*market]

	ledgers     map[string]*portfolio.Ledger
	ledgerOrder []string
	rules       *commission.RuleSet

	boards      map[string]*model.BoardDefinition
	boardStates map[string]model.SessionState
	secStates   map[model.SecurityID]*securityState

	orderID int64
	tradeID int64

	buffer          model.Batch
	bufferPrevFlush time.Time
	pnlPrevRecalc   time.Time
	processed       int64
}

// New validates settings and creates an empty router. A nil collector
// records into collectors that are not registered anywhere.
func New(settings config.Settings, logger *zap.Logger, collector *metrics.Collector) (*Router, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator settings: %w", err)
	}
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	r := &Router{
		settings: settings,
		logger:   logger.Named("simulator"),
		metrics:  collector,
	}
	r.reset()
	return r, nil
}

func (r *Router) reset() {
	r.markets = btree.NewBTreeGOptions(func(a, b *market) bool {
		return model.CompareSecurityIDs(a.id, b.id) < 0
	}, btree.Options{NoLocks: true})
	r.ledgers = make(map[string]*portfolio.Ledger)
	r.ledgerOrder = nil
	r.rules = &commission.RuleSet{}
	r.boards = make(map[string]*model.BoardDefinition)
	r.boardStates = make(map[string]model.SessionState)
	r.secStates = make(map[model.SecurityID]*securityState)
	r.orderID = r.settings.InitialOrderID
	r.tradeID = r.settings.InitialTradeID
	r.buffer = nil
	r.bufferPrevFlush = time.Time{}
	r.pnlPrevRecalc = time.Time{}
	r.processed = 0
}

// Settings returns the settings the router runs with.
func (r *Router) Settings() config.Settings { return r.settings }

// Processed is the number of input messages handled since the last reset.
func (r *Router) Processed() int64 { return r.processed }

// Engines returns the security engines ordered by security id.
func (r *Router) Engines() []*engine.Engine {
	engines := make([]*engine.Engine, 0, r.markets.Len())
	r.markets.Scan(func(m *market) bool {
		engines = append(engines, m.engine)
		return true
	})
	return engines
}

// Ledgers returns the portfolio ledgers in creation order.
func (r *Router) Ledgers() []*portfolio.Ledger {
	ledgers := make([]*portfolio.Ledger, 0, len(r.ledgerOrder))
	for _, name := range r.ledgerOrder {
		ledgers = append(ledgers, r.ledgers[name])
	}
	return ledgers
}

// Process handles one input message and returns the messages to emit, in
// order. An input aborted by an internal error yields a single ErrorReport
// instead of its partial output.
func (r *Router) Process(msg model.Message) model.Batch {
	start := time.Now()
	defer r.metrics.ObserveSince(start)
	r.metrics.MessagesIn.WithLabelValues(string(msg.Kind())).Inc()

	var out model.Batch
	if err := r.dispatch(msg, &out); err != nil {
		r.metrics.StructuralErrors.Inc()
		r.logger.Error("input aborted",
			zap.String("kind", string(msg.Kind())),
			zap.Time("local_time", msg.Head().LocalTime),
			zap.Error(err))
		out = model.Batch{&model.ErrorReport{
			Header:    model.Header{LocalTime: msg.Head().LocalTime, ServerTime: msg.Head().LocalTime},
			InputKind: msg.Kind(),
			Error:     err.Error(),
		}}
	}

	if msg.Kind() != model.KindReset {
		r.processed++
	}
	r.recalcPnL(msg.Head().LocalTime, &out)

	result := r.bufferResult(out, msg.Head().LocalTime)
	r.observe(result)
	return result
}

// Flush returns whatever the output buffer still holds.
func (r *Router) Flush() model.Batch {
	out := r.buffer
	r.buffer = nil
	r.observe(out)
	return out
}

func (r *Router) dispatch(msg model.Message, out *model.Batch) error {
	switch m := msg.(type) {
	case *model.TimeTick:
		return r.eachEngine(func(e *engine.Engine) error { return e.Process(m, out) })

	case *model.Execution:
		if m.DataType == model.DataTypeTransactions && m.PortfolioName == "" {
			c := m.Clone()
			c.PortfolioName = r.settings.DefaultPortfolio
			m = c
		}
		return r.engine(m.SecurityID).Process(m, out)

	case *model.OrderBookSnapshot:
		return r.engine(m.SecurityID).Process(m, out)

	case *model.Candle:
		return r.engine(m.SecurityID).Process(m, out)

	case *model.SecurityDefinition:
		return r.engine(m.SecurityID).Process(m, out)

	case *model.OrderRegister:
		c := *m
		c.PortfolioName = r.portfolioName(c.PortfolioName)
		if r.rejectStopped(c.Header, c.SecurityID, c.TransactionID, c.PortfolioName, c.StrategyID, false, out) {
			return nil
		}
		return r.engine(c.SecurityID).Process(&c, out)

	case *model.OrderReplace:
		c := *m
		c.PortfolioName = r.portfolioName(c.PortfolioName)
		if r.rejectStopped(c.Header, c.SecurityID, c.TransactionID, c.PortfolioName, c.StrategyID, false, out) {
			return nil
		}
		return r.engine(c.SecurityID).Process(&c, out)

	case *model.OrderCancel:
		c := *m
		c.PortfolioName = r.portfolioName(c.PortfolioName)
		if r.rejectStopped(c.Header, c.SecurityID, c.TransactionID, c.PortfolioName, c.StrategyID, true, out) {
			return nil
		}
		return r.engine(c.SecurityID).Process(&c, out)

	case *model.OrderGroupCancel:
		if !m.SecurityID.IsZero() {
			return r.engine(m.SecurityID).Process(m, out)
		}
		return r.eachEngine(func(e *engine.Engine) error { return e.Process(m, out) })

	case *model.OrderStatusRequest:
		if m.IsUnsubscribe {
			return nil
		}
		if err := r.eachEngine(func(e *engine.Engine) error { return e.Process(m, out) }); err != nil {
			return err
		}
		out.Add(&model.SubscriptionOnline{Header: m.Header, OriginalTransactionID: m.TransactionID})
		return nil

	case *model.MarketDataSubscription:
		if err := r.engine(m.SecurityID).Process(m, out); err != nil {
			return err
		}
		out.Add(&model.SubscriptionResponse{Header: m.Header, OriginalTransactionID: m.TransactionID})
		return nil

	case *model.Level1:
		if err := r.engine(m.SecurityID).Process(m, out); err != nil {
			return err
		}
		r.updateLevel1Info(m, out, false)
		return nil

	case *model.Reset:
		r.reset()
		r.logger.Info("simulator reset")
		out.Add(&model.Reset{Header: m.Header})
		return nil

	case *model.Connect:
		r.ledger(r.settings.DefaultPortfolio)
		out.Add(&model.Connect{Header: m.Header})
		return nil

	case *model.PositionChange:
		r.ledger(r.portfolioName(m.PortfolioName)).ProcessPositionChange(m, out)
		return nil

	case *model.BoardDefinition:
		if err := m.Validate(); err != nil {
			return fmt.Errorf("board %s: %w", m.Code, err)
		}
		board := *m
		r.boards[m.Code] = &board
		var err error
		r.markets.Scan(func(mk *market) bool {
			if strings.EqualFold(mk.id.Board, m.Code) {
				err = mk.engine.Process(&board, out)
			}
			return err == nil
		})
		return err

	case *model.BoardState:
		if r.settings.CheckTradingState {
			r.boardStates[m.Board] = m.State
		}
		out.Add(m)
		return nil

	case *model.PortfolioLookup:
		r.processPortfolioLookup(m, out)
		return nil

	case *model.CommissionRuleRegistration:
		if err := r.rules.Add(m.Rule); err != nil {
			return fmt.Errorf("commission rule: %w", err)
		}
		return nil

	case *model.SubscriptionResponse:
		c := *m
		out.Add(&c)
		return nil
	case *model.SubscriptionOnline:
		c := *m
		out.Add(&c)
		return nil
	case *model.SubscriptionFinished:
		c := *m
		out.Add(&c)
		return nil

	default:
		out.Add(msg)
		return nil
	}
}

func (r *Router) eachEngine(fn func(e *engine.Engine) error) error {
	var err error
	r.markets.Scan(func(m *market) bool {
		err = fn(m.engine)
		return err == nil
	})
	return err
}

// engine returns the engine of id, creating it on first use.
func (r *Router) engine(id model.SecurityID) *engine.Engine {
	if m, ok := r.markets.Get(&market{id: id}); ok {
		return m.engine
	}
	e, err := engine.New(id, r, r.settings, r.logger, r.settings.RandomSeed)
	if err != nil {
		// the time zone was resolved by Validate in New
		panic(fmt.Sprintf("simulator: create engine %s: %v", id, err))
	}
	r.markets.Set(&market{id: id, engine: e})
	r.logger.Debug("engine created", zap.Stringer("security", id))
	return e
}

func (r *Router) portfolioName(name string) string {
	if name == "" {
		return r.settings.DefaultPortfolio
	}
	return name
}

func (r *Router) ledger(name string) *portfolio.Ledger {
	if l, ok := r.ledgers[name]; ok {
		return l
	}
	l := portfolio.NewLedger(name,
		func(id model.SecurityID) portfolio.Market { return r.engine(id) },
		r.rules,
		portfolio.Checks{CheckMoney: r.settings.CheckMoney, CheckShortable: r.settings.CheckShortable},
		r.logger.Named("portfolio"))
	r.ledgers[name] = l
	r.ledgerOrder = append(r.ledgerOrder, name)
	return l
}

// rejectStopped fails an order command while its board (or every board) is
// paused or closed. It reports whether the command was rejected.
func (r *Router) rejectStopped(h model.Header, id model.SecurityID, txID int64, pf, strategyID string, cancel bool, out *model.Batch) bool {
	if !r.settings.CheckTradingState {
		return false
	}
	state, ok := r.boardStates[allBoards]
	if !ok {
		state, ok = r.boardStates[id.Board]
	}
	if !ok || !state.IsStopped() {
		return false
	}
	r.logger.Info("order command on stopped board",
		zap.Int64("transaction_id", txID),
		zap.String("board", id.Board),
		zap.String("state", string(state)))
	out.Add(&model.Execution{
		Header:                model.Header{LocalTime: h.LocalTime, ServerTime: h.LocalTime},
		SecurityID:            id,
		DataType:              model.DataTypeTransactions,
		HasOrderInfo:          true,
		OriginalTransactionID: txID,
		OrderState:            model.OrderStateFailed,
		IsCancellation:        cancel,
		PortfolioName:         pf,
		StrategyID:            strategyID,
		Error:                 errors.ErrMarketClosed.Explain("board %s is %s", id.Board, state),
	})
	return true
}

func (r *Router) processPortfolioLookup(lookup *model.PortfolioLookup, out *model.Batch) {
	if lookup.IsUnsubscribe {
		return
	}
	info := func(name string) *model.PortfolioInfo {
		return &model.PortfolioInfo{Header: lookup.Header, PortfolioName: name, OriginalTransactionID: lookup.TransactionID}
	}
	if lookup.PortfolioName == "" {
		for _, name := range r.ledgerOrder {
			out.Add(info(name))
			r.ledgers[name].RequestState(lookup, out)
		}
	} else {
		out.Add(info(lookup.PortfolioName))
		if l, ok := r.ledgers[lookup.PortfolioName]; ok {
			l.RequestState(lookup, out)
		}
	}
	out.Add(&model.SubscriptionFinished{Header: lookup.Header, OriginalTransactionID: lookup.TransactionID})
}
