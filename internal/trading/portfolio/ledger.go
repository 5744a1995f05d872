package portfolio

import (
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/commission"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checks toggles the registration checks of a ledger.
type Checks struct {
	CheckMoney     bool
	CheckShortable bool
}

// MarketResolver returns the market of a security, creating it when needed.
type MarketResolver func(id model.SecurityID) Market

// Ledger keeps the money, positions, blocked margin, PnL and commission of one portfolio.
type Ledger struct {
	name    string
	resolve MarketResolver
	checks  Checks
	logger  *zap.Logger

	positions map[model.SecurityID]*position
	order     []model.SecurityID

	beginMoney   decimal.Decimal
	currentMoney decimal.Decimal
	blocked      decimal.Decimal

	pnl        *PnLManager
	commission *commission.Manager
}

func NewLedger(name string, resolve MarketResolver, rules *commission.RuleSet, checks Checks, logger *zap.Logger) *Ledger {
	return &Ledger{
		name:         name,
		resolve:      resolve,
		checks:       checks,
		logger:       logger.With(zap.String("portfolio", name)),
		positions:    make(map[model.SecurityID]*position),
		beginMoney:   decimal.Zero,
		currentMoney: decimal.Zero,
		blocked:      decimal.Zero,
		pnl:          NewPnLManager(),
		commission:   commission.NewManager(rules),
	}
}

func (l *Ledger) Name() string { return l.name }

// PnL exposes the PnL manager for the periodic recompute sweep.
func (l *Ledger) PnL() *PnLManager { return l.pnl }

// CurrentMoney is begin money plus PnL minus commission, as of the last report.
func (l *Ledger) CurrentMoney() decimal.Decimal { return l.currentMoney }

// BlockedMoney is the money reserved by positions and open orders.
func (l *Ledger) BlockedMoney() decimal.Decimal { return l.blocked }

// Commission is the total commission charged to the portfolio.
func (l *Ledger) Commission() decimal.Decimal { return l.commission.Commission() }

func (l *Ledger) get(id model.SecurityID) *position {
	p, ok := l.positions[id]
	if !ok {
		p = newPosition(l.resolve(id))
		l.positions[id] = p
		l.order = append(l.order, id)
	}
	return p
}

func (l *Ledger) moneyChange(t time.Time) *model.PositionChange {
	return &model.PositionChange{
		Header:        model.Header{LocalTime: t, ServerTime: t},
		PortfolioName: l.name,
		SecurityID:    model.MoneyID,
	}
}

// RequestState reports the money and every held security, in the order they were first touched.
func (l *Ledger) RequestState(lookup *model.PortfolioLookup, out *model.Batch) {
	t := lookup.LocalTime
	l.AddPortfolioChange(t, out)

	for _, id := range l.order {
		p := l.positions[id]
		out.Add((&model.PositionChange{
			Header:                model.Header{LocalTime: t, ServerTime: t},
			PortfolioName:         l.name,
			SecurityID:            id,
			OriginalTransactionID: lookup.TransactionID,
		}).
			Add(model.PositionCurrentValue, p.Current()).
			TryAdd(model.PositionAveragePrice, p.AveragePrice))
	}
}

// ProcessPositionChange applies initial balances: money begin value or a security position.
func (l *Ledger) ProcessPositionChange(msg *model.PositionChange, out *model.Batch) {
	begin, hasBegin := msg.Get(model.PositionBeginValue)

	if msg.IsMoney() {
		if !hasBegin {
			return
		}
		l.beginMoney = begin
		l.currentMoney = begin
		l.AddPortfolioChange(msg.ServerTime, out)
		return
	}

	p := l.get(msg.SecurityID)
	prevPrice := p.Price()

	p.BeginValue = decimal.Zero
	if hasBegin {
		p.BeginValue = begin
	}
	if avg, ok := msg.Get(model.PositionAveragePrice); ok {
		p.AveragePrice = avg
	}

	out.Add(msg.Clone())

	l.blocked = l.blocked.Sub(prevPrice).Add(p.Price())

	change := l.moneyChange(msg.ServerTime)
	change.LocalTime = msg.LocalTime
	change.StrategyID = msg.StrategyID
	out.Add(change.Add(model.PositionBlockedValue, l.blocked))
}

// ProcessOrder reserves the order volume on registration (cancelBalance nil)
// or releases cancelBalance. Both are charged by the order commission rules.
func (l *Ledger) ProcessOrder(order *model.Execution, cancelBalance *decimal.Decimal, out *model.Batch) decimal.NullDecimal {
	p := l.get(order.SecurityID)
	prevPrice := p.TotalPrice()

	if cancelBalance == nil {
		volume := order.OrderVolume
		if order.Side == model.SideBuy {
			p.TotalBids = p.TotalBids.Add(volume)
		} else {
			p.TotalAsks = p.TotalAsks.Add(volume)
		}
	} else {
		if order.Side == model.SideBuy {
			p.TotalBids = p.TotalBids.Sub(*cancelBalance)
		} else {
			p.TotalAsks = p.TotalAsks.Sub(*cancelBalance)
		}
	}

	l.blocked = l.blocked.Sub(prevPrice).Add(p.TotalPrice())
	fee := l.commission.Process(order)
	l.AddPortfolioChange(order.ServerTime, out)
	return fee
}

// ProcessTrade applies an own trade: PnL, commission, reservation release,
// position and average price.
func (l *Ledger) ProcessTrade(side model.Side, trade *model.Execution, out *model.Batch) {
	t := trade.ServerTime

	multiplier := decimal.Zero
	p := l.get(trade.SecurityID)
	if def := p.market.Definition(); def != nil {
		multiplier = def.Multiplier
	}
	l.pnl.ProcessTrade(trade, multiplier)
	trade.Commission = l.commission.Process(trade)

	if !trade.TradeVolume.Valid {
		return
	}
	volume := trade.TradeVolume.Decimal
	signed := volume
	if side == model.SideSell {
		signed = signed.Neg()
	}

	prevPrice := p.TotalPrice()

	if trade.Side == model.SideBuy {
		p.TotalBids = p.TotalBids.Sub(volume)
	} else {
		p.TotalAsks = p.TotalAsks.Sub(volume)
	}

	prevPos := p.Current()
	p.Diff = p.Diff.Add(signed)
	currPos := p.Current()
	price := trade.TradePrice.Decimal

	if prevPos.Sign() == currPos.Sign() {
		p.AveragePrice = p.AveragePrice.Mul(prevPos).Add(signed.Mul(price)).Div(currPos)
	} else if currPos.IsZero() {
		p.AveragePrice = decimal.Zero
	} else {
		p.AveragePrice = price
	}

	l.blocked = l.blocked.Sub(prevPrice).Add(p.TotalPrice())

	out.Add((&model.PositionChange{
		Header:        model.Header{LocalTime: t, ServerTime: t},
		PortfolioName: l.name,
		SecurityID:    trade.SecurityID,
		StrategyID:    trade.StrategyID,
	}).
		Add(model.PositionCurrentValue, currPos).
		TryAdd(model.PositionAveragePrice, p.AveragePrice))

	l.AddPortfolioChange(t, out)
}

// ProcessMarginChange recomputes the blocked money after margin prices of id changed.
func (l *Ledger) ProcessMarginChange(t time.Time, id model.SecurityID, out *model.Batch) {
	if _, ok := l.positions[id]; !ok {
		return
	}
	l.blocked = decimal.Zero
	for _, sid := range l.order {
		l.blocked = l.blocked.Add(l.positions[sid].TotalPrice())
	}
	out.Add(l.moneyChange(t).Add(model.PositionBlockedValue, l.blocked))
}

// AddPortfolioChange reports PnL, variation margin, current and blocked money and commission.
func (l *Ledger) AddPortfolioChange(t time.Time, out *model.Batch) {
	realized := l.pnl.RealizedPnL()
	unrealized := l.pnl.UnrealizedPnL()
	fee := l.commission.Commission()
	total := realized.Add(unrealized).Sub(fee)

	l.currentMoney = l.beginMoney.Add(total)

	out.Add(l.moneyChange(t).
		Add(model.PositionRealizedPnL, realized).
		TryAdd(model.PositionUnrealizedPnL, unrealized).
		Add(model.PositionVariationMargin, total).
		Add(model.PositionCurrentValue, l.currentMoney).
		Add(model.PositionBlockedValue, l.blocked).
		Add(model.PositionCommission, fee))
}

// CheckRegistration returns the rejection for an order the portfolio cannot afford
// or cannot short, nil when the order may proceed.
func (l *Ledger) CheckRegistration(exec *model.Execution) *errors.Error {
	if l.checks.CheckMoney {
		volume := exec.GetBalance()
		p := l.get(exec.SecurityID)

		buyVol, sellVol := decimal.Zero, decimal.Zero
		if exec.Side == model.SideBuy {
			buyVol = volume
		} else {
			sellVol = volume
		}
		need := p.GetPrice(buyVol, sellVol)

		if l.currentMoney.LessThan(need) {
			l.logger.Info("insufficient funds",
				zap.Int64("transaction_id", exec.TransactionID),
				zap.Stringer("need", need),
				zap.Stringer("money", l.currentMoney))
			return errors.ErrInsufficientFunds.Explain(
				"portfolio %s order %d needs %s but has %s (blocked %s, shortfall %s)",
				l.name, exec.TransactionID, need, l.currentMoney, p.TotalPrice(), need.Sub(l.currentMoney))
		}
	}

	if l.checks.CheckShortable && exec.Side == model.SideSell {
		p := l.get(exec.SecurityID)
		def := p.market.Definition()
		if def != nil && def.Shortable != nil && !*def.Shortable {
			potential := p.Current().Sub(exec.OrderVolume)
			if potential.IsNegative() {
				return errors.ErrNonShortable.Explain(
					"portfolio %s order %d would short %s: position %s, volume %s",
					l.name, exec.TransactionID, exec.SecurityID, p.Current(), exec.OrderVolume)
			}
		}
	}
	return nil
}

// PositionState is a point-in-time view of one security position.
type PositionState struct {
	SecurityID   model.SecurityID
	Current      decimal.Decimal
	AveragePrice decimal.Decimal
	TotalBids    decimal.Decimal
	TotalAsks    decimal.Decimal
	Blocked      decimal.Decimal
}

// Snapshot returns the positions in the order they were first touched.
func (l *Ledger) Snapshot() []PositionState {
	out := make([]PositionState, 0, len(l.order))
	for _, id := range l.order {
		p := l.positions[id]
		out = append(out, PositionState{
			SecurityID:   id,
			Current:      p.Current(),
			AveragePrice: p.AveragePrice,
			TotalBids:    p.TotalBids,
			TotalAsks:    p.TotalAsks,
			Blocked:      p.TotalPrice(),
		})
	}
	return out
}
