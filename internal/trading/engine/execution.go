package engine

import (
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (e *Engine) processRegister(msg *model.OrderRegister, out *model.Batch) error {
	exec := e.registerExecution(msg.Header, msg.TransactionID, msg.Side, msg.OrderType, msg.TimeInForce,
		msg.Price, msg.Volume, msg.PortfolioName, msg.UserOrderID, msg.StrategyID, msg.ExpiryDate)
	for _, extra := range e.depthExtension(exec) {
		if err := e.processExecution(extra, out); err != nil {
			return err
		}
	}
	return e.processExecution(exec, out)
}

// processReplace turns a replace into a cancel of the old order followed by
// a registration. An unknown old order fails both halves.
func (e *Engine) processReplace(msg *model.OrderReplace, out *model.Batch) error {
	cancel := &model.Execution{
		Header:                model.Header{LocalTime: msg.LocalTime, ServerTime: e.serverTime(msg.LocalTime)},
		SecurityID:            e.id,
		DataType:              model.DataTypeTransactions,
		HasOrderInfo:          true,
		IsCancellation:        true,
		TransactionID:         msg.TransactionID,
		OriginalTransactionID: msg.OriginalTransactionID,
		OrderID:               msg.OldOrderID,
		PortfolioName:         msg.PortfolioName,
		Side:                  msg.Side,
		StrategyID:            msg.StrategyID,
	}
	register := e.registerExecution(msg.Header, msg.TransactionID, msg.Side, msg.OrderType, msg.TimeInForce,
		msg.Price, msg.Volume, msg.PortfolioName, msg.UserOrderID, msg.StrategyID, msg.ExpiryDate)

	old, ok := e.active.Get(msg.OriginalTransactionID)
	if !ok {
		e.logger.Warn("replace of unknown order",
			zap.Int64("transaction_id", msg.TransactionID),
			zap.Int64("original_transaction_id", msg.OriginalTransactionID))
		for _, exec := range []*model.Execution{cancel, register} {
			reply := e.createReply(exec, msg.LocalTime,
				errors.ErrOrderNotFound.Explain("order %d not found", msg.OriginalTransactionID))
			reply.OriginalTransactionID = msg.TransactionID
			reply.IsCancellation = exec.IsCancellation
			out.Add(reply)
		}
		return nil
	}

	if register.OrderVolume.IsZero() {
		register.OrderVolume = old.GetBalance()
	}
	if err := e.processExecution(cancel, out); err != nil {
		return err
	}
	for _, extra := range e.depthExtension(register) {
		if err := e.processExecution(extra, out); err != nil {
			return err
		}
	}
	return e.processExecution(register, out)
}

func (e *Engine) registerExecution(h model.Header, txID int64, side model.Side, orderType model.OrderType,
	tif model.TimeInForce, price, volume decimal.Decimal, portfolio, userOrderID, strategyID string,
	expiry *time.Time,
) *model.Execution {
	exec := &model.Execution{
		Header:        model.Header{LocalTime: h.LocalTime, ServerTime: e.serverTime(h.LocalTime)},
		SecurityID:    e.id,
		DataType:      model.DataTypeTransactions,
		HasOrderInfo:  true,
		TransactionID: txID,
		Side:          side,
		OrderType:     orderType,
		TimeInForce:   tif,
		OrderPrice:    price,
		OrderVolume:   volume,
		PortfolioName: portfolio,
		UserOrderID:   userOrderID,
		StrategyID:    strategyID,
	}
	if expiry != nil {
		t := *expiry
		exec.ExpiryDate = &t
	}
	return exec
}

func (e *Engine) cancelExecution(msg *model.OrderCancel) *model.Execution {
	return &model.Execution{
		Header:                model.Header{LocalTime: msg.LocalTime, ServerTime: e.serverTime(msg.LocalTime)},
		SecurityID:            e.id,
		DataType:              model.DataTypeTransactions,
		HasOrderInfo:          true,
		IsCancellation:        true,
		TransactionID:         msg.TransactionID,
		OriginalTransactionID: msg.OriginalTransactionID,
		OrderID:               msg.OrderID,
		OrderType:             msg.OrderType,
		PortfolioName:         msg.PortfolioName,
		StrategyID:            msg.StrategyID,
	}
}

// depthExtension synthesizes order-log entries beyond the worst opposite
// level when order would otherwise sweep the whole visible opposite side.
// Each entry is one price step further out with twice the previous volume,
// until volume - visible + 1 is covered or the price would leave the positive range.
func (e *Engine) depthExtension(order *model.Execution) []*model.Execution {
	if !e.settings.IncreaseDepthVolume {
		return nil
	}
	quotes := e.book.Side(order.Side.Invert())
	best, ok := quotes.Best()
	if !ok {
		return nil
	}
	reaches := order.OrderPrice.GreaterThanOrEqual(best.Price)
	if order.Side == model.SideSell {
		reaches = order.OrderPrice.LessThanOrEqual(best.Price)
	}
	visible := quotes.Total()
	if !reaches || visible.GreaterThan(order.OrderVolume) {
		return nil
	}

	worst, _ := quotes.Worst()
	step := e.priceStep()
	if quotes.Side() == model.SideBuy {
		step = step.Neg()
	}
	left := order.OrderVolume.Sub(visible).Add(decimal.NewFromInt(1))
	lastVolume := worst.Volume
	lastPrice := worst.Price

	var extra []*model.Execution
	for left.IsPositive() {
		lastVolume = lastVolume.Mul(decimal.NewFromInt(2))
		lastPrice = lastPrice.Add(step)
		if !lastPrice.IsPositive() {
			break
		}
		left = left.Sub(lastVolume)
		extra = append(extra, e.orderLogEntry(order.LocalTime, order.ServerTime, quotes.Side(), lastPrice, lastVolume, false))
	}
	return extra
}

func (e *Engine) orderLogEntry(t, serverTime time.Time, side model.Side, price, volume decimal.Decimal, cancel bool) *model.Execution {
	return &model.Execution{
		Header:         model.Header{LocalTime: t, ServerTime: serverTime},
		SecurityID:     e.id,
		DataType:       model.DataTypeOrderLog,
		HasOrderInfo:   true,
		Side:           side,
		OrderPrice:     price,
		OrderVolume:    volume,
		IsCancellation: cancel,
		TimeInForce:    model.TimeInForcePutInQueue,
	}
}

// acceptExecution applies an own order command once its latency elapsed.
func (e *Engine) acceptExecution(t time.Time, exec *model.Execution, out *model.Batch) error {
	if e.settings.Failing > 0 && e.rnd.Float64()*100 < e.settings.Failing {
		e.logger.Warn("injected failure",
			zap.Int64("transaction_id", exec.TransactionID),
			zap.Bool("cancellation", exec.IsCancellation))
		reply := e.createReply(exec, t, errors.ErrInjectedFailure.Explain("command %d failed", exec.TransactionID))
		reply.Balance = decimal.NewNullDecimal(exec.OrderVolume)
		reply.IsCancellation = exec.IsCancellation
		out.Add(reply)
		return nil
	}

	if exec.IsCancellation {
		return e.acceptCancel(t, exec, out)
	}

	if reason := e.host.CheckRegistration(exec, e.security); reason != nil {
		e.logger.Info("order rejected",
			zap.Int64("transaction_id", exec.TransactionID),
			zap.String("reason", reason.Kind),
			zap.String("message", reason.Message))
		out.Add(e.createReply(exec, t, reason))
		return nil
	}

	if !exec.Balance.Valid {
		exec.Balance = decimal.NewNullDecimal(exec.OrderVolume)
	}
	if exec.OrderID == 0 {
		exec.OrderID = e.host.NextOrderID()
	}
	exec.OrderState = model.OrderStateActive

	reply := e.createReply(exec, t, nil)
	reply.OrderID = exec.OrderID
	reply.OrderState = model.OrderStateActive
	reply.Balance = exec.Balance
	out.Add(reply)
	e.logger.Info("order accepted",
		zap.Int64("transaction_id", exec.TransactionID),
		zap.Int64("order_id", exec.OrderID),
		zap.Stringer("price", exec.OrderPrice),
		zap.Stringer("volume", exec.OrderVolume),
		zap.String("side", string(exec.Side)))

	ledger := e.host.Ledger(exec.PortfolioName)
	reply.Commission = ledger.ProcessOrder(exec, nil, out)

	if err := e.matchOrder(t, exec, out, true, true); err != nil {
		return err
	}

	switch {
	case exec.OrderState == model.OrderStateActive:
		e.rest(exec)
	case exec.IsCanceled():
		balance := exec.Balance.Decimal
		ledger.ProcessOrder(exec, &balance, out)
	}

	e.addDepthSnapshot(t, e.serverTime(t), out)
	return nil
}

func (e *Engine) acceptCancel(t time.Time, exec *model.Execution, out *model.Batch) error {
	order, ok := e.active.Get(exec.OriginalTransactionID)
	if !ok {
		e.logger.Warn("cancel of unknown order",
			zap.Int64("transaction_id", exec.TransactionID),
			zap.Int64("original_transaction_id", exec.OriginalTransactionID))
		reply := e.createReply(exec, t, errors.ErrOrderNotFound.Explain("order %d not found", exec.OriginalTransactionID))
		reply.IsCancellation = true
		out.Add(reply)
		return nil
	}

	e.unrest(order)
	balance := order.GetBalance()
	order.OrderState = model.OrderStateDone
	e.addDepthSnapshot(t, e.serverTime(t), out)

	reply := e.createReply(order, t, nil)
	reply.OrderState = model.OrderStateDone
	reply.OrderID = order.OrderID
	reply.Balance = decimal.NewNullDecimal(balance)
	reply.IsCancellation = true
	out.Add(reply)
	e.logger.Info("order cancelled",
		zap.Int64("transaction_id", order.TransactionID),
		zap.Int64("order_id", order.OrderID),
		zap.Stringer("balance", balance))

	reply.Commission = e.host.Ledger(order.PortfolioName).ProcessOrder(order, &balance, out)
	return nil
}

// rest puts an active order in the book and the lookup tables.
func (e *Engine) rest(order *model.Execution) {
	e.active.Set(order.TransactionID, order)
	if order.ExpiryDate != nil {
		e.expirable.Set(order.TransactionID, endOfDay(*order.ExpiryDate))
	}
	e.book.Side(order.Side).Add(fragmentOf(order))
}

// unrest removes an order from the book and the lookup tables.
func (e *Engine) unrest(order *model.Execution) {
	e.active.Delete(order.TransactionID)
	e.expirable.Delete(order.TransactionID)
	e.book.Side(order.Side).RemoveTransaction(order.OrderPrice, order.TransactionID)
}

func (e *Engine) createReply(original *model.Execution, t time.Time, reason *errors.Error) *model.Execution {
	reply := &model.Execution{
		Header:                model.Header{LocalTime: t, ServerTime: e.serverTime(t)},
		SecurityID:            e.id,
		DataType:              model.DataTypeTransactions,
		HasOrderInfo:          true,
		OriginalTransactionID: original.TransactionID,
		Side:                  original.Side,
		PortfolioName:         original.PortfolioName,
		StrategyID:            original.StrategyID,
		Error:                 reason,
	}
	if reason != nil {
		reply.OrderState = model.OrderStateFailed
	}
	return reply
}

// toOrder reports the current state of order.
func (e *Engine) toOrder(t time.Time, order *model.Execution) *model.Execution {
	return &model.Execution{
		Header:                model.Header{LocalTime: t, ServerTime: e.serverTime(t)},
		SecurityID:            e.id,
		DataType:              model.DataTypeTransactions,
		HasOrderInfo:          true,
		OrderID:               order.OrderID,
		OriginalTransactionID: order.TransactionID,
		Side:                  order.Side,
		OrderPrice:            order.OrderPrice,
		OrderVolume:           order.OrderVolume,
		Balance:               order.Balance,
		OrderState:            order.OrderState,
		PortfolioName:         order.PortfolioName,
		StrategyID:            order.StrategyID,
	}
}

func (e *Engine) processOrderStatus(msg *model.OrderStatusRequest, out *model.Batch) {
	if msg.IsUnsubscribe {
		return
	}
	e.active.Scan(func(_ int64, order *model.Execution) bool {
		last := false
		switch {
		case msg.PortfolioName != "":
			if !strings.EqualFold(msg.PortfolioName, order.PortfolioName) {
				return true
			}
		case msg.OrderID != 0:
			if msg.OrderID != order.OrderID {
				return true
			}
			last = true
		}
		clone := order.Clone()
		clone.OriginalTransactionID = msg.TransactionID
		clone.LocalTime = msg.LocalTime
		clone.ServerTime = e.serverTime(msg.LocalTime)
		out.Add(clone)
		return !last
	})
}

// processGroupCancel cancels the matching active orders one by one.
func (e *Engine) processGroupCancel(msg *model.OrderGroupCancel, out *model.Batch) error {
	for _, order := range e.active.Values() {
		if msg.PortfolioName != "" && !strings.EqualFold(msg.PortfolioName, order.PortfolioName) {
			continue
		}
		if msg.Side != "" && msg.Side != order.Side {
			continue
		}
		cancel := &model.Execution{
			Header:                model.Header{LocalTime: msg.LocalTime, ServerTime: e.serverTime(msg.LocalTime)},
			SecurityID:            e.id,
			DataType:              model.DataTypeTransactions,
			HasOrderInfo:          true,
			IsCancellation:        true,
			TransactionID:         msg.TransactionID,
			OriginalTransactionID: order.TransactionID,
			OrderID:               order.OrderID,
			PortfolioName:         order.PortfolioName,
			Side:                  order.Side,
		}
		if err := e.processExecution(cancel, out); err != nil {
			return err
		}
	}
	return nil
}
