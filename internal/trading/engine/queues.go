package engine

import (
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"go.uber.org/zap"
)

type pendingExecution struct {
	exec *model.Execution
	due  time.Time
}

// park delays an own command by the configured latency.
func (e *Engine) park(exec *model.Execution) {
	due := exec.LocalTime.Add(e.settings.Latency)
	e.pending = append(e.pending, pendingExecution{exec: exec.Clone(), due: due})
	e.logger.Info("execution parked",
		zap.Int64("transaction_id", exec.TransactionID),
		zap.Time("due", due))
}

// processTime runs the time driven work after every message: expiring
// orders, releasing delayed commands and candle data.
func (e *Engine) processTime(now time.Time, out *model.Batch) error {
	e.expireOrders(now, out)
	if err := e.releasePending(now, out); err != nil {
		return err
	}
	return e.releaseCandles(now, out)
}

func (e *Engine) expireOrders(now time.Time, out *model.Batch) {
	if e.expirable.Len() == 0 {
		return
	}
	var expired []int64
	e.expirable.Scan(func(txID int64, due time.Time) bool {
		if !now.Before(due) {
			expired = append(expired, txID)
		}
		return true
	})

	for _, txID := range expired {
		order, ok := e.active.Get(txID)
		if !ok {
			e.expirable.Delete(txID)
			continue
		}
		e.unrest(order)
		order.OrderState = model.OrderStateDone
		out.Add(e.toOrder(now, order))
		e.logger.Info("order expired",
			zap.Int64("transaction_id", order.TransactionID),
			zap.Int64("order_id", order.OrderID))

		if balance := order.GetBalance(); balance.IsPositive() {
			e.host.Ledger(order.PortfolioName).ProcessOrder(order, &balance, out)
		}
		e.addDepthSnapshot(now, e.serverTime(now), out)
	}
}

// releasePending accepts, in arrival order, every command whose latency elapsed.
func (e *Engine) releasePending(now time.Time, out *model.Batch) error {
	if len(e.pending) == 0 {
		return nil
	}
	var due []pendingExecution
	kept := e.pending[:0]
	for _, p := range e.pending {
		if now.Before(p.due) {
			kept = append(kept, p)
		} else {
			due = append(due, p)
		}
	}
	e.pending = kept

	for _, p := range due {
		p.exec.LocalTime = now
		p.exec.ServerTime = e.serverTime(now)
		if err := e.acceptExecution(now, p.exec, out); err != nil {
			return err
		}
	}
	return nil
}

// releaseCandles hands out the ticks and candles opened before now.
func (e *Engine) releaseCandles(now time.Time, out *model.Batch) error {
	if e.candles.Len() == 0 {
		return nil
	}
	var keys []int64
	e.candles.Scan(func(key int64, _ *candleBucket) bool {
		if key >= now.UnixNano() {
			return false
		}
		keys = append(keys, key)
		return true
	})

	for _, key := range keys {
		bucket, _ := e.candles.Delete(key)
		for _, tick := range bucket.ticks {
			tick.LocalTime = now
			if err := e.processExecution(tick, out); err != nil {
				return err
			}
		}
		out.Add(&model.TimeTick{Header: model.Header{LocalTime: now, ServerTime: now}})
		for _, candle := range bucket.candles {
			candle.LocalTime = now
			out.Add(candle)
		}
	}
	return nil
}
