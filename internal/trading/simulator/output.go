package simulator

import (
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
)

// recalcPnL marks every portfolio to the prices seen in out once the
// recalculation interval has passed since the last sweep.
func (r *Router) recalcPnL(t time.Time, out *model.Batch) {
	interval := r.settings.PortfolioRecalcInterval
	if interval == 0 || t.Sub(r.pnlPrevRecalc) <= interval {
		return
	}

	for _, msg := range *out {
		for _, name := range r.ledgerOrder {
			r.ledgers[name].PnL().ProcessMessage(msg)
		}
		t = msg.Head().LocalTime
	}
	for _, name := range r.ledgerOrder {
		r.ledgers[name].AddPortfolioChange(t, out)
	}
	r.pnlPrevRecalc = t
}

// bufferResult holds output back until BufferTime passed since the last flush.
func (r *Router) bufferResult(out model.Batch, t time.Time) model.Batch {
	if r.settings.BufferTime <= 0 {
		return out
	}
	r.buffer = append(r.buffer, out...)
	if t.Sub(r.bufferPrevFlush) <= r.settings.BufferTime {
		return nil
	}
	r.bufferPrevFlush = t
	flushed := r.buffer
	r.buffer = nil
	return flushed
}

func (r *Router) observe(out model.Batch) {
	for _, msg := range out {
		r.metrics.MessagesOut.WithLabelValues(string(msg.Kind())).Inc()
		exec, ok := msg.(*model.Execution)
		if !ok || exec.DataType != model.DataTypeTransactions {
			continue
		}
		if exec.HasTradeInfo {
			r.metrics.Fills.WithLabelValues(strings.ToLower(string(exec.Side))).Inc()
		}
		if exec.OrderState == model.OrderStateFailed && exec.Error != nil {
			r.metrics.Rejections.WithLabelValues(exec.Error.Kind).Inc()
		}
	}

	pending := 0
	r.markets.Scan(func(m *market) bool {
		pending += m.engine.PendingCount()
		return true
	})
	r.metrics.PendingExecutions.Set(float64(pending))
}
