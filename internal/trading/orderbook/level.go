package orderbook

import (
	"github.com/shopspring/decimal"
)

// Level is the FIFO queue of fragments resting at one price.
// Volume always equals the sum of the fragment balances.
type Level struct {
	Price  decimal.Decimal
	Volume decimal.Decimal

	queue []Handle
	byTx  map[int64]Handle
}

func newLevel(price decimal.Decimal) *Level {
	return &Level{Price: price, Volume: decimal.Zero}
}

// Len is the number of fragments in the queue.
func (l *Level) Len() int {
	return len(l.queue)
}

// At returns the i-th handle in queue order.
func (l *Level) At(i int) Handle {
	return l.queue[i]
}

// Handles returns a copy of the queue, oldest first.
func (l *Level) Handles() []Handle {
	out := make([]Handle, len(l.queue))
	copy(out, l.queue)
	return out
}

// ByTransaction finds the fragment of a transaction in O(1).
func (l *Level) ByTransaction(txID int64) (Handle, bool) {
	if txID == 0 || l.byTx == nil {
		return NilHandle, false
	}
	h, ok := l.byTx[txID]
	return h, ok
}

func (l *Level) push(h Handle, f *Fragment) {
	l.queue = append(l.queue, h)
	if f.TransactionID != 0 {
		if l.byTx == nil {
			l.byTx = make(map[int64]Handle)
		}
		l.byTx[f.TransactionID] = h
	}
	l.Volume = l.Volume.Add(f.Balance)
}

func (l *Level) indexOf(h Handle) int {
	for i, q := range l.queue {
		if q == h {
			return i
		}
	}
	return -1
}

func (l *Level) removeAt(i int, f *Fragment) {
	l.queue = append(l.queue[:i], l.queue[i+1:]...)
	if f.TransactionID != 0 && l.byTx != nil {
		delete(l.byTx, f.TransactionID)
	}
	l.Volume = l.Volume.Sub(f.Balance)
}
