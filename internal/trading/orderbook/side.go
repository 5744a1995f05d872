package orderbook

import (
	"fmt"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// BookSide holds the price levels of one side, best price first.
type BookSide struct {
	side   model.Side
	arena  *Arena
	levels *btree.BTreeG[*Level]
	total  decimal.Decimal
}

func newBookSide(side model.Side, arena *Arena) *BookSide {
	less := func(a, b *Level) bool { return a.Price.LessThan(b.Price) }
	if side == model.SideBuy {
		less = func(a, b *Level) bool { return a.Price.GreaterThan(b.Price) }
	}
	return &BookSide{
		side:   side,
		arena:  arena,
		levels: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
		total:  decimal.Zero,
	}
}

func (s *BookSide) Side() model.Side { return s.side }

// Len is the number of price levels.
func (s *BookSide) Len() int { return s.levels.Len() }

// Total is the volume resting on this side.
func (s *BookSide) Total() decimal.Decimal { return s.total }

// Best returns the best priced level.
func (s *BookSide) Best() (*Level, bool) { return s.levels.Min() }

// Worst returns the level farthest from the spread.
func (s *BookSide) Worst() (*Level, bool) { return s.levels.Max() }

// Level finds the level at price.
func (s *BookSide) Level(price decimal.Decimal) (*Level, bool) {
	return s.levels.Get(&Level{Price: price})
}

// Levels returns the levels best first. The slice is a copy, so levels may be
// removed while iterating it.
func (s *BookSide) Levels() []*Level {
	return s.levels.Items()
}

// Scan walks the levels best first until fn returns false. fn must not add or remove levels.
func (s *BookSide) Scan(fn func(l *Level) bool) {
	s.levels.Scan(fn)
}

// Fragment resolves a handle.
func (s *BookSide) Fragment(h Handle) *Fragment {
	return s.arena.Get(h)
}

// Add appends a fragment to the back of the queue at f.Price, creating the level when needed.
func (s *BookSide) Add(f Fragment) Handle {
	l, ok := s.Level(f.Price)
	if !ok {
		l = newLevel(f.Price)
		s.levels.Set(l)
	}
	h := s.arena.Alloc()
	slot := s.arena.Get(h)
	*slot = f
	l.push(h, slot)
	s.total = s.total.Add(f.Balance)
	return h
}

// RemoveTransaction removes the fragment of txID at price and returns its balance.
func (s *BookSide) RemoveTransaction(price decimal.Decimal, txID int64) (decimal.Decimal, bool) {
	l, ok := s.Level(price)
	if !ok {
		return decimal.Zero, false
	}
	h, ok := l.ByTransaction(txID)
	if !ok {
		return decimal.Zero, false
	}
	f := s.arena.Get(h)
	balance := f.Balance
	l.removeAt(l.indexOf(h), f)
	s.total = s.total.Sub(balance)
	s.arena.Free(h)
	s.Prune(l)
	return balance, true
}

// RemoveSynthetic takes up to volume of synthetic volume off the front of the
// queue at price, splitting the last fragment touched. It returns the volume removed.
func (s *BookSide) RemoveSynthetic(price, volume decimal.Decimal) decimal.Decimal {
	l, ok := s.Level(price)
	if !ok {
		return decimal.Zero
	}
	left := volume
	for i := 0; i < len(l.queue) && left.IsPositive(); {
		h := l.queue[i]
		f := s.arena.Get(h)
		if f.TransactionID != 0 || f.IsUser() {
			i++
			continue
		}
		if f.Balance.GreaterThan(left) {
			f.Balance = f.Balance.Sub(left)
			l.Volume = l.Volume.Sub(left)
			s.total = s.total.Sub(left)
			left = decimal.Zero
			break
		}
		left = left.Sub(f.Balance)
		s.total = s.total.Sub(f.Balance)
		l.removeAt(i, f)
		s.arena.Free(h)
	}
	s.Prune(l)
	return volume.Sub(left)
}

// SyntheticVolume sums the balances of the non-user fragments of l.
func (s *BookSide) SyntheticVolume(l *Level) decimal.Decimal {
	sum := decimal.Zero
	for _, h := range l.queue {
		if f := s.arena.Get(h); !f.IsUser() {
			sum = sum.Add(f.Balance)
		}
	}
	return sum
}

// Reduce takes volume off the fragment h of level l. A fragment left with a
// zero balance is removed from the queue and freed; the level itself stays in
// the tree until Prune.
func (s *BookSide) Reduce(l *Level, h Handle, volume decimal.Decimal) (bool, error) {
	f := s.arena.Get(h)
	if !volume.IsPositive() || volume.GreaterThan(f.Balance) {
		return false, fmt.Errorf("reduce fragment %d at %s by %s: balance %s", f.TransactionID, l.Price, volume, f.Balance)
	}
	f.Balance = f.Balance.Sub(volume)
	l.Volume = l.Volume.Sub(volume)
	s.total = s.total.Sub(volume)
	if !f.Balance.IsZero() {
		return false, nil
	}
	l.removeAt(l.indexOf(h), f)
	s.arena.Free(h)
	return true, nil
}

// Prune drops l from the tree when it has no fragments left.
func (s *BookSide) Prune(l *Level) bool {
	if l.Len() > 0 {
		return false
	}
	s.levels.Delete(l)
	return true
}

// RemoveLevel drops the whole level and returns copies of its fragments in queue order.
func (s *BookSide) RemoveLevel(l *Level) []Fragment {
	out := make([]Fragment, 0, len(l.queue))
	for _, h := range l.queue {
		out = append(out, *s.arena.Get(h))
		s.arena.Free(h)
	}
	s.total = s.total.Sub(l.Volume)
	l.queue = nil
	l.byTx = nil
	l.Volume = decimal.Zero
	s.levels.Delete(l)
	return out
}

// Snapshot aggregates the side into quotes, best first.
func (s *BookSide) Snapshot() []model.Quote {
	quotes := make([]model.Quote, 0, s.levels.Len())
	s.levels.Scan(func(l *Level) bool {
		quotes = append(quotes, model.Quote{Price: l.Price, Volume: l.Volume})
		return true
	})
	return quotes
}

// Clear frees every fragment.
func (s *BookSide) Clear() {
	s.levels.Scan(func(l *Level) bool {
		for _, h := range l.queue {
			s.arena.Free(h)
		}
		return true
	})
	s.levels.Clear()
	s.total = decimal.Zero
}

// Verify checks the volume invariants: level volume equals the sum of its
// balances, no level is empty and the side total equals the sum of levels.
func (s *BookSide) Verify() error {
	total := decimal.Zero
	var err error
	s.levels.Scan(func(l *Level) bool {
		if l.Len() == 0 {
			err = fmt.Errorf("%s level %s is empty", s.side, l.Price)
			return false
		}
		sum := decimal.Zero
		for _, h := range l.queue {
			f := s.arena.Get(h)
			if !f.Balance.IsPositive() {
				err = fmt.Errorf("%s level %s holds fragment %d with balance %s", s.side, l.Price, f.TransactionID, f.Balance)
				return false
			}
			sum = sum.Add(f.Balance)
		}
		if !sum.Equal(l.Volume) {
			err = fmt.Errorf("%s level %s volume %s != fragments %s", s.side, l.Price, l.Volume, sum)
			return false
		}
		total = total.Add(l.Volume)
		return true
	})
	if err != nil {
		return err
	}
	if !total.Equal(s.total) {
		return fmt.Errorf("%s total %s != levels %s", s.side, s.total, total)
	}
	return nil
}
