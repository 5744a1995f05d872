// Fragment arena: slots addressed by handle with a free list.
// Freed slots are cleared before they go back on the list, so a handle that is
// reused never observes stale order data.

package orderbook

import (
	"github.com/shopspring/decimal"
)

// Handle addresses a fragment slot in an Arena.
type Handle int32

// NilHandle never addresses a slot.
const NilHandle Handle = -1

// Fragment is one resting order's (or synthetic) remaining volume at a price.
type Fragment struct {
	// TransactionID is zero for synthetic volume.
	TransactionID int64
	// Portfolio is empty for synthetic and foreign volume.
	Portfolio string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Balance   decimal.Decimal
}

// IsUser reports whether the fragment belongs to a tracked user order.
func (f *Fragment) IsUser() bool {
	return f.Portfolio != ""
}

func (f *Fragment) reset() {
	*f = Fragment{}
}

// Arena pools fragments. It is not safe for concurrent use.
type Arena struct {
	slots []Fragment
	free  []Handle
}

func NewArena(capacity int) *Arena {
	return &Arena{slots: make([]Fragment, 0, capacity)}
}

// Alloc returns a cleared slot, reusing a freed one when available.
func (a *Arena) Alloc() Handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		return h
	}
	a.slots = append(a.slots, Fragment{})
	return Handle(len(a.slots) - 1)
}

// Get returns the fragment stored at h.
func (a *Arena) Get(h Handle) *Fragment {
	return &a.slots[h]
}

// Free clears the slot and makes it available for reuse.
func (a *Arena) Free(h Handle) {
	a.slots[h].reset()
	a.free = append(a.free, h)
}

// Live is the number of allocated, not freed, slots.
func (a *Arena) Live() int {
	return len(a.slots) - len(a.free)
}

// Reset drops every slot.
func (a *Arena) Reset() {
	a.slots = a.slots[:0]
	a.free = a.free[:0]
}
