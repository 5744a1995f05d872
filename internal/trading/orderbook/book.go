package orderbook

import (
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
)

const defaultArenaSize = 256

// Book is the two-sided order book of one security. Both sides share one
// fragment arena. It is owned by a single engine and is not safe for concurrent use.
type Book struct {
	arena *Arena
	Bids  *BookSide
	Asks  *BookSide
}

func NewBook() *Book {
	arena := NewArena(defaultArenaSize)
	return &Book{
		arena: arena,
		Bids:  newBookSide(model.SideBuy, arena),
		Asks:  newBookSide(model.SideSell, arena),
	}
}

// Side returns the bids for buys and the asks for sells.
func (b *Book) Side(side model.Side) *BookSide {
	if side == model.SideBuy {
		return b.Bids
	}
	return b.Asks
}

// LiveFragments is the number of fragments resting in the book.
func (b *Book) LiveFragments() int {
	return b.arena.Live()
}

// Clear empties both sides.
func (b *Book) Clear() {
	b.Bids.Clear()
	b.Asks.Clear()
	b.arena.Reset()
}

// Verify checks the invariants of both sides.
func (b *Book) Verify() error {
	if err := b.Bids.Verify(); err != nil {
		return err
	}
	return b.Asks.Verify()
}
