package book

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevel holds all resting orders at one price, in FIFO arrival order.
type PriceLevel struct {
	Price         decimal.Decimal
	Orders        []*Order
	TotalQuantity decimal.Decimal
}

func (pl *PriceLevel) removeAt(i int) {
	pl.TotalQuantity = pl.TotalQuantity.Sub(pl.Orders[i].RemainingQuantity())
	pl.Orders = append(pl.Orders[:i], pl.Orders[i+1:]...)
}

type levelTree = btree.BTreeG[*PriceLevel]

type indexEntry struct {
	side  Side
	price decimal.Decimal
}

// Book is a single-symbol limit order book: two price-indexed,
// side-ordered collections of FIFO queues, plus an order index for O(log L)
// cancellation.
type Book struct {
	Symbol Symbol

	bids *levelTree // sorted descending by price (best bid first)
	asks *levelTree // sorted ascending by price (best ask first)

	index map[OrderId]indexEntry

	sequence uint64
	trades   idGenerator
}

// New creates an empty book for symbol.
func New(symbol Symbol) *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &Book{
		Symbol: symbol,
		bids:   bids,
		asks:   asks,
		index:  make(map[OrderId]indexEntry),
	}
}

func (b *Book) levelsFor(side Side) *levelTree {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// NextSequence advances and returns the book's monotonically increasing
// state-change counter. Called once per add/cancel/match.
func (b *Book) NextSequence() uint64 {
	b.sequence++
	return b.sequence
}

// Sequence returns the most recently issued sequence number.
func (b *Book) Sequence() uint64 {
	return b.sequence
}

// BestBid returns the highest resting bid price, or ok=false if the bid
// side is empty.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest resting ask price, or ok=false if the ask
// side is empty.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

// Spread returns BestAsk - BestBid, or ok=false unless both sides are
// non-empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns (BestAsk + BestBid) / 2, or ok=false unless both sides
// are non-empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Depth returns up to n aggregate levels per side, best-first.
func (b *Book) Depth(n int) (bids, asks []Level) {
	return b.snapshotSide(b.bids, n), b.snapshotSide(b.asks, n)
}

// Snapshot is an alias of Depth kept for readability at call sites that
// treat it as a point-in-time read.
func (b *Book) Snapshot(n int) (bids, asks []Level) {
	return b.Depth(n)
}

func (b *Book) snapshotSide(tree *levelTree, n int) []Level {
	var out []Level
	tree.Scan(func(lvl *PriceLevel) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		out = append(out, Level{
			Price:         lvl.Price,
			TotalQuantity: lvl.TotalQuantity,
			OrderCount:    len(lvl.Orders),
		})
		return true
	})
	return out
}

// GetOrder returns a snapshot copy of a resting order, if it is still on
// the book.
func (b *Book) GetOrder(id OrderId) (Order, bool) {
	entry, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	lvl, ok := b.levelsFor(entry.side).Get(&PriceLevel{Price: entry.price})
	if !ok {
		return Order{}, false
	}
	for _, o := range lvl.Orders {
		if o.ID == id {
			return o.Clone(), true
		}
	}
	return Order{}, false
}

// insert places order on the book at its limit price, creating the level
// if necessary. Caller guarantees order has remaining quantity and a side.
func (b *Book) insert(order *Order) {
	levels := b.levelsFor(order.Side)
	key := &PriceLevel{Price: order.Price}
	lvl, ok := levels.GetMut(key)
	if !ok {
		lvl = &PriceLevel{Price: order.Price}
		levels.Set(lvl)
	}
	lvl.Orders = append(lvl.Orders, order)
	lvl.TotalQuantity = lvl.TotalQuantity.Add(order.RemainingQuantity())
	b.index[order.ID] = indexEntry{side: order.Side, price: order.Price}
}

// Cancel removes a resting order, returning it with Status set to
// Cancelled, or ok=false if the order is unknown.
func (b *Book) Cancel(id OrderId) (Order, bool) {
	entry, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	levels := b.levelsFor(entry.side)
	lvl, ok := levels.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		delete(b.index, id)
		return Order{}, false
	}
	for i, o := range lvl.Orders {
		if o.ID != id {
			continue
		}
		lvl.removeAt(i)
		if len(lvl.Orders) == 0 {
			levels.Delete(lvl)
		}
		delete(b.index, id)
		o.Status = Cancelled
		o.UpdatedAt = time.Now()
		b.NextSequence()
		return o.Clone(), true
	}
	delete(b.index, id)
	return Order{}, false
}
