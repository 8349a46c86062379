package book

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvariantViolation describes a structural inconsistency found by
// AssertInvariants. The engine treats its presence as fatal: a violation
// means the book's internal bookkeeping has diverged from its own index,
// and there is no safe way to keep matching against it.
type InvariantViolation struct {
	Symbol Symbol
	Reason string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("book invariant violated for %s: %s", v.Symbol, v.Reason)
}

// AssertInvariants walks both sides of the book and returns the first
// structural inconsistency it finds, or nil if the book is consistent.
// It never mutates state. Called by the engine after every Add/Cancel;
// a non-nil result is unrecoverable corruption, not a user-facing error.
func (b *Book) AssertInvariants() error {
	if v := b.checkOrdering(b.bids, "bid"); v != nil {
		return v
	}
	if v := b.checkOrdering(b.asks, "ask"); v != nil {
		return v
	}
	if v := b.checkCrossed(); v != nil {
		return v
	}
	if v := b.checkLevels(b.bids, "bid"); v != nil {
		return v
	}
	if v := b.checkLevels(b.asks, "ask"); v != nil {
		return v
	}
	if v := b.checkIndexCount(); v != nil {
		return v
	}
	return nil
}

// checkOrdering confirms successive levels are strictly ordered in the
// direction the side requires (bids descending, asks ascending).
func (b *Book) checkOrdering(tree *levelTree, side string) error {
	var prev *PriceLevel
	var violation error
	tree.Scan(func(lvl *PriceLevel) bool {
		if prev != nil {
			ok := false
			if side == "bid" {
				ok = prev.Price.GreaterThan(lvl.Price)
			} else {
				ok = prev.Price.LessThan(lvl.Price)
			}
			if !ok {
				violation = &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
					"%s levels not strictly ordered: %s then %s", side, prev.Price, lvl.Price)}
				return false
			}
		}
		prev = lvl
		return true
	})
	return violation
}

// checkCrossed confirms the best bid never meets or exceeds the best ask.
func (b *Book) checkCrossed() error {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && bid.GreaterThanOrEqual(ask) {
		return &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
			"crossed book: best bid %s >= best ask %s", bid, ask)}
	}
	return nil
}

// checkLevels confirms every resting level is non-empty, every order on it
// has strictly positive remaining quantity, and the level's cached
// TotalQuantity matches the sum of its orders' remaining quantities.
func (b *Book) checkLevels(tree *levelTree, side string) error {
	var violation error
	tree.Scan(func(lvl *PriceLevel) bool {
		if len(lvl.Orders) == 0 {
			violation = &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
				"empty %s level at price %s", side, lvl.Price)}
			return false
		}
		sum := decimal.Zero
		for _, o := range lvl.Orders {
			rem := o.RemainingQuantity()
			if rem.IsNegative() {
				violation = &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
					"negative remaining qty on %s order %d: %s", side, o.ID, rem)}
				return false
			}
			if rem.IsZero() {
				violation = &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
					"zero remaining qty order %d still resting on %s side", o.ID, side)}
				return false
			}
			sum = sum.Add(rem)
		}
		if !sum.Equal(lvl.TotalQuantity) {
			violation = &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
				"%s level %s total quantity %s does not match order sum %s", side, lvl.Price, lvl.TotalQuantity, sum)}
			return false
		}
		return true
	})
	return violation
}

// checkIndexCount confirms every resting order is reachable through the
// index and vice versa: the index and the two trees agree on population.
func (b *Book) checkIndexCount() error {
	count := 0
	b.bids.Scan(func(lvl *PriceLevel) bool {
		count += len(lvl.Orders)
		return true
	})
	b.asks.Scan(func(lvl *PriceLevel) bool {
		count += len(lvl.Orders)
		return true
	})
	if count != len(b.index) {
		return &InvariantViolation{Symbol: b.Symbol, Reason: fmt.Sprintf(
			"order index size %d does not match resting order count %d", len(b.index), count)}
	}
	return nil
}
