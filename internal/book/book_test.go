package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newOrder(side Side, typ OrderType, price, qty string) *Order {
	return &Order{
		ID:       NextOrderID(),
		ClientID: "tester",
		Symbol:   "BTCUSD",
		Side:     side,
		Type:     typ,
		Price:    dec(price),
		Quantity: dec(qty),
	}
}

func newMarketOrder(side Side, qty string) *Order {
	return &Order{
		ID:       NextOrderID(),
		ClientID: "tester",
		Symbol:   "BTCUSD",
		Side:     side,
		Type:     Market,
		Price:    decimal.Zero,
		Quantity: dec(qty),
	}
}

// Scenario 1: simple limit cross (spec.md §8).
func TestAdd_SimpleLimitCross(t *testing.T) {
	b := New("BTCUSD")

	sell := newOrder(Sell, Limit, "50000", "1")
	resting, matches, err := b.Add(sell)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, Pending, resting.Status)

	buy := newOrder(Buy, Limit, "50000", "1")
	filled, matches, err := b.Add(buy)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Price.Equal(dec("50000")))
	assert.True(t, matches[0].Quantity.Equal(dec("1")))
	assert.Equal(t, Filled, filled.Status)

	_, okBid := b.BestBid()
	_, okAsk := b.BestAsk()
	assert.False(t, okBid)
	assert.False(t, okAsk)
}

// Scenario 2: price-time priority (spec.md §8).
func TestAdd_PriceTimePriority(t *testing.T) {
	b := New("BTCUSD")

	a := newOrder(Sell, Limit, "50000", "0.5")
	_, _, err := b.Add(a)
	require.NoError(t, err)

	bOrder := newOrder(Sell, Limit, "50000", "0.5")
	_, _, err = b.Add(bOrder)
	require.NoError(t, err)

	buy := newOrder(Buy, Limit, "50000", "0.5")
	_, matches, err := b.Add(buy)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, a.ID, matches[0].MakerOrderID)

	bids, asks := b.Depth(10)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].TotalQuantity.Equal(dec("0.5")))

	restB, ok := b.GetOrder(bOrder.ID)
	require.True(t, ok)
	assert.Equal(t, Pending, restB.Status)
}

// Scenario 3: walking the book (spec.md §8).
func TestAdd_WalkingTheBook(t *testing.T) {
	b := New("BTCUSD")

	_, _, err := b.Add(newOrder(Sell, Limit, "100", "1"))
	require.NoError(t, err)
	_, _, err = b.Add(newOrder(Sell, Limit, "101", "1"))
	require.NoError(t, err)
	_, _, err = b.Add(newOrder(Sell, Limit, "102", "1"))
	require.NoError(t, err)

	buy := newOrder(Buy, Limit, "101", "2.5")
	result, matches, err := b.Add(buy)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.True(t, matches[0].Price.Equal(dec("100")))
	assert.True(t, matches[1].Price.Equal(dec("101")))
	assert.Equal(t, PartiallyFilled, result.Status)
	assert.True(t, result.RemainingQuantity().Equal(dec("0")) == false)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(dec("101")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(dec("102")))
}

// Scenario 4: market order into empty side (spec.md §8).
func TestAdd_MarketIntoEmptyBook(t *testing.T) {
	b := New("BTCUSD")

	result, matches, err := b.Add(newMarketOrder(Buy, "1"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, Rejected, result.Status)
	assert.True(t, result.FilledQuantity.Equal(decimal.Zero))

	bids, asks := b.Depth(10)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

// Scenario 6: cancel during partial fill (spec.md §8).
func TestCancel_DuringPartialFill(t *testing.T) {
	b := New("BTCUSD")

	resting := newOrder(Sell, Limit, "50000", "2")
	_, _, err := b.Add(resting)
	require.NoError(t, err)

	_, matches, err := b.Add(newOrder(Buy, Limit, "50000", "1"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	cancelled, ok := b.Cancel(resting.ID)
	require.True(t, ok)
	assert.Equal(t, Cancelled, cancelled.Status)
	assert.True(t, cancelled.FilledQuantity.Equal(dec("1")))
	assert.True(t, cancelled.RemainingQuantity().Equal(dec("1")))

	bids, asks := b.Depth(10)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestCancel_UnknownOrder(t *testing.T) {
	b := New("BTCUSD")
	_, ok := b.Cancel(OrderId(999999))
	assert.False(t, ok)
}

func TestCancel_FullyFilledOrder(t *testing.T) {
	b := New("BTCUSD")
	resting := newOrder(Sell, Limit, "50000", "1")
	_, _, err := b.Add(resting)
	require.NoError(t, err)
	_, _, err = b.Add(newOrder(Buy, Limit, "50000", "1"))
	require.NoError(t, err)

	_, ok := b.Cancel(resting.ID)
	assert.False(t, ok)
}

func TestAdd_RejectsZeroQuantity(t *testing.T) {
	b := New("BTCUSD")
	o := newOrder(Buy, Limit, "100", "0")
	_, _, err := b.Add(o)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAdd_RejectsLimitWithoutPrice(t *testing.T) {
	b := New("BTCUSD")
	o := newOrder(Buy, Limit, "0", "1")
	_, _, err := b.Add(o)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestAdd_RejectsDuplicateID(t *testing.T) {
	b := New("BTCUSD")
	o := newOrder(Buy, Limit, "100", "1")
	_, _, err := b.Add(o)
	require.NoError(t, err)

	dup := o.Clone()
	_, _, err = b.Add(&dup)
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

// No-crossed-book invariant (spec.md §8) under repeated resting + matching.
func TestInvariant_NoCrossedBook(t *testing.T) {
	b := New("BTCUSD")
	_, _, err := b.Add(newOrder(Buy, Limit, "99", "1"))
	require.NoError(t, err)
	_, _, err = b.Add(newOrder(Sell, Limit, "101", "1"))
	require.NoError(t, err)

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	assert.True(t, bid.LessThan(ask))
}

// Level totals invariant (spec.md §8): TotalQuantity tracks remaining sum.
func TestInvariant_LevelTotals(t *testing.T) {
	b := New("BTCUSD")
	_, _, err := b.Add(newOrder(Buy, Limit, "99", "3"))
	require.NoError(t, err)
	_, _, err = b.Add(newOrder(Buy, Limit, "99", "2"))
	require.NoError(t, err)

	bids, _ := b.Depth(10)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].TotalQuantity.Equal(dec("5")))
}

// Exact match of equal quantities: both orders filled, level removed.
func TestAdd_ExactMatchRemovesLevel(t *testing.T) {
	b := New("BTCUSD")
	_, _, err := b.Add(newOrder(Sell, Limit, "50000", "1"))
	require.NoError(t, err)
	result, matches, err := b.Add(newOrder(Buy, Limit, "50000", "1"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Filled, result.Status)

	bids, asks := b.Depth(10)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}
