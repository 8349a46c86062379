package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/book"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fill(side book.Side, qty, price string, ts time.Time) book.ExecutionReport {
	return book.ExecutionReport{
		ExecType:     book.ExecFill,
		Symbol:       "BTC-USD",
		Side:         side,
		LastQuantity: dec(qty),
		Price:        dec(price),
		Timestamp:    ts,
	}
}

func TestOnExecution_OpensNewLongPosition(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("2")))
	assert.True(t, pos.AverageCost.Equal(dec("100")))
	assert.Equal(t, Long, pos.Side)
}

func TestOnExecution_AddingToPositionUpdatesAverageCost(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))
	l.OnExecution("alice", fill(book.Buy, "2", "110", time.Now()))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("4")))
	assert.True(t, pos.AverageCost.Equal(dec("105")), "average cost should be (2*100+2*110)/4=105, got %s", pos.AverageCost)
}

func TestOnExecution_AddingToShortPositionUpdatesAverageCost(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Sell, "1", "100", time.Now()))
	l.OnExecution("alice", fill(book.Sell, "1", "110", time.Now()))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("-2")))
	assert.Equal(t, Short, pos.Side)
	assert.True(t, pos.AverageCost.Equal(dec("105")), "average cost should be (100+110)/2=105, got %s", pos.AverageCost)
}

func TestOnExecution_PartialReduceRealizesPnL(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))
	l.OnExecution("alice", fill(book.Sell, "1", "120", time.Now()))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("1")))
	assert.True(t, pos.RealizedPnL.Equal(dec("20")), "expected realized pnl 20, got %s", pos.RealizedPnL)
	assert.Equal(t, Long, pos.Side)
	assert.True(t, pos.AverageCost.Equal(dec("100")), "average cost is unchanged by a reduce")
}

// TestOnExecution_ReversalFlipsSideAndRebasesCost covers a long position
// being sold through to a short: realized PnL is booked against the old
// average cost for the quantity that closed the long, and the remainder
// opens a fresh short at the fill price.
func TestOnExecution_ReversalFlipsSideAndRebasesCost(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))
	l.OnExecution("alice", fill(book.Sell, "5", "110", time.Now()))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("-3")))
	assert.Equal(t, Short, pos.Side)
	assert.True(t, pos.AverageCost.Equal(dec("110")), "reversal rebases cost to the fill price")
	assert.True(t, pos.RealizedPnL.Equal(dec("20")), "realized pnl on the closed 2 units: (110-100)*2=20")
}

func TestOnExecution_FullyClosingPositionGoesFlat(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))
	l.OnExecution("alice", fill(book.Sell, "2", "105", time.Now()))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.IsZero())
	assert.Equal(t, Flat, pos.Side)
	assert.True(t, pos.AverageCost.IsZero())
}

func TestOnMarkPrice_UpdatesUnrealizedPnL(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))
	l.OnMarkPrice("BTC-USD", dec("115"))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.UnrealizedPnL.Equal(dec("30")), "unrealized pnl should be (115-100)*2=30")

	summary, ok := l.Summary("alice")
	require.True(t, ok)
	assert.True(t, summary.UnrealizedPnL.Equal(dec("30")))
}

func TestSummary_TotalPnLIsRealizedPlusUnrealized(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "4", "100", time.Now()))
	l.OnExecution("alice", fill(book.Sell, "2", "110", time.Now()))
	l.OnMarkPrice("BTC-USD", dec("120"))

	summary, ok := l.Summary("alice")
	require.True(t, ok)
	assert.True(t, summary.TotalPnL.Equal(summary.RealizedPnL.Add(summary.UnrealizedPnL)))
	assert.True(t, summary.RealizedPnL.Equal(dec("20")), "2 units closed at (110-100)=10 each")
	assert.True(t, summary.UnrealizedPnL.Equal(dec("40")), "remaining 2 units at (120-100)=20 each")
}

func TestSummary_TotalEquityIsCashPlusMarkedMarketValue(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "2", "100", time.Now()))
	l.OnMarkPrice("BTC-USD", dec("115"))

	summary, ok := l.Summary("alice")
	require.True(t, ok)
	// cash = -200 (paid for the 2 units), market value = 2*115 = 230.
	assert.True(t, summary.TotalEquity.Equal(dec("30")), "expected equity -200+230=30, got %s", summary.TotalEquity)
}

func TestOnMarkPrice_MarketValueIsSignedForShortPosition(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Sell, "2", "100", time.Now()))
	l.OnMarkPrice("BTC-USD", dec("90"))

	pos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.MarketValue.Equal(dec("-180")), "market value should be signed quantity * mark: -2*90=-180, got %s", pos.MarketValue)
}

func TestOnExecution_IgnoresNonFillReports(t *testing.T) {
	l := New()
	l.OnExecution("alice", book.ExecutionReport{ExecType: book.ExecNew, Symbol: "BTC-USD", Side: book.Buy})

	_, ok := l.Position("alice", "BTC-USD")
	assert.False(t, ok)
}

func TestOnExecution_SeparatesAccountsAndSymbols(t *testing.T) {
	l := New()
	l.OnExecution("alice", fill(book.Buy, "1", "100", time.Now()))
	l.OnExecution("bob", fill(book.Sell, "1", "100", time.Now()))

	alicePos, ok := l.Position("alice", "BTC-USD")
	require.True(t, ok)
	assert.Equal(t, Long, alicePos.Side)

	bobPos, ok := l.Position("bob", "BTC-USD")
	require.True(t, ok)
	assert.Equal(t, Short, bobPos.Side)
}
