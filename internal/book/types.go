// Package book implements a single-instrument limit order book with
// price-time priority matching.
package book

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity  = errors.New("order quantity must be positive")
	ErrInvalidPrice     = errors.New("limit order requires a positive price")
	ErrUnexpectedPrice  = errors.New("market order must not carry a price")
	ErrDuplicateOrder   = errors.New("duplicate order id")
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvariantBroken  = errors.New("order book invariant violated")
)

// OrderId is a process-monotonic identifier minted by the core.
type OrderId uint64

// Symbol is an opaque string key identifying one book.
type Symbol string

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes limit from market orders.
type OrderType uint8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Limit {
		return "limit"
	}
	return "market"
}

// Status tracks the lifecycle of an order.
type Status uint8

const (
	Pending Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Order is a single resting or in-flight order. FilledQuantity and Status
// mutate only while the owning book's writer holds its lock.
type Order struct {
	ID              OrderId
	ClientID        string
	Symbol          Symbol
	Side            Side
	Type            OrderType
	Quantity        decimal.Decimal
	Price           decimal.Decimal // zero-value ignored for Market orders
	FilledQuantity  decimal.Decimal
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingQuantity returns Quantity - FilledQuantity.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Clone returns a value copy, used so resting orders and reports never
// alias mutable state across goroutines.
func (o *Order) Clone() Order {
	return *o
}

// ExecType enumerates the kind of state change an ExecutionReport reports.
type ExecType uint8

const (
	ExecNew ExecType = iota
	ExecPartialFill
	ExecFill
	ExecCancelled
	ExecRejected
)

func (e ExecType) String() string {
	switch e {
	case ExecNew:
		return "new"
	case ExecPartialFill:
		return "partial_fill"
	case ExecFill:
		return "fill"
	case ExecCancelled:
		return "cancelled"
	case ExecRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ExecutionReport is emitted for every order state change.
type ExecutionReport struct {
	ExecutionID        uint64
	Sequence           uint64
	OrderID            OrderId
	TradeID            uint64 // zero when not trade-related
	ClientID           string
	Symbol             Symbol
	Side               Side
	ExecType           ExecType
	Status             Status
	Price              decimal.Decimal // last fill price, zero if not a fill
	LastQuantity       decimal.Decimal
	CumulativeQuantity decimal.Decimal
	LeavesQuantity     decimal.Decimal
	Commission         decimal.Decimal // always zero in the core; fee schedule lives upstream
	Timestamp          time.Time
	LatencyNanos       int64
	RejectReason       string
}

// MatchResult records one fill between a resting maker and an aggressing taker.
type MatchResult struct {
	TradeID      uint64
	MakerOrderID OrderId
	TakerOrderID OrderId
	Symbol       Symbol
	Price        decimal.Decimal // always the maker's resting price
	Quantity     decimal.Decimal
	Timestamp    time.Time

	// The fields below are snapshots of each side's order state immediately
	// after this fill was applied. They are not part of the spec's minimal
	// MatchResult shape but let a caller (the dispatcher) build a correct
	// ExecutionReport per side without re-reading the book, which may no
	// longer hold a maker that was just fully filled.
	MakerClientID           string
	MakerStatus             Status
	MakerCumulativeQuantity decimal.Decimal
	MakerLeavesQuantity     decimal.Decimal
	TakerCumulativeQuantity decimal.Decimal
	TakerLeavesQuantity     decimal.Decimal
}

// ZeroAmount is the zero decimal value, used where a report field has no
// meaningful quantity (e.g. a reject that never reached the book).
var ZeroAmount = decimal.Zero

// Level is a read-only view of one price level used by Snapshot/Depth.
type Level struct {
	Price         decimal.Decimal
	TotalQuantity decimal.Decimal
	OrderCount    int
}
