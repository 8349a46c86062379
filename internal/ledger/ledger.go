// Package ledger tracks per-account positions and PnL from a stream of
// execution reports, and revalues them against incoming mark prices.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fenrir/internal/book"
)

// PositionSide summarizes the sign of a Position's quantity.
type PositionSide uint8

const (
	Flat PositionSide = iota
	Long
	Short
)

func (s PositionSide) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Position is one account's holding in one symbol. Quantity is signed:
// positive for long, negative for short.
type Position struct {
	Symbol         book.Symbol
	Quantity       decimal.Decimal
	AverageCost    decimal.Decimal
	MarketValue    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	Side           PositionSide
	FirstTradeTime time.Time
	LastTradeTime  time.Time
	TradeCount     uint64
}

// Portfolio is one account's full set of positions plus a cash balance.
type Portfolio struct {
	AccountID     string
	Positions     map[book.Symbol]*Position
	CashBalance   decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	LastUpdate    time.Time

	// marketValue is the sum of every position's signed MarketValue,
	// kept current by revaluePortfolio. Equity is cash plus this, not
	// cash plus PnL: PnL is already reflected in cash via the realized
	// trade flow booked in applyFill, so adding it again would double
	// count it.
	marketValue decimal.Decimal
}

// Summary is a flattened, read-only view of a Portfolio for reporting.
type Summary struct {
	AccountID      string
	TotalEquity    decimal.Decimal
	CashBalance    decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalPnL       decimal.Decimal
	PositionsCount int
	Timestamp      time.Time
}

func newPortfolio(accountID string) *Portfolio {
	return &Portfolio{
		AccountID: accountID,
		Positions: make(map[book.Symbol]*Position),
	}
}

func newPosition(symbol book.Symbol) *Position {
	return &Position{Symbol: symbol}
}

// Ledger maintains one Portfolio per account, fed by execution reports and
// mark-price updates. Safe for concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	portfolios map[string]*Portfolio
	prices     map[book.Symbol]decimal.Decimal
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		portfolios: make(map[string]*Portfolio),
		prices:     make(map[book.Symbol]decimal.Decimal),
	}
}

// OnExecution applies a fill to accountID's position in report.Symbol,
// updating average cost on an add, and realized PnL on a reduce or
// reversal. Non-fill reports (New, Cancelled, Rejected) are ignored: only
// ExecPartialFill and ExecFill carry a trade to apply.
func (l *Ledger) OnExecution(accountID string, report book.ExecutionReport) {
	if report.ExecType != book.ExecPartialFill && report.ExecType != book.ExecFill {
		return
	}
	if report.LastQuantity.Sign() <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	portfolio, ok := l.portfolios[accountID]
	if !ok {
		portfolio = newPortfolio(accountID)
		l.portfolios[accountID] = portfolio
	}

	position, ok := portfolio.Positions[report.Symbol]
	if !ok {
		position = newPosition(report.Symbol)
		portfolio.Positions[report.Symbol] = position
	}

	mark, hasMark := l.prices[report.Symbol]
	applyFill(portfolio, position, report, mark, hasMark)
	l.revaluePortfolio(portfolio)
}

// applyFill mutates position and portfolio in place per the add/reduce/
// reversal rules: adding to a position moves its average cost, while
// reducing or reversing one realizes PnL against the old average cost.
// mark/hasMark is the most recent price recorded via OnMarkPrice for
// report.Symbol, if any; MarketValue falls back to cost (quantity times
// average cost) until a real mark arrives.
func applyFill(portfolio *Portfolio, position *Position, report book.ExecutionReport, mark decimal.Decimal, hasMark bool) {
	isBuy := report.Side == book.Buy
	tradeValue := report.LastQuantity.Mul(report.Price)
	delta := report.LastQuantity
	if !isBuy {
		delta = delta.Neg()
	}

	switch {
	case position.Quantity.Sign() == 0:
		position.Quantity = delta
		position.AverageCost = report.Price
		position.Side = sideOf(position.Quantity)
		position.FirstTradeTime = report.Timestamp

	case sameSign(position.Quantity, delta):
		totalCost := position.Quantity.Abs().Mul(position.AverageCost).Add(tradeValue)
		position.Quantity = position.Quantity.Add(delta)
		if position.Quantity.Sign() != 0 {
			position.AverageCost = totalCost.Div(position.Quantity.Abs())
		}

	default:
		reduceQty := decimalMin(delta.Abs(), position.Quantity.Abs())
		var realized decimal.Decimal
		if isBuy {
			realized = position.AverageCost.Sub(report.Price).Mul(reduceQty)
		} else {
			realized = report.Price.Sub(position.AverageCost).Mul(reduceQty)
		}
		position.RealizedPnL = position.RealizedPnL.Add(realized)
		portfolio.RealizedPnL = portfolio.RealizedPnL.Add(realized)

		oldSign := position.Quantity.Sign()
		position.Quantity = position.Quantity.Add(delta)

		switch {
		case position.Quantity.Sign() == 0:
			position.Side = Flat
			position.AverageCost = decimal.Zero
		case position.Quantity.Sign() != oldSign:
			position.AverageCost = report.Price
			position.Side = sideOf(position.Quantity)
		}
	}

	position.LastTradeTime = report.Timestamp
	position.TradeCount++

	if hasMark {
		position.MarketValue = position.Quantity.Mul(mark)
	} else {
		position.MarketValue = position.Quantity.Mul(position.AverageCost)
	}

	cashImpact := tradeValue
	if isBuy {
		cashImpact = cashImpact.Neg()
	}
	portfolio.CashBalance = portfolio.CashBalance.Add(cashImpact)
	portfolio.LastUpdate = report.Timestamp
}

// OnMarkPrice records a new mark for symbol and revalues every portfolio
// that holds it.
func (l *Ledger) OnMarkPrice(symbol book.Symbol, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prices[symbol] = price
	for _, portfolio := range l.portfolios {
		position, ok := portfolio.Positions[symbol]
		if ok && position.Quantity.Sign() != 0 {
			position.MarketValue = position.Quantity.Mul(price)
			position.UnrealizedPnL = price.Sub(position.AverageCost).Mul(position.Quantity)
		}
		l.revaluePortfolio(portfolio)
	}
}

func (l *Ledger) revaluePortfolio(portfolio *Portfolio) {
	var unrealized, marketValue decimal.Decimal
	for _, p := range portfolio.Positions {
		unrealized = unrealized.Add(p.UnrealizedPnL)
		marketValue = marketValue.Add(p.MarketValue)
	}
	portfolio.UnrealizedPnL = unrealized
	portfolio.marketValue = marketValue
}

// Position returns a copy of accountID's position in symbol, if any.
func (l *Ledger) Position(accountID string, symbol book.Symbol) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	portfolio, ok := l.portfolios[accountID]
	if !ok {
		return Position{}, false
	}
	position, ok := portfolio.Positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *position, true
}

// Summary returns a point-in-time summary of accountID's portfolio.
func (l *Ledger) Summary(accountID string) (Summary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	portfolio, ok := l.portfolios[accountID]
	if !ok {
		return Summary{}, false
	}
	total := portfolio.RealizedPnL.Add(portfolio.UnrealizedPnL)
	return Summary{
		AccountID:      accountID,
		TotalEquity:    portfolio.CashBalance.Add(portfolio.marketValue),
		CashBalance:    portfolio.CashBalance,
		RealizedPnL:    portfolio.RealizedPnL,
		UnrealizedPnL:  portfolio.UnrealizedPnL,
		TotalPnL:       total,
		PositionsCount: len(portfolio.Positions),
		Timestamp:      portfolio.LastUpdate,
	}, true
}

func sideOf(qty decimal.Decimal) PositionSide {
	switch qty.Sign() {
	case 1:
		return Long
	case -1:
		return Short
	default:
		return Flat
	}
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.Sign() > 0) == (b.Sign() > 0)
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
