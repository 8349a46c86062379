// Package engine is the matching engine dispatcher: it owns the
// symbol-to-book map, serializes commands per symbol, and fans out
// execution reports to every consumer.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/latency"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrShuttingDown  = errors.New("engine is shutting down")
)

const defaultReportBuffer = 1024

// Config controls dispatcher-wide policy decisions left open by the spec.
type Config struct {
	// AutoCreateSymbols, when true (the reference policy), creates an
	// empty book on first reference to an unknown symbol instead of
	// rejecting the order.
	AutoCreateSymbols bool
	// ReportBuffer sizes the engine-wide execution-report fan-out channel.
	ReportBuffer int
	// LatencyWindow sizes the engine's latency tracker ring buffer.
	LatencyWindow int
}

// DefaultConfig returns the reference policy: auto-create symbols, a
// 1024-deep report buffer, a 10,000-sample latency window.
func DefaultConfig() Config {
	return Config{
		AutoCreateSymbols: true,
		ReportBuffer:      defaultReportBuffer,
	}
}

// Engine dispatches submit/cancel commands to per-symbol actors and
// publishes execution reports on a single fan-out channel.
type Engine struct {
	cfg Config

	mu     sync.RWMutex
	actors map[book.Symbol]*symbolActor

	reports chan book.ExecutionReport
	tomb    *tomb.Tomb

	latency *latency.Tracker

	executionIDs uint64
	execMu       sync.Mutex
}

// New creates an engine bound to ctx: cancelling ctx stops every symbol
// actor; Shutdown then closes the report channel once drained.
func New(ctx context.Context, cfg Config) *Engine {
	if cfg.ReportBuffer <= 0 {
		cfg.ReportBuffer = defaultReportBuffer
	}
	t, _ := tomb.WithContext(ctx)
	// A tomb with no running goroutine never reports itself dead, so keep
	// one alive until Kill; Shutdown then returns even if no symbol actor
	// was ever started.
	t.Go(func() error {
		<-t.Dying()
		return nil
	})
	return &Engine{
		cfg:     cfg,
		actors:  make(map[book.Symbol]*symbolActor),
		reports: make(chan book.ExecutionReport, cfg.ReportBuffer),
		tomb:    t,
		latency: latency.New(cfg.LatencyWindow),
	}
}

// Reports returns the engine-wide ordered stream of execution reports.
// Within one symbol, reports arrive in the order matches occurred; across
// symbols no ordering is guaranteed.
func (e *Engine) Reports() <-chan book.ExecutionReport {
	return e.reports
}

// Latency exposes the engine's measured Submit latency distribution.
// Cancel calls are not recorded.
func (e *Engine) Latency() latency.Distribution {
	return e.latency.Distribution()
}

// Shutdown signals every symbol actor to stop after finishing in-flight
// work, waits for them to exit, and closes the report channel.
func (e *Engine) Shutdown() error {
	e.tomb.Kill(nil)
	err := e.tomb.Wait()
	close(e.reports)
	return err
}

func (e *Engine) getOrCreateActor(symbol book.Symbol) (*symbolActor, error) {
	e.mu.RLock()
	a, ok := e.actors[symbol]
	e.mu.RUnlock()
	if ok {
		return a, nil
	}

	if !e.cfg.AutoCreateSymbols {
		return nil, ErrUnknownSymbol
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok = e.actors[symbol]; ok {
		return a, nil
	}
	a = newSymbolActor(symbol)
	e.actors[symbol] = a
	e.tomb.Go(func() error {
		a.run(e.tomb)
		return nil
	})
	log.Info().Str("symbol", string(symbol)).Msg("created order book")
	return a, nil
}

// lookupActor returns an existing actor without creating one, used by
// read-only and cancel paths that must not auto-create a book.
func (e *Engine) lookupActor(symbol book.Symbol) (*symbolActor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actors[symbol]
	return a, ok
}

func (e *Engine) nextExecutionID() uint64 {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	e.executionIDs++
	return e.executionIDs
}

// publish sends a batch of reports to the fan-out channel in order,
// blocking when the channel is full to preserve ordering and avoid drops.
// Always called outside any book lock, so this is a legal suspension point.
func (e *Engine) publish(reports []book.ExecutionReport) {
	for _, r := range reports {
		e.reports <- r
	}
}

// Submit validates, matches, and (if resting) books order, returning every
// execution report produced. Validation failures never mutate state and
// are surfaced as a single Rejected report rather than a Go error.
func (e *Engine) Submit(order book.Order) ([]book.ExecutionReport, error) {
	start := time.Now()
	actor, err := e.getOrCreateActor(order.Symbol)
	if err != nil {
		reports := []book.ExecutionReport{e.rejectedReport(order, err.Error())}
		e.publish(reports)
		return reports, nil
	}

	reply := make(chan submitReply, 1)
	select {
	case actor.cmds <- submitCmd{order: order, reply: reply}:
	case <-e.tomb.Dying():
		return nil, ErrShuttingDown
	}

	select {
	case res := <-reply:
		e.latency.Record(time.Since(start).Nanoseconds())
		if res.err != nil {
			reports := []book.ExecutionReport{e.rejectedReport(order, res.err.Error())}
			e.publish(reports)
			return reports, nil
		}
		reports := e.buildSubmitReports(res)
		e.publish(reports)
		return reports, nil
	case <-e.tomb.Dying():
		return nil, ErrShuttingDown
	}
}

// Cancel requests cancellation of orderID on symbol, returning the
// Cancelled report, or nil if the order is unknown or already terminal.
func (e *Engine) Cancel(symbol book.Symbol, orderID book.OrderId) (*book.ExecutionReport, error) {
	actor, ok := e.lookupActor(symbol)
	if !ok {
		return nil, nil
	}

	reply := make(chan cancelReply, 1)
	select {
	case actor.cmds <- cancelCmd{id: orderID, reply: reply}:
	case <-e.tomb.Dying():
		return nil, ErrShuttingDown
	}

	select {
	case res := <-reply:
		if !res.found {
			return nil, nil
		}
		report := e.cancelReport(res.order, res.sequence)
		e.publish([]book.ExecutionReport{report})
		return &report, nil
	case <-e.tomb.Dying():
		return nil, ErrShuttingDown
	}
}

// GetOrder returns a snapshot of an order if it is still resting on
// symbol's book.
func (e *Engine) GetOrder(symbol book.Symbol, orderID book.OrderId) (book.Order, bool) {
	actor, ok := e.lookupActor(symbol)
	if !ok {
		return book.Order{}, false
	}
	return actor.getOrder(orderID)
}

// GetDepth returns up to n aggregate levels per side for symbol.
func (e *Engine) GetDepth(symbol book.Symbol, n int) (bids, asks []book.Level) {
	actor, ok := e.lookupActor(symbol)
	if !ok {
		return nil, nil
	}
	return actor.depth(n)
}

func (e *Engine) rejectedReport(order book.Order, reason string) book.ExecutionReport {
	return book.ExecutionReport{
		ExecutionID:        e.nextExecutionID(),
		OrderID:            order.ID,
		ClientID:           order.ClientID,
		Symbol:             order.Symbol,
		Side:               order.Side,
		ExecType:           book.ExecRejected,
		Status:             book.Rejected,
		CumulativeQuantity: book.ZeroAmount,
		LeavesQuantity:     order.Quantity,
		Timestamp:          time.Now(),
		RejectReason:       reason,
	}
}

func (e *Engine) cancelReport(order book.Order, seq uint64) book.ExecutionReport {
	return book.ExecutionReport{
		ExecutionID:        e.nextExecutionID(),
		Sequence:           seq,
		OrderID:            order.ID,
		ClientID:           order.ClientID,
		Symbol:             order.Symbol,
		Side:               order.Side,
		ExecType:           book.ExecCancelled,
		Status:             book.Cancelled,
		CumulativeQuantity: order.FilledQuantity,
		LeavesQuantity:     book.ZeroAmount,
		Timestamp:          order.UpdatedAt,
	}
}

// buildSubmitReports converts a book.Add result into the execution report
// sequence spec.md §4.2 describes: two reports per MatchResult (maker then
// taker), or one report when nothing matched (New, or Rejected for an
// unfilled market order).
func (e *Engine) buildSubmitReports(res submitReply) []book.ExecutionReport {
	order := res.order
	now := time.Now()

	if len(res.matches) == 0 {
		return []book.ExecutionReport{{
			ExecutionID:        e.nextExecutionID(),
			Sequence:           res.sequence,
			OrderID:            order.ID,
			ClientID:           order.ClientID,
			Symbol:             order.Symbol,
			Side:                order.Side,
			ExecType:           execTypeFor(order.Status, true),
			Status:             order.Status,
			CumulativeQuantity: order.FilledQuantity,
			LeavesQuantity:     order.RemainingQuantity(),
			Timestamp:          now,
		}}
	}

	reports := make([]book.ExecutionReport, 0, len(res.matches)*2)
	for i, m := range res.matches {
		reports = append(reports, book.ExecutionReport{
			ExecutionID:        e.nextExecutionID(),
			Sequence:           res.sequence,
			OrderID:            m.MakerOrderID,
			TradeID:            m.TradeID,
			ClientID:           m.MakerClientID,
			Symbol:             m.Symbol,
			Side:               order.Side.Opposite(),
			ExecType:           execTypeFor(m.MakerStatus, false),
			Status:             m.MakerStatus,
			Price:              m.Price,
			LastQuantity:       m.Quantity,
			CumulativeQuantity: m.MakerCumulativeQuantity,
			LeavesQuantity:     m.MakerLeavesQuantity,
			Timestamp:          m.Timestamp,
		})

		takerStatus := book.PartiallyFilled
		if m.TakerLeavesQuantity.Sign() == 0 {
			takerStatus = book.Filled
		}
		if i == len(res.matches)-1 && order.Status == book.Rejected {
			takerStatus = book.Rejected
		}
		reports = append(reports, book.ExecutionReport{
			ExecutionID:        e.nextExecutionID(),
			Sequence:           res.sequence,
			OrderID:            order.ID,
			TradeID:            m.TradeID,
			ClientID:           order.ClientID,
			Symbol:             m.Symbol,
			Side:               order.Side,
			ExecType:           execTypeFor(takerStatus, false),
			Status:             takerStatus,
			Price:              m.Price,
			LastQuantity:       m.Quantity,
			CumulativeQuantity: m.TakerCumulativeQuantity,
			LeavesQuantity:     m.TakerLeavesQuantity,
			Timestamp:          m.Timestamp,
		})
	}

	return reports
}

func execTypeFor(status book.Status, isFirstReport bool) book.ExecType {
	switch status {
	case book.Pending:
		if isFirstReport {
			return book.ExecNew
		}
		return book.ExecPartialFill
	case book.PartiallyFilled:
		return book.ExecPartialFill
	case book.Filled:
		return book.ExecFill
	case book.Rejected:
		return book.ExecRejected
	case book.Cancelled:
		return book.ExecCancelled
	default:
		return book.ExecNew
	}
}
