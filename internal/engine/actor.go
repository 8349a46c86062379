package engine

import (
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
)

const commandBuffer = 256

// submitCmd asks the owning actor to add order to its book.
type submitCmd struct {
	order book.Order
	reply chan<- submitReply
}

type submitReply struct {
	order    book.Order
	matches  []book.MatchResult
	sequence uint64
	err      error
}

// cancelCmd asks the owning actor to cancel an order.
type cancelCmd struct {
	id    book.OrderId
	reply chan<- cancelReply
}

type cancelReply struct {
	order    book.Order
	sequence uint64
	found    bool
}

// symbolActor serializes every mutation to one symbol's book through cmds,
// while letting reads (GetOrder, Depth) proceed concurrently under a
// read-write lock. This keeps the book.Book type itself free of locking:
// only one goroutine ever calls its mutating methods.
type symbolActor struct {
	symbol book.Symbol
	cmds   chan any

	mu   sync.RWMutex
	book *book.Book
}

func newSymbolActor(symbol book.Symbol) *symbolActor {
	return &symbolActor{
		symbol: symbol,
		cmds:   make(chan any, commandBuffer),
		book:   book.New(symbol),
	}
}

// run is the actor's single-writer loop: it owns every mutation to a.book
// and exits when t is dying, draining no further commands.
func (a *symbolActor) run(t *tomb.Tomb) {
	for {
		select {
		case cmd := <-a.cmds:
			a.handle(cmd)
		case <-t.Dying():
			return
		}
	}
}

func (a *symbolActor) handle(cmd any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch c := cmd.(type) {
	case submitCmd:
		order := c.order
		final, matches, err := a.book.Add(&order)
		a.checkInvariants()
		c.reply <- submitReply{order: final, matches: matches, sequence: a.book.Sequence(), err: err}
	case cancelCmd:
		order, found := a.book.Cancel(c.id)
		a.checkInvariants()
		c.reply <- cancelReply{order: order, sequence: a.book.Sequence(), found: found}
	}
}

// checkInvariants runs after every mutation while the write lock is still
// held. A violation means the book's own bookkeeping has diverged from
// reality; there is no repair path, so the process logs full state and
// terminates rather than keep matching against corrupt data.
func (a *symbolActor) checkInvariants() {
	if err := a.book.AssertInvariants(); err != nil {
		bids, asks := a.book.Depth(0)
		log.Fatal().
			Err(err).
			Str("symbol", string(a.symbol)).
			Interface("bids", bids).
			Interface("asks", asks).
			Msg("book invariant violation, terminating")
	}
}

// getOrder reads without going through the command channel: concurrent
// with handle's write lock, never blocked behind queued mutations.
func (a *symbolActor) getOrder(id book.OrderId) (book.Order, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.book.GetOrder(id)
}

func (a *symbolActor) depth(n int) (bids, asks []book.Level) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.book.Depth(n)
}
