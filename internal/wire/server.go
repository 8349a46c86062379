package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

var ErrClientDoesNotExist = errors.New("client does not exist")

// Engine is the subset of the matching engine the server needs. It is
// defined here, rather than imported from internal/engine, so this package
// stays free to be tested against a fake.
type Engine interface {
	Submit(order book.Order) ([]book.ExecutionReport, error)
	Cancel(symbol book.Symbol, orderID book.OrderId) (*book.ExecutionReport, error)
}

type clientMessage struct {
	clientAddress string
	message       Message
}

// Server accepts TCP connections, decodes the wire protocol, forwards
// orders to an Engine, and pushes execution reports back to the
// originating connection.
type Server struct {
	address string
	port    int
	engine  Engine

	pool   WorkerPool
	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]net.Conn

	messages chan clientMessage
}

func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:  address,
		port:     port,
		engine:   engine,
		pool:     NewWorkerPool(defaultNWorkers),
		sessions: make(map[string]net.Conn),
		messages: make(chan clientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run listens for connections and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.dispatchLoop(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server listening")

	for {
		select {
		case <-ctx.Done():
			return t.Wait()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return t.Wait()
				default:
					log.Error().Err(err).Msg("error accepting connection")
					continue
				}
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("client connected")
			s.addSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// dispatchLoop processes decoded client messages serially, one engine call
// at a time, off the accept loop. While it is busy, connection readers wait
// to hand over their next message.
func (s *Server) dispatchLoop(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.messages:
			if err := s.handle(msg); err != nil {
				log.Error().Err(err).Str("address", msg.clientAddress).Msg("error handling message")
				s.sendReport(msg.clientAddress, NewErrorReport(err))
			}
		}
	}
}

func (s *Server) handle(msg clientMessage) error {
	switch m := msg.message.(type) {
	case NewOrderMessage:
		order := m.Order(book.NextOrderID())
		reports, err := s.engine.Submit(order)
		if err != nil {
			return err
		}
		for _, r := range reports {
			s.sendReport(msg.clientAddress, FromExecutionReport(r))
		}
	case CancelOrderMessage:
		report, err := s.engine.Cancel(m.Symbol, m.OrderID)
		if err != nil {
			return err
		}
		if report != nil {
			s.sendReport(msg.clientAddress, FromExecutionReport(*report))
		}
	case BaseMessage:
		// heartbeat: nothing to do
	default:
		return ErrInvalidMessageType
	}
	return nil
}

func (s *Server) sendReport(clientAddress string, report Report) {
	s.sessionsMu.Lock()
	conn, ok := s.sessions[clientAddress]
	s.sessionsMu.Unlock()
	if !ok {
		return
	}
	if _, err := conn.Write(report.Serialize()); err != nil {
		log.Error().Err(err).Str("address", clientAddress).Msg("failed writing report")
		s.removeSession(clientAddress)
	}
}

// handleConnection reads from conn until it errors or its tomb dies,
// decoding the bytes of each Read as one whole message and forwarding it to
// dispatchLoop. Messages are not framed across reads.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return errors.New("unexpected task type")
	}
	address := conn.RemoteAddr().String()
	defer func() {
		s.removeSession(address)
		_ = conn.Close()
	}()

	buffer := make([]byte, maxRecvSize)
	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
			return nil
		}

		n, err := conn.Read(buffer)
		if err != nil {
			log.Info().Err(err).Str("address", address).Msg("connection closed")
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().Err(err).Str("address", address).Msg("malformed message")
			s.sendReport(address, NewErrorReport(err))
			continue
		}

		select {
		case s.messages <- clientMessage{clientAddress: address, message: message}:
		case <-t.Dying():
			return nil
		}
	}
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[conn.RemoteAddr().String()] = conn
}

func (s *Server) removeSession(address string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, address)
}
