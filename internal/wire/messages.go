// Package wire implements the binary, length-prefixed protocol clients use
// to submit orders and receive execution reports over TCP.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/book"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrInvalidDecimal     = errors.New("invalid decimal field")
)

// MessageType identifies a client-to-server message.
type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
)

// ReportType identifies a server-to-client message.
type ReportType uint16

const (
	ExecutionReport ReportType = iota
	ErrorReport
)

// Message is a parsed client request.
type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

// NewOrderMessage requests that an order be placed. The server mints the
// OrderId; clients reference the order afterward using whatever OrderId
// comes back on the first execution report.
type NewOrderMessage struct {
	BaseMessage
	Symbol    book.Symbol
	OrderType book.OrderType
	Side      book.Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal // zero for Market
	ClientID  string
}

// Order converts the message into a book.Order with the given id. Clients
// that connect without an established account identity send an empty
// ClientID; the server then mints a random one for this order. Each call
// mints a new one, so two such orders from the same connection carry
// different ClientIDs.
func (m *NewOrderMessage) Order(id book.OrderId) book.Order {
	clientID := m.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return book.Order{
		ID:       id,
		ClientID: clientID,
		Symbol:   m.Symbol,
		Side:     m.Side,
		Type:     m.OrderType,
		Quantity: m.Quantity,
		Price:    m.Price,
	}
}

// CancelOrderMessage requests cancellation of a resting order.
type CancelOrderMessage struct {
	BaseMessage
	Symbol  book.Symbol
	OrderID book.OrderId
}

// parseMessage reads the 2-byte type header and dispatches to the
// matching body parser.
func parseMessage(buf []byte) (Message, error) {
	if len(buf) < 2 {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(buf[0:2]))
	body := buf[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	default:
		return nil, ErrInvalidMessageType
	}
}

// readString reads a 2-byte length prefix followed by that many bytes,
// returning the remaining buffer.
func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, ErrMessageTooShort
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, ErrMessageTooShort
	}
	return string(buf[:n]), buf[n:], nil
}

func writeString(buf []byte, s string) []byte {
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(s)))
	buf = append(buf, length[:]...)
	return append(buf, s...)
}

func readDecimal(buf []byte) (decimal.Decimal, []byte, error) {
	s, rest, err := readString(buf)
	if err != nil {
		return decimal.Decimal{}, nil, err
	}
	if s == "" {
		return decimal.Zero, rest, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, nil, ErrInvalidDecimal
	}
	return d, rest, nil
}

func writeDecimal(buf []byte, d decimal.Decimal) []byte {
	return writeString(buf, d.String())
}

func parseNewOrder(buf []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(buf) < 4 {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	symbol, buf, err := readString(buf)
	if err != nil {
		return NewOrderMessage{}, err
	}
	m.Symbol = book.Symbol(symbol)

	if len(buf) < 2 {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.OrderType = book.OrderType(buf[0])
	m.Side = book.Side(buf[1])
	buf = buf[2:]

	m.Quantity, buf, err = readDecimal(buf)
	if err != nil {
		return NewOrderMessage{}, err
	}
	m.Price, buf, err = readDecimal(buf)
	if err != nil {
		return NewOrderMessage{}, err
	}

	clientID, _, err := readString(buf)
	if err != nil {
		return NewOrderMessage{}, err
	}
	m.ClientID = clientID

	return m, nil
}

func parseCancelOrder(buf []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	symbol, buf, err := readString(buf)
	if err != nil {
		return CancelOrderMessage{}, err
	}
	m.Symbol = book.Symbol(symbol)

	if len(buf) < 8 {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.OrderID = book.OrderId(binary.BigEndian.Uint64(buf[0:8]))

	return m, nil
}

// Report is the wire representation of a book.ExecutionReport or an
// out-of-band error, addressed to one client.
type Report struct {
	Type         ReportType
	ExecutionID  uint64
	OrderID      book.OrderId
	TradeID      uint64
	Symbol       book.Symbol
	Side         book.Side
	ExecType     book.ExecType
	Status       book.Status
	Price        decimal.Decimal
	LastQuantity decimal.Decimal
	Cumulative   decimal.Decimal
	Leaves       decimal.Decimal
	TimestampNs  int64
	Err          string
}

// FromExecutionReport converts an engine execution report into its wire form.
func FromExecutionReport(r book.ExecutionReport) Report {
	return Report{
		Type:         ExecutionReport,
		ExecutionID:  r.ExecutionID,
		OrderID:      r.OrderID,
		TradeID:      r.TradeID,
		Symbol:       r.Symbol,
		Side:         r.Side,
		ExecType:     r.ExecType,
		Status:       r.Status,
		Price:        r.Price,
		LastQuantity: r.LastQuantity,
		Cumulative:   r.CumulativeQuantity,
		Leaves:       r.LeavesQuantity,
		TimestampNs:  r.Timestamp.UnixNano(),
		Err:          r.RejectReason,
	}
}

// NewErrorReport wraps a protocol-level error for a single client.
func NewErrorReport(err error) Report {
	return Report{Type: ErrorReport, Err: err.Error()}
}

// Serialize encodes the report for the wire: a 2-byte type, fixed-width
// numeric fields, then variable-length symbol/error strings.
func (r *Report) Serialize() []byte {
	buf := make([]byte, 0, 64)

	var header [2 + 8*3 + 1 + 1 + 1 + 8]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(r.Type))
	binary.BigEndian.PutUint64(header[2:10], r.ExecutionID)
	binary.BigEndian.PutUint64(header[10:18], uint64(r.OrderID))
	binary.BigEndian.PutUint64(header[18:26], r.TradeID)
	header[26] = byte(r.Side)
	header[27] = byte(r.ExecType)
	header[28] = byte(r.Status)
	binary.BigEndian.PutUint64(header[29:37], uint64(r.TimestampNs))
	buf = append(buf, header[:]...)

	buf = writeString(buf, string(r.Symbol))
	buf = writeDecimal(buf, r.Price)
	buf = writeDecimal(buf, r.LastQuantity)
	buf = writeDecimal(buf, r.Cumulative)
	buf = writeDecimal(buf, r.Leaves)
	buf = writeString(buf, r.Err)

	return buf
}

const reportHeaderLen = 2 + 8*3 + 1 + 1 + 1 + 8

// ParseReport decodes a Report previously produced by Serialize.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportHeaderLen {
		return Report{}, ErrMessageTooShort
	}

	r := Report{
		Type:        ReportType(binary.BigEndian.Uint16(buf[0:2])),
		ExecutionID: binary.BigEndian.Uint64(buf[2:10]),
		OrderID:     book.OrderId(binary.BigEndian.Uint64(buf[10:18])),
		TradeID:     binary.BigEndian.Uint64(buf[18:26]),
		Side:        book.Side(buf[26]),
		ExecType:    book.ExecType(buf[27]),
		Status:      book.Status(buf[28]),
		TimestampNs: int64(binary.BigEndian.Uint64(buf[29:37])),
	}
	rest := buf[reportHeaderLen:]

	symbol, rest, err := readString(rest)
	if err != nil {
		return Report{}, err
	}
	r.Symbol = book.Symbol(symbol)

	r.Price, rest, err = readDecimal(rest)
	if err != nil {
		return Report{}, err
	}
	r.LastQuantity, rest, err = readDecimal(rest)
	if err != nil {
		return Report{}, err
	}
	r.Cumulative, rest, err = readDecimal(rest)
	if err != nil {
		return Report{}, err
	}
	r.Leaves, rest, err = readDecimal(rest)
	if err != nil {
		return Report{}, err
	}

	errStr, _, err := readString(rest)
	if err != nil {
		return Report{}, err
	}
	r.Err = errStr

	return r, nil
}
