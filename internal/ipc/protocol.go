// Package ipc connects UI collaborators and the CLI to the openqr daemon over
// a local socket.
//
// Every frame is a 16-byte big-endian header followed by a JSON payload.
// Requests carry an ID that the matching response echoes; events are pushed
// to subscribed connections as MsgEvent frames.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"openqr/internal/config"
	"openqr/internal/domain"
	"openqr/internal/history"
	"openqr/internal/service"
)

// Protocol constants.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4F515243 // "OQRC"

	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 16

	// MaxPayload bounds a single frame's payload.
	MaxPayload = 4 * 1024 * 1024
)

// MessageType identifies the type of a frame.
type MessageType uint16

const (
	// Control (0x00xx)
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0005

	// Listener (0x01xx)
	MsgStatus        MessageType = 0x0100
	MsgStatusResp    MessageType = 0x0101
	MsgStartListener MessageType = 0x0102
	MsgStopListener  MessageType = 0x0103
	MsgListenerResp  MessageType = 0x0104
	MsgMetrics       MessageType = 0x0105
	MsgMetricsResp   MessageType = 0x0106

	// Scans (0x02xx)
	MsgProcessScan     MessageType = 0x0200
	MsgProcessScanResp MessageType = 0x0201
	MsgCheckURL        MessageType = 0x0202
	MsgCheckURLResp    MessageType = 0x0203

	// History (0x03xx)
	MsgGetHistory     MessageType = 0x0300
	MsgGetHistoryResp MessageType = 0x0301
	MsgClearHistory   MessageType = 0x0302
	MsgAddScan        MessageType = 0x0304
	MsgMigrateHistory MessageType = 0x0306
	MsgMigrateResp    MessageType = 0x0307
	MsgHistoryAck     MessageType = 0x0308

	// Configuration (0x04xx)
	MsgGetConfig     MessageType = 0x0400
	MsgGetConfigResp MessageType = 0x0401
	MsgSetConfig     MessageType = 0x0402
	MsgSetConfigResp MessageType = 0x0403

	// Events (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// Header flags.
const (
	FlagJSON uint8 = 0x04
)

// Header is the fixed-size frame header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// Message is a header plus payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a frame with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and checks a header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the whole frame to w in a single call.
func (m *Message) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	hw := sliceWriter{b: buf[:0]}
	if err := m.Header.Write(&hw); err != nil {
		return err
	}
	_, err := w.Write(append(hw.b, m.Payload...))
	return err
}

type sliceWriter struct{ b []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

// ReadMessage reads a complete frame.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes into v. An empty payload leaves v untouched.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewResponse encodes v into a frame.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// Error codes carried in ErrorResponse.
const (
	CodeUnknown          = 1
	CodeInvalidRequest   = 2
	CodePermissionDenied = 3
	CodeInternal         = 4
	CodeAlreadyRunning   = 5
	CodeInvalidURL       = 6
	CodeNoDomain         = 7
	CodeBlocked          = 8
	CodeNotAllowlisted   = 9
	CodeStorage          = 10
	CodeInvalidConfig    = 11
)

// ErrorResponse is the payload of MsgError.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates an error frame.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// errorCode classifies err for the wire.
func errorCode(err error) int {
	var verrs config.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAlreadyRunning):
		return CodeAlreadyRunning
	case errors.Is(err, domain.ErrInvalidURL):
		return CodeInvalidURL
	case errors.Is(err, domain.ErrNoDomain):
		return CodeNoDomain
	case errors.Is(err, domain.ErrBlocked):
		return CodeBlocked
	case errors.Is(err, domain.ErrNotAllowlisted):
		return CodeNotAllowlisted
	case errors.Is(err, history.ErrStorage):
		return CodeStorage
	case errors.As(err, &verrs):
		return CodeInvalidConfig
	default:
		return CodeInternal
	}
}

// RemoteError is an error reported by the daemon. It matches the local
// sentinel for its code with errors.Is.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeAlreadyRunning:
		return service.ErrAlreadyRunning
	case CodeInvalidURL:
		return domain.ErrInvalidURL
	case CodeNoDomain:
		return domain.ErrNoDomain
	case CodeBlocked:
		return domain.ErrBlocked
	case CodeNotAllowlisted:
		return domain.ErrNotAllowlisted
	case CodeStorage:
		return history.ErrStorage
	}
	return nil
}

// Request and response payloads.

// ListenerResponse reports the listener state after a start or stop.
type ListenerResponse struct {
	Active bool `json:"active"`
}

// MetricsResponse carries pipeline metrics in Prometheus text form and as
// plain values.
type MetricsResponse struct {
	Text   string           `json:"text"`
	Values map[string]int64 `json:"values"`
}

// ProcessScanRequest carries a raw accumulated scan.
type ProcessScanRequest struct {
	Raw string `json:"raw"`
}

// CheckURLRequest asks whether a URL passes the domain gate.
type CheckURLRequest struct {
	URL string `json:"url"`
}

// CheckURLResponse carries the accepted host.
type CheckURLResponse struct {
	Host string `json:"host"`
}

// GetHistoryResponse lists records newest first.
type GetHistoryResponse struct {
	Records []history.Record `json:"records"`
}

// AddScanRequest appends a caller-built record.
type AddScanRequest struct {
	Record history.Record `json:"record"`
}

// MigrateHistoryRequest copies history between storage methods.
type MigrateHistoryRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MigrateHistoryResponse reports how many records were copied.
type MigrateHistoryResponse struct {
	Migrated int `json:"migrated"`
}

// ConfigPayload carries a full configuration.
type ConfigPayload struct {
	Config *config.Config `json:"config"`
}

// SubscribeRequest selects event names; empty means all.
type SubscribeRequest struct {
	Events []string `json:"events"`
}
