package stream

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Kind int

const (
	KindWebSocket Kind = iota
	KindSocketIO
)

func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "websocket"
	case KindSocketIO:
		return "socketio"
	default:
		return "unknown"
	}
}

// Direction classifies a log entry. Sent/Received mirror wire traffic;
// System records lifecycle transitions; Error records transport failures.
type Direction string

const (
	DirSent     Direction = "sent"
	DirReceived Direction = "received"
	DirError    Direction = "error"
	DirSystem   Direction = "system"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Status is the connection lifecycle state a session moves through.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Message is one entry in a session's chronological log. Sequence is a
// process-wide monotonic counter so merged views keep a stable order even
// when timestamps collide.
type Message struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
	Format    Format    `json:"format,omitempty"`
	EventName string    `json:"eventName,omitempty"`
}

var seqCounter uint64

func newMessage(dir Direction, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sequence:  atomic.AddUint64(&seqCounter, 1),
		Timestamp: time.Now(),
		Direction: dir,
		Content:   content,
	}
}

// NewSent and friends build entries ready for Session.Append.
func NewSent(content string, format Format) *Message {
	m := newMessage(DirSent, content)
	m.Format = format
	return m
}

func NewReceived(content string, format Format) *Message {
	m := newMessage(DirReceived, content)
	m.Format = format
	return m
}

func NewSystem(content string) *Message {
	return newMessage(DirSystem, content)
}

func NewError(content string) *Message {
	return newMessage(DirError, content)
}
