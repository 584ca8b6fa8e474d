// ABOUTME: A single live client connection with a bounded outbound event queue
// ABOUTME: Sends never block; events are dropped when the client falls behind

package presence

import (
	"sync"

	"github.com/google/uuid"

	"github.com/2389/huddle-gateway/internal/metrics"
	"github.com/2389/huddle-gateway/internal/store"
)

// Event types pushed to clients.
const (
	EventPresenceChanged = "presenceChanged"
	EventNewMessage      = "newMessage"
)

// outboxSize is the per-connection event buffer.
const outboxSize = 64

// Event is a server-to-client frame.
type Event struct {
	Type    string         `json:"type"`
	Online  []string       `json:"online,omitempty"`
	Message *store.Message `json:"message,omitempty"`
}

// Conn is a live connection handle as seen by the registry and router.
type Conn interface {
	ID() string
	Identity() string
	// Send enqueues an event without blocking and reports whether it was accepted.
	Send(ev *Event) bool
}

// Connection is the default Conn: events are queued on a buffered channel
// that the transport drains.
type Connection struct {
	id       string
	identity string

	mu     sync.Mutex
	closed bool
	outbox chan *Event
}

var _ Conn = (*Connection)(nil)

// NewConnection creates a connection for identity with a fresh ID.
func NewConnection(identity string) *Connection {
	return &Connection{
		id:       uuid.New().String(),
		identity: identity,
		outbox:   make(chan *Event, outboxSize),
	}
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) Identity() string { return c.identity }

// Outbox returns the channel the transport drains. It is closed by Close.
func (c *Connection) Outbox() <-chan *Event {
	return c.outbox
}

// Send enqueues ev. Returns false if the connection is closed or its buffer is full.
func (c *Connection) Send(ev *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.outbox <- ev:
		return true
	default:
		metrics.EventsDropped.Inc()
		return false
	}
}

// Close stops accepting events and closes the outbox. Safe to call twice.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.outbox)
}
