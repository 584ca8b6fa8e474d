// ABOUTME: Delivers persisted messages to live connections
// ABOUTME: Room broadcast for conversation messages, direct delivery for receiver messages

package fanout

import (
	"log/slog"

	"github.com/2389/huddle-gateway/internal/metrics"
	"github.com/2389/huddle-gateway/internal/presence"
	"github.com/2389/huddle-gateway/internal/store"
)

// Targets resolves the connections a message should reach.
type Targets interface {
	RoomMembers(roomID string) []presence.Conn
	ConnectionsFor(identity string) []presence.Conn
}

// Router pushes newMessage events to live connections. Delivery is
// fire-and-forget: a message is already persisted by the time it gets here,
// so send failures are logged and counted but never surfaced.
type Router struct {
	targets Targets
	logger  *slog.Logger
}

// NewRouter creates a Router. Pass nil logger for default.
func NewRouter(targets Targets, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		targets: targets,
		logger:  logger.With("component", "fanout"),
	}
}

// Deliver sends msg to every connection in its conversation room, or to
// every connection of its direct receiver. Returns the number of
// connections that accepted the event.
func (r *Router) Deliver(msg *store.Message) int {
	if msg.IsDirect() {
		return r.send(r.targets.ConnectionsFor(msg.ReceiverID), msg, "direct")
	}
	return r.send(r.targets.RoomMembers(msg.ConversationID), msg, "room")
}

// DeliverTo sends msg to every connection of identity regardless of the
// message's own target. Used to echo a direct message back to its sender.
func (r *Router) DeliverTo(identity string, msg *store.Message) int {
	return r.send(r.targets.ConnectionsFor(identity), msg, "direct")
}

func (r *Router) send(conns []presence.Conn, msg *store.Message, target string) int {
	if len(conns) == 0 {
		return 0
	}

	ev := &presence.Event{Type: presence.EventNewMessage, Message: msg}
	delivered := 0
	for _, c := range conns {
		if c.Send(ev) {
			delivered++
			continue
		}
		r.logger.Warn("dropped message for connection",
			"message_id", msg.ID,
			"identity", c.Identity(),
			"conn_id", c.ID())
	}
	metrics.MessagesDelivered.WithLabelValues(target).Add(float64(delivered))
	return delivered
}
