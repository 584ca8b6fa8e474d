// ABOUTME: Conversation service: the one place messages are persisted and then delivered
// ABOUTME: Owns connection handshake, membership rules, and the bot dialog flow

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/huddle-gateway/internal/presence"
	"github.com/2389/huddle-gateway/internal/store"
)

var (
	// ErrMembership is the root of every membership rule violation.
	ErrMembership = errors.New("membership violation")

	// ErrNotParticipant is returned when the caller is not in the conversation.
	ErrNotParticipant = fmt.Errorf("%w: not a participant", ErrMembership)

	// ErrNotAdmin is returned when a non-admin tries an admin-only change.
	ErrNotAdmin = fmt.Errorf("%w: only the group admin can do that", ErrMembership)

	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
)

// Presence is the registry surface the service drives on connect and disconnect.
type Presence interface {
	Register(conn presence.Conn) error
	Unregister(conn presence.Conn)
}

// RoomReconciler re-derives an identity's room set from the directory.
type RoomReconciler interface {
	Reconcile(ctx context.Context, identity string) error
}

// Deliverer pushes persisted messages to live connections.
type Deliverer interface {
	Deliver(msg *store.Message) int
	DeliverTo(identity string, msg *store.Message) int
}

// Dispatcher produces bot replies.
type Dispatcher interface {
	Dispatch(ctx context.Context, bot *store.BotProfile, prompt string, history []*store.Message) (string, error)
	HistoryLimit() int
	Supports(model string) bool
}

// Sealer encrypts provider credentials for storage.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// Deps wires the service to its collaborators.
type Deps struct {
	Directory  store.Directory
	Presence   Presence
	Rooms      RoomReconciler
	Router     Deliverer
	Dispatcher Dispatcher
	Keys       Sealer
	Logger     *slog.Logger
}

// Service is the central conversation layer. Every message is persisted
// before it is delivered, and every membership change is followed by a
// room reconciliation for the identities it affects.
type Service struct {
	dir        store.Directory
	presence   Presence
	rooms      RoomReconciler
	router     Deliverer
	dispatcher Dispatcher
	keys       Sealer
	logger     *slog.Logger

	defaultBotMu sync.Mutex
}

// New creates a Service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dir:        d.Directory,
		presence:   d.Presence,
		rooms:      d.Rooms,
		router:     d.Router,
		dispatcher: d.Dispatcher,
		keys:       d.Keys,
		logger:     logger.With("component", "conversation"),
	}
}

// Connect registers a live connection and joins it to its conversation rooms.
// If the rooms cannot be loaded the connection is unregistered again.
func (s *Service) Connect(ctx context.Context, conn presence.Conn) error {
	if err := s.presence.Register(conn); err != nil {
		return fmt.Errorf("registering connection: %w", err)
	}
	if err := s.rooms.Reconcile(ctx, conn.Identity()); err != nil {
		s.presence.Unregister(conn)
		return fmt.Errorf("joining rooms: %w", err)
	}
	return nil
}

// Disconnect removes a live connection and its room memberships.
func (s *Service) Disconnect(conn presence.Conn) {
	s.presence.Unregister(conn)
}

// reconcile refreshes room membership for each identity. Failures are
// logged; the membership change they follow has already been committed.
func (s *Service) reconcile(ctx context.Context, identities ...string) {
	for _, identity := range identities {
		if err := s.rooms.Reconcile(ctx, identity); err != nil {
			s.logger.Warn("room reconcile failed",
				"identity", identity,
				"error", err)
		}
	}
}
