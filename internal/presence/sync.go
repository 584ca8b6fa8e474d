// ABOUTME: Reconciles live connections' room membership with the conversation graph
// ABOUTME: The only code path that joins or leaves conversation rooms

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/huddle-gateway/internal/metrics"
	"github.com/2389/huddle-gateway/internal/store"
)

// ConversationFinder is the slice of the Directory the synchronizer reads.
type ConversationFinder interface {
	FindConversationsByParticipant(ctx context.Context, identity string) ([]*store.Conversation, error)
}

// Synchronizer keeps each identity's live connections joined to exactly the
// rooms of the conversations that identity belongs to.
type Synchronizer struct {
	registry *Registry
	finder   ConversationFinder
	logger   *slog.Logger

	mu    sync.Mutex
	loads map[string]*loadState
}

// loadState orders the directory loads of one identity. Only a load newer
// than the last applied one may change rooms.
type loadState struct {
	issued   uint64
	applied  uint64
	inFlight int
}

// NewSynchronizer creates a Synchronizer. Pass nil logger for default.
func NewSynchronizer(registry *Registry, finder ConversationFinder, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		registry: registry,
		finder:   finder,
		logger:   logger.With("component", "rooms"),
		loads:    make(map[string]*loadState),
	}
}

// Reconcile loads identity's conversations and sets the room set of every
// live connection of identity to match. The directory read happens without
// holding any lock; when calls for the same identity overlap, a load never
// overwrites rooms applied from a load that started after it.
func (s *Synchronizer) Reconcile(ctx context.Context, identity string) error {
	if !s.registry.IsOnline(identity) {
		return nil
	}

	gen := s.begin(identity)
	defer s.end(identity)

	convs, err := s.finder.FindConversationsByParticipant(ctx, identity)
	if err != nil {
		metrics.RoomReconciles.WithLabelValues("error").Inc()
		return fmt.Errorf("loading conversations for %s: %w", identity, err)
	}

	roomIDs := make([]string, len(convs))
	for i, c := range convs {
		roomIDs[i] = c.ID
	}

	s.mu.Lock()
	st := s.loads[identity]
	if gen <= st.applied {
		s.mu.Unlock()
		metrics.RoomReconciles.WithLabelValues("stale").Inc()
		return nil
	}
	st.applied = gen
	joined, left := s.registry.SetRooms(identity, roomIDs)
	s.mu.Unlock()

	metrics.RoomReconciles.WithLabelValues("ok").Inc()

	if joined > 0 || left > 0 {
		s.logger.Debug("rooms reconciled",
			"identity", identity,
			"rooms", len(roomIDs),
			"joined", joined,
			"left", left)
	}
	return nil
}

// begin issues the next load generation for identity.
func (s *Synchronizer) begin(identity string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.loads[identity]
	if !ok {
		st = &loadState{}
		s.loads[identity] = st
	}
	st.issued++
	st.inFlight++
	return st.issued
}

// end drops the identity's load state once no load is in flight.
func (s *Synchronizer) end(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loads[identity]
	st.inFlight--
	if st.inFlight == 0 {
		delete(s.loads, identity)
	}
}

// ReconcileAll reconciles each identity, continuing past failures.
func (s *Synchronizer) ReconcileAll(ctx context.Context, identities []string) error {
	var errs []error
	for _, identity := range identities {
		if err := s.Reconcile(ctx, identity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
