// ABOUTME: Tracks which identities are online, their live connections, and room membership
// ABOUTME: Broadcasts the online list to every connection on register and unregister

package presence

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/huddle-gateway/internal/metrics"
)

// ErrAlreadyRegistered indicates a connection with the same ID is already registered.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Registry maps identities to live connections and connections to rooms.
// Rooms live here rather than in the transport so that unregistering a
// connection also removes it from every room in the same critical section.
type Registry struct {
	mu sync.RWMutex

	byIdentity map[string]map[string]Conn     // identity -> connID -> conn
	rooms      map[string]map[string]Conn     // roomID -> connID -> conn
	joined     map[string]map[string]struct{} // connID -> roomIDs
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byIdentity: make(map[string]map[string]Conn),
		rooms:      make(map[string]map[string]Conn),
		joined:     make(map[string]map[string]struct{}),
		logger:     logger.With("component", "presence"),
	}
}

// Register adds a live connection and broadcasts the new online list.
// Returns ErrAlreadyRegistered if the connection is already known.
func (r *Registry) Register(conn Conn) error {
	r.mu.Lock()
	if _, exists := r.joined[conn.ID()]; exists {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}

	conns, ok := r.byIdentity[conn.Identity()]
	if !ok {
		conns = make(map[string]Conn)
		r.byIdentity[conn.Identity()] = conns
	}
	conns[conn.ID()] = conn
	r.joined[conn.ID()] = make(map[string]struct{})
	identityConns := len(conns)

	online, targets := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Info("=== CLIENT CONNECTED ===",
		"identity", conn.Identity(),
		"conn_id", conn.ID(),
		"identity_connections", identityConns,
		"online", len(online),
	)

	r.broadcastPresence(online, targets)
	return nil
}

// Unregister removes a connection from the registry and from every room it
// had joined, then broadcasts the new online list. Unknown connections are
// ignored.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	rooms, exists := r.joined[conn.ID()]
	if !exists {
		r.mu.Unlock()
		return
	}

	for roomID := range rooms {
		r.leaveLocked(roomID, conn.ID())
	}
	delete(r.joined, conn.ID())

	if conns, ok := r.byIdentity[conn.Identity()]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byIdentity, conn.Identity())
		}
	}

	online, targets := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Info("=== CLIENT DISCONNECTED ===",
		"identity", conn.Identity(),
		"conn_id", conn.ID(),
		"online", len(online),
	)

	r.broadcastPresence(online, targets)
}

// IsOnline reports whether identity has at least one live connection.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byIdentity[identity]) > 0
}

// ListOnline returns every online identity, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.onlineLocked()
}

// ConnectionsFor returns the live connections of identity.
func (r *Registry) ConnectionsFor(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byIdentity[identity]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// RoomMembers returns the connections currently joined to roomID.
func (r *Registry) RoomMembers(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// RoomsOf returns the rooms a connection has joined, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[connID]))
	for roomID := range r.joined[connID] {
		out = append(out, roomID)
	}
	slices.Sort(out)
	return out
}

// SetRooms makes the room set of every live connection of identity exactly
// roomIDs, joining missing rooms and leaving stale ones. It returns the
// number of joins and leaves performed.
func (r *Registry) SetRooms(identity string, roomIDs []string) (joined, left int) {
	want := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		want[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for connID, conn := range r.byIdentity[identity] {
		have := r.joined[connID]
		for roomID := range have {
			if _, ok := want[roomID]; !ok {
				r.leaveLocked(roomID, connID)
				delete(have, roomID)
				left++
			}
		}
		for roomID := range want {
			if _, ok := have[roomID]; ok {
				continue
			}
			members, ok := r.rooms[roomID]
			if !ok {
				members = make(map[string]Conn)
				r.rooms[roomID] = members
			}
			members[connID] = conn
			have[roomID] = struct{}{}
			joined++
		}
	}
	return joined, left
}

func (r *Registry) leaveLocked(roomID, connID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *Registry) onlineLocked() []string {
	out := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		out = append(out, identity)
	}
	slices.Sort(out)
	return out
}

// snapshotLocked copies the online list and every connection so the
// broadcast can happen after the lock is released.
func (r *Registry) snapshotLocked() ([]string, []Conn) {
	online := r.onlineLocked()
	targets := make([]Conn, 0, len(r.joined))
	for _, conns := range r.byIdentity {
		for _, c := range conns {
			targets = append(targets, c)
		}
	}

	metrics.ConnectionsActive.Set(float64(len(r.joined)))
	metrics.IdentitiesOnline.Set(float64(len(online)))
	return online, targets
}

func (r *Registry) broadcastPresence(online []string, targets []Conn) {
	ev := &Event{Type: EventPresenceChanged, Online: online}
	for _, c := range targets {
		if !c.Send(ev) {
			r.logger.Debug("dropped presence update for slow connection",
				"identity", c.Identity(),
				"conn_id", c.ID())
		}
	}
}
