package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/domain"
)

// SessionID identifies one relay connection (cookie client token).
type SessionID string

// SignalConnection abstracts the transport endpoint of a session.
// Owned by the controller; the controller must Close() it.
type SignalConnection interface {
	TrySend([]byte) error
	Close()
}

type sessionEntry struct {
	Room   domain.RoomName
	Name   domain.ParticipantID
	Conn   SignalConnection
	Cancel context.CancelFunc
}

type memberSnap struct {
	SID  SessionID
	Name domain.ParticipantID
	Conn SignalConnection
}

// Registry is the threadsafe session/room membership map. It owns the
// room set: a room exists while it has members, and its first member is
// its owner for moderation purposes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
	owners   map[domain.RoomName]domain.ParticipantID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*sessionEntry),
		owners:   make(map[domain.RoomName]domain.ParticipantID),
	}
}

func (r *Registry) Bind(sid SessionID, room domain.RoomName, name domain.ParticipantID, conn SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Room: room, Name: name, Conn: conn, Cancel: cancel}
	if _, ok := r.owners[room]; !ok {
		r.owners[room] = name
	}
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Str("room", string(room)).Str("name", string(name)).Msg("bound session")
}

func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return
	}
	delete(r.sessions, sid)
	if r.roomEmptyLocked(entry.Room) {
		delete(r.owners, entry.Room)
	}
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("unbound session")
}

func (r *Registry) roomEmptyLocked(room domain.RoomName) bool {
	for _, e := range r.sessions {
		if e.Room == room {
			return false
		}
	}
	return true
}

func (r *Registry) Get(sid SessionID) (domain.RoomName, domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Room, e.Name, true
	}
	return "", "", false
}

// IsOwner reports whether name moderates room. The first session to join
// a room owns it for the room's lifetime here; durable ownership belongs
// to the external catalog.
func (r *Registry) IsOwner(room domain.RoomName, name domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[room] == name
}

func (r *Registry) MembersOfRoom(room domain.RoomName) []memberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]memberSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Room == room {
			out = append(out, memberSnap{SID: sid, Name: e.Name, Conn: e.Conn})
		}
	}
	return out
}

// Rooms snapshots the active rooms with their owners.
func (r *Registry) Rooms() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Room, 0, len(r.owners))
	for room, owner := range r.owners {
		out = append(out, domain.Room{Name: room, Owner: owner})
	}
	return out
}

func (r *Registry) Cancel(sid SessionID) {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if ok && e.Cancel != nil {
		e.Cancel()
	}
}
