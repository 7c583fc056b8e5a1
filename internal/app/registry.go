package app

import (
	"context"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Room    domain.RoomID
	Session core.MemberSession // nil until joined
	Conn    core.SignalConnection
	Cancel  context.CancelFunc
}

// Registry tracks every live relay connection and the room it joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// BindMember records that sid joined the member's room.
func (r *Registry) BindMember(sid core.SessionID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Session = sess
	entry.Room = sess.Meta().Room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(entry.Room)).Msg("updated room")
	return true
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Room == "" {
		return "", nil, false
	}
	return entry.Room, entry.Session, true
}

func (r *Registry) RemoveRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Room = ""
		entry.Session = nil
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

// InRoom lists the connections currently joined to room.
func (r *Registry) InRoom(room domain.RoomID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.SessionID
	for sid, e := range r.sessions {
		if e.Room == room {
			out = append(out, sid)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel stops the pumps of sid; the read pump then unbinds it.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
