package core

import (
	"sort"
	"sync"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id    domain.RoomID
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewRoomService(id domain.RoomID) RoomService {
	return &roomImpl{
		id:    id,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	u := ms.Meta().User
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(u)).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		out = append(out, MemberDTO{SID: sid, User: ms.Meta().User})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out
}
