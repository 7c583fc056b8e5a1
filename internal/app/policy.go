package app

import (
	"sync"

	"github.com/dkeye/televisit/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
	Forget(sid core.SessionID)
}

// SimplePolicy kicks on the first drop. A signaling peer that misses an
// offer or candidate is broken anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.SessionID) BackpressureAction {
	return KickMember
}

func (SimplePolicy) Forget(core.SessionID) {}

// StrikePolicy tolerates Limit drops per member before kicking it.
type StrikePolicy struct {
	Limit int

	mu      sync.Mutex
	strikes map[core.SessionID]int
}

func NewStrikePolicy(limit int) *StrikePolicy {
	return &StrikePolicy{Limit: limit, strikes: make(map[core.SessionID]int)}
}

func (p *StrikePolicy) OnBackPressure(_ core.RoomService, sid core.SessionID) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[sid]++
	if p.strikes[sid] > p.Limit {
		delete(p.strikes, sid)
		return KickMember
	}
	return MarkSlow
}

func (p *StrikePolicy) Forget(sid core.SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.strikes, sid)
}
