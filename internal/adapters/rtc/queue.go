package rtc

import (
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/pion/webrtc/v4"
)

// CandidateQueue holds remote candidates that arrived before the remote
// description of their session was applied.
type CandidateQueue struct {
	mu      sync.Mutex
	pending map[core.SessionID][]webrtc.ICECandidateInit
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{pending: make(map[core.SessionID][]webrtc.ICECandidateInit)}
}

func (q *CandidateQueue) Push(sid core.SessionID, c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[sid] = append(q.pending[sid], c)
}

// Drain returns the queued candidates in arrival order and empties the queue.
func (q *CandidateQueue) Drain(sid core.SessionID) []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[sid]
	delete(q.pending, sid)
	return out
}

func (q *CandidateQueue) Len(sid core.SessionID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[sid])
}

func (q *CandidateQueue) Forget(sid core.SessionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, sid)
}
