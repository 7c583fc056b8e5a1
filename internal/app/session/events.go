package session

import (
	"github.com/dkeye/televisit/internal/core"
	"github.com/pion/webrtc/v4"
)

// event is anything posted to the controller goroutine.
type event interface{}

type (
	mediaResult struct {
		stream core.LocalStream
		err    error
	}
	signalIn struct {
		msg core.SignalMessage
	}
	signalErr struct {
		err error
	}
	localCandidate struct {
		cand webrtc.ICECandidateInit
	}
	remoteStream struct {
		track core.RemoteTrack
	}
	peerState struct {
		state webrtc.PeerConnectionState
	}
	timeoutFired struct{}
	endRequest   struct{}
)

// post hands ev to the loop. Events posted after teardown began are dropped
// and post reports false.
func (c *Controller) post(ev event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}
