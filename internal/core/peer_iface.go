package core

import (
	"github.com/pion/webrtc/v4"
)

// RemoteTrack describes one inbound track.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
}

// PeerConnection is the single peer-to-peer transport of a session.
// Callbacks must be registered before AddLocalTracks.
type PeerConnection interface {
	// AddLocalTracks attaches the local stream. Only valid before the first
	// offer or answer is created.
	AddLocalTracks(stream LocalStream) error
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer fails with *NegotiationError unless a remote offer is set.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(sd webrtc.SessionDescription) error
	HasRemoteDescription() bool
	LocalDescription() *webrtc.SessionDescription
	// Rollback discards a local offer that lost a glare tie-break.
	Rollback() error
	// AddICECandidate queues the candidate until a remote description is set.
	AddICECandidate(c webrtc.ICECandidateInit) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	// OnRemoteStream fires once per inbound stream, with its first track.
	OnRemoteStream(fn func(RemoteTrack))
	OnStateChange(fn func(webrtc.PeerConnectionState))

	RemoteTracks() []RemoteTrack
	// Close is idempotent.
	Close() error
}

// PeerFactory builds the transport for a session. codecs may be nil.
type PeerFactory interface {
	NewPeer(sid SessionID, codecs CodecRegistrar) (PeerConnection, error)
}
