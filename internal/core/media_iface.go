package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Constraints selects which capture devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

// LocalStream is owned by the MediaDevices that produced it. Its tracks stay
// valid until Release.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal
}

// MediaDevices acquires and releases the local camera and microphone.
type MediaDevices interface {
	// Acquire fails with *MediaAccessError when permission is denied or no
	// device is present.
	Acquire(ctx context.Context, c Constraints) (LocalStream, error)
	// SetAudioEnabled and SetVideoEnabled suppress the data flow of attached
	// tracks; they never touch the peer connection.
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	// Release stops every track. Idempotent, also after a partial Acquire.
	Release()
}

// CodecRegistrar is implemented by media sources that need specific codecs
// registered on the peer connection's MediaEngine.
type CodecRegistrar interface {
	RegisterCodecs(m *webrtc.MediaEngine) error
}
