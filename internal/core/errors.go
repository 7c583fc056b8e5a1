package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNoDevice           = errors.New("no capture device")
	ErrNoRemoteOffer      = errors.New("remote offer not set")
	ErrNegotiationStarted = errors.New("negotiation already started")
	ErrUnexpectedSDP      = errors.New("unexpected session description")
	ErrNotSubscribed      = errors.New("not subscribed to room")
	ErrChannelClosed      = errors.New("signaling channel closed")
	ErrPeerClosed         = errors.New("peer connection closed")
)

// MediaAccessError means the camera or microphone could not be opened.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string { return "media access: " + e.Err.Error() }
func (e *MediaAccessError) Unwrap() error { return e.Err }

// SignalingError wraps a subscribe/publish/transport failure of the channel.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string { return fmt.Sprintf("signaling %s: %v", e.Op, e.Err) }
func (e *SignalingError) Unwrap() error { return e.Err }

// NegotiationError is a protocol sequencing bug or malformed SDP. Never retried.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err) }
func (e *NegotiationError) Unwrap() error { return e.Err }

// ConnectionTimeoutError means no remote media arrived within the window.
type ConnectionTimeoutError struct {
	After time.Duration
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("no remote media within %s", e.After)
}

// TransportError reports that ICE/DTLS gave up before the call connected.
type TransportError struct {
	State string
}

func (e *TransportError) Error() string { return "transport " + e.State }

// Reason renders an error as the single line shown to the user.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var (
		mediaErr   *MediaAccessError
		sigErr     *SignalingError
		negErr     *NegotiationError
		timeoutErr *ConnectionTimeoutError
		trErr      *TransportError
	)
	switch {
	case errors.As(err, &mediaErr):
		if errors.Is(err, ErrPermissionDenied) {
			return "Camera or microphone access was denied. Allow access and start the visit again."
		}
		return "No camera or microphone is available. Connect a device and start the visit again."
	case errors.As(err, &timeoutErr):
		return "The other participant did not join in time."
	case errors.As(err, &sigErr):
		return "Lost contact with the visit service."
	case errors.As(err, &negErr):
		return "The call could not be set up."
	case errors.As(err, &trErr):
		return "The network connection to the other participant failed."
	}
	return err.Error()
}

// IsFatal applies the propagation policy: signaling trouble only ends a call
// that has not connected yet; everything else in the taxonomy is fatal.
func IsFatal(err error, state ConnectionState) bool {
	if err == nil {
		return false
	}
	var sigErr *SignalingError
	if errors.As(err, &sigErr) {
		return state != StateConnected
	}
	return true
}
