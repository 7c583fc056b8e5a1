package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/metrics"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRecordTimeout = 5 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrMissingDep     = errors.New("session dependency missing")
)

// Deps are the collaborators of one controller. Records and Metrics may be nil.
type Deps struct {
	Channel core.SignalChannel
	Media   core.MediaDevices
	Peers   core.PeerFactory
	Records core.CallRecordSink
	Metrics *metrics.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Channel == nil:
		return fmt.Errorf("%w: signal channel", ErrMissingDep)
	case d.Media == nil:
		return fmt.Errorf("%w: media devices", ErrMissingDep)
	case d.Peers == nil:
		return fmt.Errorf("%w: peer factory", ErrMissingDep)
	}
	return nil
}

// Transition is passed to state listeners. Err is set on the move to Failed.
type Transition struct {
	From  core.ConnectionState
	To    core.ConnectionState
	Cause string
	Err   error
}

type Option func(*Controller)

// WithTimeout bounds the wait for remote media, counted from subscription.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRecordTimeout bounds the teardown writes: the bye message and the call record.
func WithRecordTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.recordTimeout = d
		}
	}
}

// WithStateListener registers fn for every transition. Listeners run on the
// controller goroutine and must not call End.
func WithStateListener(fn func(Transition)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.listeners = append(c.listeners, fn)
		}
	}
}

// WithConstraints overrides the default audio+video capture request.
func WithConstraints(cs core.Constraints) Option {
	return func(c *Controller) { c.constraints = cs }
}
