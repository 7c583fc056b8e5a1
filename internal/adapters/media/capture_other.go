//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/televisit/internal/core"
	"github.com/pion/webrtc/v4"
)

// CaptureSource has no drivers outside linux; use SyntheticSource instead.
type CaptureSource struct{}

func NewCaptureSource() (*CaptureSource, error) { return &CaptureSource{}, nil }

func (s *CaptureSource) Open(context.Context, core.Constraints) ([]webrtc.TrackLocal, func(), error) {
	return nil, nil, core.ErrNoDevice
}
