//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dkeye/televisit/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CaptureSource opens the local camera and microphone through V4L2 and malgo,
// encoding VP8 and Opus.
type CaptureSource struct {
	selector *mediadevices.CodecSelector
}

func NewCaptureSource() (*CaptureSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &CaptureSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (s *CaptureSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	s.selector.Populate(m)
	return nil
}

func (s *CaptureSource) Open(_ context.Context, c core.Constraints) ([]webrtc.TrackLocal, func(), error) {
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, nil, core.ErrNoDevice
	}
	for _, d := range devices {
		log.Debug().Str("module", "media").Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, nil, classify(err)
	}

	raw := stream.GetTracks()
	release := func() {
		for _, t := range raw {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("close track")
			}
		}
	}
	tracks := make([]webrtc.TrackLocal, 0, len(raw))
	for _, t := range raw {
		id := t.ID()
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", id).Msg("local track ended")
			}
		})
		tracks = append(tracks, t)
	}
	return tracks, release, nil
}

func classify(err error) error {
	if errors.Is(err, os.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return fmt.Errorf("%w: %v", core.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", core.ErrNoDevice, err)
}
