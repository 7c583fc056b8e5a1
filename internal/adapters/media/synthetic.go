package media

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	videoFrameInterval = 33 * time.Millisecond
	audioFrameInterval = 20 * time.Millisecond
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Pattern is an opaque fixed payload; receivers only count it.
var vp8Pattern = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}

// SyntheticSource produces VP8 and Opus sample tracks fed by tickers, for
// headless agents, demos and tests.
type SyntheticSource struct{}

func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{} }

func (s *SyntheticSource) Open(_ context.Context, c core.Constraints) ([]webrtc.TrackLocal, func(), error) {
	streamID := "synthetic-" + uuid.NewString()
	stop := make(chan struct{})
	var (
		wg     sync.WaitGroup
		once   sync.Once
		tracks []webrtc.TrackLocal
	)
	release := func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}

	start := func(mime, kind string, every time.Duration, payload []byte) error {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind, streamID)
		if err != nil {
			return err
		}
		tracks = append(tracks, track)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if err := track.WriteSample(pionmedia.Sample{Data: payload, Duration: every}); err != nil {
						log.Debug().Err(err).Str("module", "media").Str("kind", kind).Msg("synthetic write")
					}
				}
			}
		}()
		return nil
	}

	if c.Video {
		if err := start(webrtc.MimeTypeVP8, "video", videoFrameInterval, vp8Pattern); err != nil {
			return nil, release, err
		}
	}
	if c.Audio {
		if err := start(webrtc.MimeTypeOpus, "audio", audioFrameInterval, opusSilence); err != nil {
			return nil, release, err
		}
	}
	return tracks, release, nil
}
