package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Source opens raw local tracks. release must be safe to call after a
// partial failure and must stop whatever Open started.
type Source interface {
	Open(ctx context.Context, c core.Constraints) (tracks []webrtc.TrackLocal, release func(), err error)
}

// ErrAcquireInProgress is returned to a second Acquire while devices are
// still opening.
var ErrAcquireInProgress = errors.New("media acquisition in progress")

// Manager implements core.MediaDevices over a Source. The lock is never held
// while the source opens devices, so Release can interrupt a slow Acquire.
type Manager struct {
	src   Source
	audio Gate
	video Gate

	mu      sync.Mutex
	stream  *core.LocalStream
	release func()
	opening bool
	// releases counts Release calls; Acquire compares it across Open
	releases uint64
}

func NewManager(src Source) *Manager {
	return &Manager{src: src}
}

func (m *Manager) Acquire(ctx context.Context, c core.Constraints) (core.LocalStream, error) {
	if !c.Audio && !c.Video {
		return core.LocalStream{}, &core.MediaAccessError{Err: core.ErrNoDevice}
	}
	m.mu.Lock()
	if m.stream != nil {
		stream := *m.stream
		m.mu.Unlock()
		return stream, nil
	}
	if m.opening {
		m.mu.Unlock()
		return core.LocalStream{}, ErrAcquireInProgress
	}
	m.opening = true
	gen := m.releases
	m.mu.Unlock()

	tracks, release, err := m.src.Open(ctx, c)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opening = false
	stop := func() {
		if release != nil {
			release()
		}
	}

	if err != nil {
		stop()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return core.LocalStream{}, err
		}
		var accessErr *core.MediaAccessError
		if errors.As(err, &accessErr) {
			return core.LocalStream{}, err
		}
		return core.LocalStream{}, &core.MediaAccessError{Err: err}
	}
	if m.releases != gen {
		stop()
		log.Info().Str("module", "media").Msg("released while opening, dropping tracks")
		return core.LocalStream{}, context.Canceled
	}
	if err := ctx.Err(); err != nil {
		stop()
		return core.LocalStream{}, err
	}

	stream := core.LocalStream{ID: "local-" + uuid.NewString()}
	for _, t := range tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			stream.Tracks = append(stream.Tracks, gateTrack(t, &m.audio))
		case webrtc.RTPCodecTypeVideo:
			stream.Tracks = append(stream.Tracks, gateTrack(t, &m.video))
		default:
			stop()
			return core.LocalStream{}, &core.MediaAccessError{Err: fmt.Errorf("%w: track %s has unknown kind", core.ErrNoDevice, t.ID())}
		}
	}
	m.stream = &stream
	m.release = release
	log.Info().Str("module", "media").Str("stream", stream.ID).Int("tracks", len(stream.Tracks)).Msg("local media acquired")
	return stream, nil
}

func (m *Manager) SetAudioEnabled(enabled bool) {
	m.audio.Set(enabled)
	log.Info().Str("module", "media").Bool("enabled", enabled).Msg("audio toggled")
}

func (m *Manager) SetVideoEnabled(enabled bool) {
	m.video.Set(enabled)
	log.Info().Str("module", "media").Bool("enabled", enabled).Msg("video toggled")
}

func (m *Manager) AudioEnabled() bool { return m.audio.State() == GateOpen }
func (m *Manager) VideoEnabled() bool { return m.video.State() == GateOpen }

func (m *Manager) Release() {
	m.mu.Lock()
	m.releases++
	release := m.release
	m.release = nil
	had := m.stream != nil
	m.stream = nil
	m.mu.Unlock()

	if release != nil {
		release()
	}
	if had {
		log.Info().Str("module", "media").Msg("local media released")
	}
}

// RegisterCodecs lets the source pick the codecs the peer must offer.
func (m *Manager) RegisterCodecs(me *webrtc.MediaEngine) error {
	if r, ok := m.src.(core.CodecRegistrar); ok {
		return r.RegisterCodecs(me)
	}
	return me.RegisterDefaultCodecs()
}
