package rtc

import (
	"fmt"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/metrics"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Factory builds peers that share one candidate queue.
type Factory struct {
	cfg     Config
	queue   *CandidateQueue
	metrics *metrics.Metrics
}

func NewFactory(cfg Config, m *metrics.Metrics) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, queue: NewCandidateQueue(), metrics: m}, nil
}

func (f *Factory) Queue() *CandidateQueue { return f.queue }

func (f *Factory) NewPeer(sid core.SessionID, codecs core.CodecRegistrar) (core.PeerConnection, error) {
	build := func() (*webrtc.PeerConnection, error) { return f.newPC(codecs) }
	pc, err := build()
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "rtc").Str("sid", string(sid)).Int("ice_servers", len(f.cfg.ICEServers)).Msg("peer created")
	return newPeer(sid, pc, build, f.queue, f.metrics), nil
}

func (f *Factory) newPC(codecs core.CodecRegistrar) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if codecs != nil {
		if err := codecs.RegisterCodecs(mediaEngine); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if f.cfg.DisconnectedTimeout > 0 && f.cfg.FailedTimeout > 0 && f.cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(f.cfg.DisconnectedTimeout, f.cfg.FailedTimeout, f.cfg.KeepAliveInterval)
	}
	if f.cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: f.cfg.ICEServers})
}
