package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Peer wraps one pion PeerConnection for a session.
type Peer struct {
	sid     core.SessionID
	build   func() (*webrtc.PeerConnection, error)
	queue   *CandidateQueue
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	gen         int
	tracks      []webrtc.TrackLocal
	negotiating bool
	closed      bool
	streams     map[string]struct{}
	remote      []core.RemoteTrack

	hmu      sync.RWMutex
	onICE    func(webrtc.ICECandidateInit)
	onRemote func(core.RemoteTrack)
	onState  func(webrtc.PeerConnectionState)
}

func newPeer(sid core.SessionID, pc *webrtc.PeerConnection, build func() (*webrtc.PeerConnection, error), q *CandidateQueue, m *metrics.Metrics) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		sid:     sid,
		build:   build,
		queue:   q,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		pc:      pc,
		streams: make(map[string]struct{}),
	}
	p.wire(pc, p.gen)
	return p
}

// wire registers pion callbacks. Callbacks from a replaced connection carry a
// stale generation and are ignored.
func (p *Peer) wire(pc *webrtc.PeerConnection, gen int) {
	current := func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.gen == gen && !p.closed
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("sid", string(p.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !current() {
			return
		}
		log.Info().Str("module", "rtc").Str("sid", string(p.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		p.hmu.RLock()
		fn := p.onState
		p.hmu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || !current() {
			return
		}
		p.hmu.RLock()
		fn := p.onICE
		p.hmu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("sid", string(p.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		rt := core.RemoteTrack{ID: track.ID(), StreamID: track.StreamID(), Kind: track.Kind()}
		p.mu.Lock()
		if p.gen != gen || p.closed {
			p.mu.Unlock()
			return
		}
		p.remote = append(p.remote, rt)
		_, seen := p.streams[rt.StreamID]
		p.streams[rt.StreamID] = struct{}{}
		p.wg.Add(1)
		p.mu.Unlock()

		go func() {
			defer p.wg.Done()
			p.drain(pc, track)
		}()

		if seen {
			return
		}
		p.hmu.RLock()
		fn := p.onRemote
		p.hmu.RUnlock()
		if fn != nil {
			fn(rt)
		}
	})
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.onICE = fn
}

func (p *Peer) OnRemoteStream(fn func(core.RemoteTrack)) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.onRemote = fn
}

func (p *Peer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.onState = fn
}

func (p *Peer) AddLocalTracks(stream core.LocalStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &core.NegotiationError{Op: "add_tracks", Err: core.ErrPeerClosed}
	}
	if p.negotiating {
		return &core.NegotiationError{Op: "add_tracks", Err: core.ErrNegotiationStarted}
	}
	for _, t := range stream.Tracks {
		if err := p.addTrack(p.pc, t); err != nil {
			return &core.NegotiationError{Op: "add_tracks", Err: err}
		}
		p.tracks = append(p.tracks, t)
	}
	log.Info().Str("module", "rtc").Str("sid", string(p.sid)).Int("tracks", len(stream.Tracks)).Msg("local tracks attached")
	return nil
}

func (p *Peer) addTrack(pc *webrtc.PeerConnection, t webrtc.TrackLocal) error {
	sender, err := pc.AddTrack(t)
	if err != nil {
		return err
	}
	// RTCP has to be read for the interceptors to run.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_offer", Err: core.ErrPeerClosed}
	}
	if p.pc.SignalingState() != webrtc.SignalingStateStable || p.pc.RemoteDescription() != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_offer", Err: core.ErrNegotiationStarted}
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_offer", Err: err}
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "set_local", Err: err}
	}
	p.negotiating = true
	return offer, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_answer", Err: core.ErrPeerClosed}
	}
	if p.pc.SignalingState() != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_answer", Err: core.ErrNoRemoteOffer}
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_answer", Err: err}
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "set_local", Err: err}
	}
	p.negotiating = true
	return answer, nil
}

// SetRemoteDescription applies sd and then flushes candidates queued for
// this session.
func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &core.NegotiationError{Op: "set_remote", Err: core.ErrPeerClosed}
	}
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return &core.NegotiationError{Op: "set_remote", Err: err}
	}
	p.negotiating = true

	queued := p.queue.Drain(p.sid)
	for _, c := range queued {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("sid", string(p.sid)).Msg("queued candidate rejected")
		}
	}
	log.Info().Str("module", "rtc").Str("sid", string(p.sid)).Str("type", sd.Type.String()).Int("flushed", len(queued)).Msg("remote description set")
	return nil
}

func (p *Peer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc.RemoteDescription() != nil
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc.LocalDescription()
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPeerClosed
	}
	if p.pc.RemoteDescription() == nil {
		p.queue.Push(p.sid, c)
		return nil
	}
	return p.pc.AddICECandidate(c)
}

// Rollback drops an unanswered local offer. pion cannot apply a local
// rollback, so the connection is rebuilt and the local tracks re-attached.
// Candidates gathered for the dropped offer become useless to the remote.
func (p *Peer) Rollback() error {
	old, err := p.swap()
	if err != nil {
		return err
	}
	if err := old.Close(); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("sid", string(p.sid)).Msg("close after rollback")
	}
	log.Info().Str("module", "rtc").Str("sid", string(p.sid)).Msg("local offer rolled back")
	return nil
}

func (p *Peer) swap() (*webrtc.PeerConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, &core.NegotiationError{Op: "rollback", Err: core.ErrPeerClosed}
	}
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return nil, &core.NegotiationError{Op: "rollback", Err: core.ErrUnexpectedSDP}
	}

	next, err := p.build()
	if err != nil {
		return nil, &core.NegotiationError{Op: "rollback", Err: err}
	}
	p.gen++
	p.wire(next, p.gen)
	for _, t := range p.tracks {
		if err := p.addTrack(next, t); err != nil {
			p.gen--
			_ = next.Close()
			return nil, &core.NegotiationError{Op: "rollback", Err: err}
		}
	}
	old := p.pc
	p.pc = next
	p.negotiating = false
	return old, nil
}

func (p *Peer) RemoteTracks() []core.RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.RemoteTrack, len(p.remote))
	copy(out, p.remote)
	return out
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pc := p.pc
	p.mu.Unlock()

	p.cancel()
	p.queue.Forget(p.sid)
	err := pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("sid", string(p.sid)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("sid", string(p.sid)).Msg("closed")
	}
	p.wg.Wait()
	return err
}
