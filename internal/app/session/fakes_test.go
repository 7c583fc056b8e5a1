package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/televisit/internal/adapters/channel"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	room    domain.RoomID = "visit-42"
	waitFor               = 3 * time.Second
	tick                  = 5 * time.Millisecond
)

// fakePeer negotiates on strings. With autoMedia it reports a remote stream
// as soon as both descriptions are in place.
type fakePeer struct {
	sid          core.SessionID
	autoMedia    bool
	panicOnClose bool

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	offers     int
	answers    int
	rollbacks  int
	closes     int
	fired      bool

	onICE    func(webrtc.ICECandidateInit)
	onRemote func(core.RemoteTrack)
	onState  func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddLocalTracks(core.LocalStream) error { return nil }

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local != nil || p.remote != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_offer", Err: core.ErrNegotiationStarted}
	}
	p.offers++
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", p.sid, p.offers)}
	p.local = &sd
	p.gatherLocked()
	return sd, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create_answer", Err: core.ErrNoRemoteOffer}
	}
	p.answers++
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(p.sid)}
	p.local = &sd
	p.gatherLocked()
	p.maybeFireLocked()
	return sd, nil
}

func (p *fakePeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote != nil {
		return &core.NegotiationError{Op: "set_remote", Err: core.ErrUnexpectedSDP}
	}
	p.remote = &sd
	p.maybeFireLocked()
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *fakePeer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil || p.local.Type != webrtc.SDPTypeOffer {
		return &core.NegotiationError{Op: "rollback", Err: core.ErrUnexpectedSDP}
	}
	p.local = nil
	p.rollbacks++
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnRemoteStream(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemote = fn
}

func (p *fakePeer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) RemoteTracks() []core.RemoteTrack { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	boom := p.panicOnClose
	p.mu.Unlock()
	if boom {
		panic("close exploded")
	}
	return nil
}

func (p *fakePeer) gatherLocked() {
	fn := p.onICE
	if fn == nil {
		return
	}
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host " + string(p.sid)}
	go fn(cand)
}

func (p *fakePeer) maybeFireLocked() {
	if !p.autoMedia || p.fired || p.local == nil || p.remote == nil {
		return
	}
	p.fired = true
	if fn := p.onRemote; fn != nil {
		go fn(core.RemoteTrack{ID: "video", StreamID: "remote-" + string(p.sid), Kind: webrtc.RTPCodecTypeVideo})
	}
}

func (p *fakePeer) fireRemote() {
	p.mu.Lock()
	fn := p.onRemote
	p.mu.Unlock()
	fn(core.RemoteTrack{ID: "video", StreamID: "manual", Kind: webrtc.RTPCodecTypeVideo})
}

func (p *fakePeer) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) counts() (offers, answers, rollbacks, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.answers, p.rollbacks, p.closes
}

func (p *fakePeer) remoteCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

type fakeFactory struct {
	autoMedia    bool
	panicOnClose bool
	err          error

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer(sid core.SessionID, _ core.CodecRegistrar) (core.PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{sid: sid, autoMedia: f.autoMedia, panicOnClose: f.panicOnClose}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) peer(t *testing.T) *fakePeer {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() > 0 }, waitFor, tick)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[0]
}

// fakeMedia hands out an empty stream. A non-nil gate holds Acquire until it
// is closed; with honorCtx the wait also ends on cancellation.
type fakeMedia struct {
	err      error
	gate     chan struct{}
	honorCtx bool

	mu       sync.Mutex
	acquires int
	releases int
	held     bool
	audio    []bool
	video    []bool
}

func (m *fakeMedia) Acquire(ctx context.Context, _ core.Constraints) (core.LocalStream, error) {
	m.mu.Lock()
	m.acquires++
	m.mu.Unlock()
	if m.gate != nil {
		if m.honorCtx {
			select {
			case <-m.gate:
			case <-ctx.Done():
				return core.LocalStream{}, ctx.Err()
			}
		} else {
			<-m.gate
		}
	}
	if m.err != nil {
		return core.LocalStream{}, m.err
	}
	m.mu.Lock()
	m.held = true
	m.mu.Unlock()
	return core.LocalStream{ID: "local"}, nil
}

func (m *fakeMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, enabled)
}

func (m *fakeMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = append(m.video, enabled)
}

func (m *fakeMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	m.held = false
}

func (m *fakeMedia) snapshot() (acquires, releases int, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires, m.releases, m.held
}

type fakeSink struct {
	err   error
	block bool

	mu      sync.Mutex
	records []domain.CallRecord
}

func (s *fakeSink) WriteCallRecord(ctx context.Context, rec domain.CallRecord) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *fakeSink) all() []domain.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CallRecord(nil), s.records...)
}

// spy listens on a room like a third subscriber.
type spy struct {
	mu   sync.Mutex
	msgs []core.SignalMessage
}

func newSpy(t *testing.T, bus *channel.Bus) *spy {
	t.Helper()
	s := &spy{}
	sub, err := bus.Subscribe(context.Background(), room, func(m core.SignalMessage) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.msgs = append(s.msgs, m)
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Unsubscribe(sub) })
	return s
}

func (s *spy) count(from domain.UserID, kind core.SignalKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.From == from && m.Kind() == kind {
			n++
		}
	}
	return n
}

// recorder keeps every transition seen by a state listener.
type recorder struct {
	mu   sync.Mutex
	seen []Transition
}

func (r *recorder) listen(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, t)
}

func (r *recorder) states() []core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ConnectionState, 0, len(r.seen))
	for _, t := range r.seen {
		out = append(out, t.To)
	}
	return out
}

type party struct {
	ctl     *Controller
	media   *fakeMedia
	peers   *fakeFactory
	records *fakeSink
	rec     *recorder
}

func newParty(t *testing.T, bus core.SignalChannel, user domain.UserID, role domain.Role, opts ...Option) *party {
	t.Helper()
	p := &party{
		media:   &fakeMedia{},
		peers:   &fakeFactory{autoMedia: true},
		records: &fakeSink{},
		rec:     &recorder{},
	}
	p.ctl = p.build(bus, user, role, opts...)
	t.Cleanup(p.ctl.End)
	return p
}

func (p *party) build(bus core.SignalChannel, user domain.UserID, role domain.Role, opts ...Option) *Controller {
	sc := domain.SessionContext{Room: room, Self: domain.Participant{ID: user, Role: role}}
	deps := Deps{Channel: bus, Media: p.media, Peers: p.peers, Records: p.records}
	return New(sc, deps, append([]Option{WithStateListener(p.rec.listen)}, opts...)...)
}

func waitState(t *testing.T, c *Controller, want core.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick,
		"want %s, have %s", want, c.State())
}

var errBroken = errors.New("relay went away")
