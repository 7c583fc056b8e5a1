// Package session runs one video visit from device acquisition to teardown.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 64

// Controller is the only owner of a session's ConnectionState. All state
// below the mutex is touched by the run goroutine alone.
type Controller struct {
	sc            domain.SessionContext
	deps          Deps
	sid           core.SessionID
	timeout       time.Duration
	recordTimeout time.Duration
	constraints   core.Constraints
	listeners     []func(Transition)
	log           zerolog.Logger

	events chan event
	quit   chan struct{}
	done   chan struct{}

	lifeMu  sync.Mutex
	started bool

	mu    sync.RWMutex
	state core.ConnectionState
	err   error

	mediaMu  sync.Mutex
	tornDown bool

	ctx    context.Context
	cancel context.CancelFunc

	peer        core.PeerConnection
	sub         core.Subscription
	timer       *time.Timer
	startedAt   time.Time
	connectedAt time.Time
	remoteSeen  bool
	offered     bool
	answered    bool
	sent        []webrtc.ICECandidateInit
	outcome     domain.CallOutcome
	reason      string
}

func New(sc domain.SessionContext, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		sc:            sc,
		deps:          deps,
		sid:           core.SessionID(uuid.NewString()),
		timeout:       DefaultTimeout,
		recordTimeout: DefaultRecordTimeout,
		constraints:   core.Constraints{Audio: true, Video: true},
		events:        make(chan event, eventBuffer),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = log.With().
		Str("module", "session").
		Str("room", string(sc.Room)).
		Str("user", string(sc.Self.ID)).
		Str("role", string(sc.Self.Role)).
		Logger()
	return c
}

// Start begins the session and returns without waiting for media. Canceling
// ctx has the same effect as End. A controller starts at most once.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.sc.Validate(); err != nil {
		return err
	}
	if err := c.deps.validate(); err != nil {
		return err
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = time.Now().UTC()
	c.transition(core.StateAcquiringMedia, "start", nil)

	go c.acquire()
	go c.run()
	return nil
}

// End terminates the session from any state and blocks until teardown has
// finished. Calling it again is a no-op.
func (c *Controller) End() {
	c.lifeMu.Lock()
	if !c.started {
		c.started = true
		c.transition(core.StateEnded, "ended before start", nil)
		close(c.quit)
		close(c.done)
		c.lifeMu.Unlock()
		return
	}
	c.lifeMu.Unlock()

	c.post(endRequest{})
	<-c.done
}

func (c *Controller) State() core.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err is the error that moved the session to Failed, if any.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Done is closed once teardown has completed.
func (c *Controller) Done() <-chan struct{} { return c.done }

// SetAudioEnabled mutes or unmutes the microphone without renegotiating.
func (c *Controller) SetAudioEnabled(enabled bool) { c.deps.Media.SetAudioEnabled(enabled) }

// SetVideoEnabled pauses or resumes the camera without renegotiating.
func (c *Controller) SetVideoEnabled(enabled bool) { c.deps.Media.SetVideoEnabled(enabled) }

func (c *Controller) acquire() {
	stream, err := c.deps.Media.Acquire(c.ctx, c.constraints)

	c.mediaMu.Lock()
	late := c.tornDown
	c.mediaMu.Unlock()
	if late || !c.post(mediaResult{stream: stream, err: err}) {
		if err == nil {
			c.log.Info().Msg("media arrived after teardown, releasing")
			c.deps.Media.Release()
		}
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.finish(core.StateEnded, "context canceled", nil)
		case ev := <-c.events:
			c.handle(ev)
		}
		if c.State().Terminal() {
			return
		}
	}
}

func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case mediaResult:
		c.onMedia(e.stream, e.err)
	case signalIn:
		c.onSignal(e.msg)
	case signalErr:
		c.onSignalError(e.err)
	case localCandidate:
		c.onLocalCandidate(e.cand)
	case remoteStream:
		c.onRemoteStream(e.track)
	case peerState:
		c.onPeerState(e.state)
	case timeoutFired:
		if c.State().Establishing() {
			c.fail(&core.ConnectionTimeoutError{After: c.timeout})
		}
	case endRequest:
		c.finish(core.StateEnded, "end requested", nil)
	default:
		c.log.Warn().Interface("event", ev).Msg("unhandled event")
	}
}

func (c *Controller) transition(to core.ConnectionState, cause string, err error) {
	c.mu.Lock()
	from := c.state
	if from.Terminal() || from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	if err != nil {
		c.err = err
	}
	c.mu.Unlock()

	c.deps.Metrics.Transition(from, to)
	ev := c.log.Info()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("from", from.String()).Str("to", to.String()).Str("cause", cause).Msg("state changed")

	t := Transition{From: from, To: to, Cause: cause, Err: err}
	for _, fn := range c.listeners {
		fn(t)
	}
}

func (c *Controller) fail(err error) {
	c.finish(core.StateFailed, core.Reason(err), err)
}

// finish moves to a terminal state and tears down. The outcome is fixed here.
func (c *Controller) finish(to core.ConnectionState, cause string, err error) {
	if c.State().Terminal() {
		return
	}
	switch {
	case to == core.StateFailed:
		c.outcome = domain.OutcomeFailed
	case !c.connectedAt.IsZero():
		c.outcome = domain.OutcomeCompleted
	default:
		c.outcome = domain.OutcomeCancelled
	}
	c.reason = cause
	close(c.quit)
	c.transition(to, cause, err)
	c.teardown()
}

func (c *Controller) armTimer() {
	c.timer = time.AfterFunc(c.timeout, func() { c.post(timeoutFired{}) })
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Controller) onMedia(stream core.LocalStream, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.finish(core.StateEnded, "canceled during media acquisition", nil)
			return
		}
		var accessErr *core.MediaAccessError
		if !errors.As(err, &accessErr) {
			err = &core.MediaAccessError{Err: err}
		}
		c.fail(err)
		return
	}

	codecs, _ := c.deps.Media.(core.CodecRegistrar)
	peer, err := c.deps.Peers.NewPeer(c.sid, codecs)
	if err != nil {
		c.fail(&core.NegotiationError{Op: "create_peer", Err: err})
		return
	}
	c.peer = peer
	peer.OnICECandidate(func(cand webrtc.ICECandidateInit) { c.post(localCandidate{cand: cand}) })
	peer.OnRemoteStream(func(t core.RemoteTrack) { c.post(remoteStream{track: t}) })
	peer.OnStateChange(func(s webrtc.PeerConnectionState) { c.post(peerState{state: s}) })

	if err := peer.AddLocalTracks(stream); err != nil {
		c.fail(asNegotiation("add_tracks", err))
		return
	}

	sub, err := c.deps.Channel.Subscribe(c.ctx, c.sc.Room,
		func(m core.SignalMessage) { c.post(signalIn{msg: m}) },
		func(err error) { c.post(signalErr{err: err}) },
	)
	if err != nil {
		c.fail(asSignaling("subscribe", err))
		return
	}
	c.sub = sub
	c.armTimer()
	c.transition(core.StateAwaitingRemote, "subscribed", nil)

	if err := c.publish(core.UserJoined{Role: c.sc.Self.Role}); err != nil {
		c.fail(err)
		return
	}
	if c.sc.Self.Role.Initiates() {
		c.offer()
	}
}

func (c *Controller) offer() {
	sd, err := c.peer.CreateOffer()
	if err != nil {
		c.fail(asNegotiation("create_offer", err))
		return
	}
	c.offered = true
	if err := c.publish(core.Offer{SDP: sd.SDP}); err != nil {
		c.fail(err)
	}
}

func (c *Controller) publish(p core.SignalPayload) error {
	msg := core.NewSignal(c.sc.Self.ID, core.Broadcast, p)
	if err := c.deps.Channel.Publish(c.ctx, c.sc.Room, msg); err != nil {
		return asSignaling("publish", err)
	}
	c.deps.Metrics.SignalOut(p.Kind())
	return nil
}

func (c *Controller) onSignal(msg core.SignalMessage) {
	if msg.From == c.sc.Self.ID {
		return
	}
	if !msg.AddressedTo(c.sc.Self.ID) {
		return
	}
	c.deps.Metrics.SignalIn(msg.Kind())
	c.log.Debug().Str("from", string(msg.From)).Str("type", string(msg.Kind())).Msg("signal received")

	switch p := msg.Payload.(type) {
	case core.Offer:
		c.onOffer(msg.From, p)
	case core.Answer:
		c.onAnswer(p)
	case core.Candidate:
		if err := c.peer.AddICECandidate(p.ICECandidateInit); err != nil {
			c.log.Warn().Err(err).Msg("remote candidate rejected")
		}
	case core.UserJoined:
		c.onUserJoined(msg.From, p)
	case core.Bye:
		c.onBye(msg.From, p)
	}
}

func (c *Controller) onOffer(from domain.UserID, p core.Offer) {
	if c.peer.HasRemoteDescription() {
		c.log.Debug().Str("from", string(from)).Msg("offer after negotiation, ignored")
		return
	}
	if c.offered {
		// glare: the lower id answers, the higher id keeps its offer
		if c.sc.Self.ID > from {
			c.log.Info().Str("from", string(from)).Msg("glare, keeping local offer")
			return
		}
		if err := c.peer.Rollback(); err != nil {
			c.fail(asNegotiation("rollback", err))
			return
		}
		c.log.Info().Str("from", string(from)).Msg("glare, yielding to remote offer")
		c.offered = false
		c.sent = nil
	}

	if err := c.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		c.fail(asNegotiation("set_remote", err))
		return
	}
	sd, err := c.peer.CreateAnswer()
	if err != nil {
		c.fail(asNegotiation("create_answer", err))
		return
	}
	if err := c.publish(core.Answer{SDP: sd.SDP}); err != nil {
		c.fail(err)
		return
	}
	c.transition(core.StateNegotiating, "answered offer", nil)
	c.maybeConnected()
}

func (c *Controller) onAnswer(p core.Answer) {
	if !c.offered || c.answered {
		c.log.Debug().Msg("unexpected answer, ignored")
		return
	}
	if err := c.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		c.fail(asNegotiation("set_remote", err))
		return
	}
	c.answered = true
	c.transition(core.StateNegotiating, "answer received", nil)
	c.maybeConnected()
}

// onUserJoined resends an unanswered offer to a participant that subscribed
// after it was first published.
func (c *Controller) onUserJoined(from domain.UserID, p core.UserJoined) {
	c.log.Info().Str("from", string(from)).Str("remote_role", string(p.Role)).Msg("participant joined")
	if !c.offered || c.answered {
		return
	}
	sd := c.peer.LocalDescription()
	if sd == nil {
		return
	}
	if err := c.publish(core.Offer{SDP: sd.SDP}); err != nil {
		c.fail(err)
		return
	}
	for _, cand := range c.sent {
		if err := c.publish(core.Candidate{ICECandidateInit: cand}); err != nil {
			c.log.Warn().Err(err).Msg("resend candidate")
		}
	}
	c.log.Info().Int("candidates", len(c.sent)).Msg("offer resent")
}

func (c *Controller) onBye(from domain.UserID, p core.Bye) {
	cause := "remote hung up"
	if p.Reason != "" {
		cause += ": " + p.Reason
	}
	c.log.Info().Str("from", string(from)).Msg(cause)
	c.finish(core.StateEnded, cause, nil)
}

func (c *Controller) onSignalError(err error) {
	err = asSignaling("receive", err)
	if core.IsFatal(err, c.State()) {
		c.fail(err)
		return
	}
	c.log.Warn().Err(err).Msg("signaling error ignored while connected")
}

func (c *Controller) onLocalCandidate(cand webrtc.ICECandidateInit) {
	c.sent = append(c.sent, cand)
	if err := c.publish(core.Candidate{ICECandidateInit: cand}); err != nil {
		c.log.Warn().Err(err).Msg("publish candidate")
	}
}

func (c *Controller) onRemoteStream(t core.RemoteTrack) {
	c.log.Info().Str("stream", t.StreamID).Str("kind", t.Kind.String()).Msg("remote stream")
	c.remoteSeen = true
	c.maybeConnected()
}

// maybeConnected requires both a remote description and a remote stream.
func (c *Controller) maybeConnected() {
	if !c.remoteSeen || c.peer == nil || !c.peer.HasRemoteDescription() {
		return
	}
	if !c.State().Establishing() {
		return
	}
	c.stopTimer()
	c.connectedAt = time.Now().UTC()
	c.transition(core.StateConnected, "remote media", nil)
}

func (c *Controller) onPeerState(s webrtc.PeerConnectionState) {
	state := c.State()
	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if state == core.StateConnected {
			c.finish(core.StateEnded, "transport "+s.String(), nil)
			return
		}
		c.fail(&core.TransportError{State: s.String()})
	case webrtc.PeerConnectionStateDisconnected:
		c.log.Warn().Msg("transport disconnected, waiting for recovery")
	default:
		c.log.Debug().Str("transport", s.String()).Msg("transport state")
	}
}

func asNegotiation(op string, err error) error {
	var negErr *core.NegotiationError
	if errors.As(err, &negErr) {
		return err
	}
	return &core.NegotiationError{Op: op, Err: err}
}

func asSignaling(op string, err error) error {
	var sigErr *core.SignalingError
	if errors.As(err, &sigErr) {
		return err
	}
	return &core.SignalingError{Op: op, Err: err}
}
