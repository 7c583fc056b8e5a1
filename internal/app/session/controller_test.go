package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/televisit/internal/adapters/channel"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectPair(t *testing.T, bus *channel.Bus) (provider, patient *party) {
	t.Helper()
	provider = newParty(t, bus, "dr-house", domain.RoleProvider)
	patient = newParty(t, bus, "pat-1", domain.RolePatient)

	require.NoError(t, provider.ctl.Start(context.Background()))
	waitState(t, provider.ctl, core.StateAwaitingRemote)
	require.NoError(t, patient.ctl.Start(context.Background()))

	waitState(t, provider.ctl, core.StateConnected)
	waitState(t, patient.ctl, core.StateConnected)
	return provider, patient
}

func TestProviderAndPatientConnect(t *testing.T) {
	bus := channel.NewBus()
	provider, patient := connectPair(t, bus)

	pp := provider.peers.peer(t)
	rp := patient.peers.peer(t)
	assert.True(t, pp.HasRemoteDescription())
	assert.True(t, rp.HasRemoteDescription())
	assert.Equal(t, 1, provider.peers.count())
	assert.Equal(t, 1, patient.peers.count())

	offers, answers, _, _ := pp.counts()
	assert.Equal(t, 1, offers)
	assert.Zero(t, answers)
	offers, answers, _, _ = rp.counts()
	assert.Zero(t, offers)
	assert.Equal(t, 1, answers)

	assert.Equal(t, []core.ConnectionState{
		core.StateAcquiringMedia, core.StateAwaitingRemote, core.StateNegotiating, core.StateConnected,
	}, provider.rec.states())
	assert.Equal(t, []core.ConnectionState{
		core.StateAcquiringMedia, core.StateAwaitingRemote, core.StateNegotiating, core.StateConnected,
	}, patient.rec.states())
}

func TestRemoteHangupEndsConnectedCall(t *testing.T) {
	bus := channel.NewBus()
	provider, patient := connectPair(t, bus)

	provider.ctl.End()
	assert.Equal(t, core.StateEnded, provider.ctl.State())
	waitState(t, patient.ctl, core.StateEnded)
	<-patient.ctl.Done()

	for _, p := range []*party{provider, patient} {
		recs := p.records.all()
		require.Len(t, recs, 1)
		assert.Equal(t, domain.OutcomeCompleted, recs[0].Outcome)
		assert.Equal(t, room, recs[0].Room)
		assert.GreaterOrEqual(t, recs[0].DurationMs, int64(0))
		assert.NoError(t, p.ctl.Err())
	}
	assert.Zero(t, bus.Subscribers(room))
}

func TestLateJoinerGetsResentOffer(t *testing.T) {
	bus := channel.NewBus()
	watch := newSpy(t, bus)
	provider := newParty(t, bus, "dr-house", domain.RoleProvider)
	require.NoError(t, provider.ctl.Start(context.Background()))
	waitState(t, provider.ctl, core.StateAwaitingRemote)
	require.Eventually(t, func() bool { return watch.count("dr-house", core.KindCandidate) == 1 }, waitFor, tick)
	require.Equal(t, 1, watch.count("dr-house", core.KindOffer))

	patient := newParty(t, bus, "pat-1", domain.RolePatient)
	require.NoError(t, patient.ctl.Start(context.Background()))

	waitState(t, patient.ctl, core.StateConnected)
	waitState(t, provider.ctl, core.StateConnected)

	assert.Equal(t, 2, watch.count("dr-house", core.KindOffer))
	assert.GreaterOrEqual(t, watch.count("dr-house", core.KindCandidate), 2)
	assert.NotEmpty(t, patient.peers.peer(t).remoteCandidates())
	offers, _, _, _ := provider.peers.peer(t).counts()
	assert.Equal(t, 1, offers, "the resend reuses the existing offer")
}

func TestConnectedNeedsRemoteDescriptionAndStream(t *testing.T) {
	t.Run("initiator", func(t *testing.T) {
		bus := channel.NewBus()
		p := newParty(t, bus, "dr-house", domain.RoleProvider)
		p.peers.autoMedia = false
		require.NoError(t, p.ctl.Start(context.Background()))
		waitState(t, p.ctl, core.StateAwaitingRemote)
		peer := p.peers.peer(t)

		peer.fireRemote()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, core.StateAwaitingRemote, p.ctl.State())

		answer := core.NewSignal("pat-1", core.Broadcast, core.Answer{SDP: "answer"})
		require.NoError(t, bus.Publish(context.Background(), room, answer))
		waitState(t, p.ctl, core.StateConnected)
	})

	t.Run("responder", func(t *testing.T) {
		bus := channel.NewBus()
		p := newParty(t, bus, "pat-1", domain.RolePatient)
		p.peers.autoMedia = false
		require.NoError(t, p.ctl.Start(context.Background()))
		waitState(t, p.ctl, core.StateAwaitingRemote)
		peer := p.peers.peer(t)

		offer := core.NewSignal("dr-house", core.Broadcast, core.Offer{SDP: "offer"})
		require.NoError(t, bus.Publish(context.Background(), room, offer))
		waitState(t, p.ctl, core.StateNegotiating)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, core.StateNegotiating, p.ctl.State())

		peer.fireRemote()
		waitState(t, p.ctl, core.StateConnected)
	})
}

func TestEndFromEveryStateTearsDownOnce(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, bus *channel.Bus, p *party)
		peers int
	}{
		{
			name: "acquiring media",
			setup: func(t *testing.T, _ *channel.Bus, p *party) {
				p.media.gate = make(chan struct{})
				p.media.honorCtx = true
				require.NoError(t, p.ctl.Start(context.Background()))
				waitState(t, p.ctl, core.StateAcquiringMedia)
			},
		},
		{
			name: "awaiting remote",
			setup: func(t *testing.T, _ *channel.Bus, p *party) {
				require.NoError(t, p.ctl.Start(context.Background()))
				waitState(t, p.ctl, core.StateAwaitingRemote)
			},
			peers: 1,
		},
		{
			name: "negotiating",
			setup: func(t *testing.T, bus *channel.Bus, p *party) {
				p.peers.autoMedia = false
				require.NoError(t, p.ctl.Start(context.Background()))
				waitState(t, p.ctl, core.StateAwaitingRemote)
				answer := core.NewSignal("pat-1", core.Broadcast, core.Answer{SDP: "answer"})
				require.NoError(t, bus.Publish(context.Background(), room, answer))
				waitState(t, p.ctl, core.StateNegotiating)
			},
			peers: 1,
		},
		{
			name: "connected",
			setup: func(t *testing.T, bus *channel.Bus, p *party) {
				require.NoError(t, p.ctl.Start(context.Background()))
				waitState(t, p.ctl, core.StateAwaitingRemote)
				answer := core.NewSignal("pat-1", core.Broadcast, core.Answer{SDP: "answer"})
				require.NoError(t, bus.Publish(context.Background(), room, answer))
				waitState(t, p.ctl, core.StateConnected)
			},
			peers: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus := channel.NewBus()
			p := newParty(t, bus, "dr-house", domain.RoleProvider)
			tc.setup(t, bus, p)

			var wg sync.WaitGroup
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.ctl.End()
				}()
			}
			wg.Wait()
			p.ctl.End()

			assert.Equal(t, core.StateEnded, p.ctl.State())
			assert.NoError(t, p.ctl.Err())
			_, releases, held := p.media.snapshot()
			assert.Equal(t, 1, releases)
			assert.False(t, held)
			assert.Equal(t, tc.peers, p.peers.count())
			if tc.peers > 0 {
				_, _, _, closes := p.peers.peer(t).counts()
				assert.Equal(t, 1, closes)
			}
			assert.Zero(t, bus.Subscribers(room))
			assert.Len(t, p.records.all(), 1)
		})
	}
}

func TestMediaArrivingAfterEndIsReleased(t *testing.T) {
	bus := channel.NewBus()
	p := newParty(t, bus, "pat-1", domain.RolePatient)
	p.media.gate = make(chan struct{})
	require.NoError(t, p.ctl.Start(context.Background()))
	waitState(t, p.ctl, core.StateAcquiringMedia)

	p.ctl.End()
	close(p.media.gate)

	require.Eventually(t, func() bool {
		_, releases, held := p.media.snapshot()
		return releases == 2 && !held
	}, waitFor, tick)
	assert.Zero(t, p.peers.count())
	assert.Zero(t, bus.Subscribers(room))
}

func TestMediaDeniedFailsWithoutSubscribing(t *testing.T) {
	bus := channel.NewBus()
	p := newParty(t, bus, "pat-1", domain.RolePatient)
	p.media.err = &core.MediaAccessError{Err: core.ErrPermissionDenied}
	require.NoError(t, p.ctl.Start(context.Background()))

	<-p.ctl.Done()
	assert.Equal(t, core.StateFailed, p.ctl.State())
	var mediaErr *core.MediaAccessError
	require.ErrorAs(t, p.ctl.Err(), &mediaErr)
	assert.ErrorIs(t, p.ctl.Err(), core.ErrPermissionDenied)

	assert.Zero(t, p.peers.count())
	assert.Zero(t, bus.Subscribers(room))
	acquires, releases, _ := p.media.snapshot()
	assert.Equal(t, 1, acquires, "no automatic retry")
	assert.Equal(t, 1, releases)

	recs := p.records.all()
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].DurationMs)
	assert.Equal(t, domain.OutcomeFailed, recs[0].Outcome)
	assert.Contains(t, recs[0].Reason, "denied")
}

func TestUnwrappedMediaErrorIsClassified(t *testing.T) {
	p := newParty(t, channel.NewBus(), "pat-1", domain.RolePatient)
	p.media.err = core.ErrNoDevice
	require.NoError(t, p.ctl.Start(context.Background()))
	<-p.ctl.Done()

	var mediaErr *core.MediaAccessError
	require.ErrorAs(t, p.ctl.Err(), &mediaErr)
	assert.ErrorIs(t, p.ctl.Err(), core.ErrNoDevice)
}

func TestTimeoutFailsWaitingParticipant(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleProvider, domain.RolePatient} {
		t.Run(string(role), func(t *testing.T) {
			bus := channel.NewBus()
			watch := newSpy(t, bus)
			p := newParty(t, bus, "solo", role, WithTimeout(100*time.Millisecond))
			require.NoError(t, p.ctl.Start(context.Background()))

			<-p.ctl.Done()
			assert.Equal(t, core.StateFailed, p.ctl.State())
			var timeoutErr *core.ConnectionTimeoutError
			require.ErrorAs(t, p.ctl.Err(), &timeoutErr)
			assert.Equal(t, 100*time.Millisecond, timeoutErr.After)

			assert.Equal(t, []core.ConnectionState{
				core.StateAcquiringMedia, core.StateAwaitingRemote, core.StateFailed,
			}, p.rec.states())
			if role.Initiates() {
				assert.Equal(t, 1, watch.count("solo", core.KindOffer))
			}
			assert.Eventually(t, func() bool { return watch.count("solo", core.KindBye) == 1 }, waitFor, tick)

			_, _, _, closes := p.peers.peer(t).counts()
			assert.Equal(t, 1, closes)
			_, releases, _ := p.media.snapshot()
			assert.Equal(t, 1, releases)
			assert.Equal(t, 1, bus.Subscribers(room), "only the spy is left")
			recs := p.records.all()
			require.Len(t, recs, 1)
			assert.Equal(t, domain.OutcomeFailed, recs[0].Outcome)
		})
	}
}

func TestMuteNeverRenegotiates(t *testing.T) {
	bus := channel.NewBus()
	watch := newSpy(t, bus)
	provider, patient := connectPair(t, bus)

	before := watch.count("dr-house", core.KindOffer) + watch.count("pat-1", core.KindAnswer)
	provider.ctl.SetAudioEnabled(false)
	provider.ctl.SetVideoEnabled(false)
	patient.ctl.SetVideoEnabled(false)
	provider.ctl.SetAudioEnabled(true)
	time.Sleep(50 * time.Millisecond)

	after := watch.count("dr-house", core.KindOffer) + watch.count("pat-1", core.KindAnswer)
	assert.Equal(t, before, after)
	offers, _, _, _ := provider.peers.peer(t).counts()
	assert.Equal(t, 1, offers)
	_, answers, _, _ := patient.peers.peer(t).counts()
	assert.Equal(t, 1, answers)
	assert.Equal(t, core.StateConnected, provider.ctl.State())

	provider.media.mu.Lock()
	assert.Equal(t, []bool{false, true}, provider.media.audio)
	assert.Equal(t, []bool{false}, provider.media.video)
	provider.media.mu.Unlock()
}

func TestOwnAndMisaddressedMessagesIgnored(t *testing.T) {
	bus := channel.NewBus()
	p := newParty(t, bus, "pat-1", domain.RolePatient)
	require.NoError(t, p.ctl.Start(context.Background()))
	waitState(t, p.ctl, core.StateAwaitingRemote)
	peer := p.peers.peer(t)

	forged := core.NewSignal("pat-1", core.Broadcast, core.Offer{SDP: "echo"})
	elsewhere := core.NewSignal("dr-house", "someone-else", core.Offer{SDP: "not for us"})
	require.NoError(t, bus.Publish(context.Background(), room, forged))
	require.NoError(t, bus.Publish(context.Background(), room, elsewhere))
	time.Sleep(50 * time.Millisecond)

	assert.False(t, peer.HasRemoteDescription())
	assert.Equal(t, core.StateAwaitingRemote, p.ctl.State())

	direct := core.NewSignal("dr-house", "pat-1", core.Offer{SDP: "for us"})
	require.NoError(t, bus.Publish(context.Background(), room, direct))
	waitState(t, p.ctl, core.StateConnected)
}

func TestEarlyCandidatesReachThePeer(t *testing.T) {
	bus := channel.NewBus()
	p := newParty(t, bus, "pat-1", domain.RolePatient)
	p.peers.autoMedia = false
	require.NoError(t, p.ctl.Start(context.Background()))
	waitState(t, p.ctl, core.StateAwaitingRemote)
	peer := p.peers.peer(t)

	early := webrtc.ICECandidateInit{Candidate: "candidate:9 1 udp 1 10.0.0.9 9 typ host"}
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, room, core.NewSignal("dr-house", core.Broadcast, core.Candidate{ICECandidateInit: early})))
	require.NoError(t, bus.Publish(ctx, room, core.NewSignal("dr-house", core.Broadcast, core.Offer{SDP: "offer"})))

	waitState(t, p.ctl, core.StateNegotiating)
	require.Eventually(t, func() bool { return len(peer.remoteCandidates()) == 1 }, waitFor, tick)
	assert.Equal(t, early.Candidate, peer.remoteCandidates()[0].Candidate)
}

func TestGlareLowerIDYields(t *testing.T) {
	bus := channel.NewBus()
	alice := newParty(t, bus, "alice", domain.RoleProvider)
	bob := newParty(t, bus, "bob", domain.RoleProvider)

	require.NoError(t, alice.ctl.Start(context.Background()))
	require.NoError(t, bob.ctl.Start(context.Background()))

	waitState(t, alice.ctl, core.StateConnected)
	waitState(t, bob.ctl, core.StateConnected)

	_, answers, rollbacks, _ := alice.peers.peer(t).counts()
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, 1, answers)
	_, answers, rollbacks, _ = bob.peers.peer(t).counts()
	assert.Zero(t, rollbacks)
	assert.Zero(t, answers)
}

func TestSignalingErrors(t *testing.T) {
	t.Run("fatal before connect", func(t *testing.T) {
		bus := channel.NewBus()
		p := newParty(t, bus, "pat-1", domain.RolePatient)
		require.NoError(t, p.ctl.Start(context.Background()))
		waitState(t, p.ctl, core.StateAwaitingRemote)

		bus.Break(room, errBroken)
		<-p.ctl.Done()
		assert.Equal(t, core.StateFailed, p.ctl.State())
		var sigErr *core.SignalingError
		require.ErrorAs(t, p.ctl.Err(), &sigErr)
		assert.ErrorIs(t, p.ctl.Err(), errBroken)
	})

	t.Run("ignored while connected", func(t *testing.T) {
		bus := channel.NewBus()
		provider, patient := connectPair(t, bus)

		bus.Break(room, errBroken)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, core.StateConnected, provider.ctl.State())
		assert.Equal(t, core.StateConnected, patient.ctl.State())
	})
}

func TestTransportStates(t *testing.T) {
	t.Run("failure before connect", func(t *testing.T) {
		p := newParty(t, channel.NewBus(), "pat-1", domain.RolePatient)
		require.NoError(t, p.ctl.Start(context.Background()))
		waitState(t, p.ctl, core.StateAwaitingRemote)

		p.peers.peer(t).fireState(webrtc.PeerConnectionStateDisconnected)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, core.StateAwaitingRemote, p.ctl.State())

		p.peers.peer(t).fireState(webrtc.PeerConnectionStateFailed)
		<-p.ctl.Done()
		var trErr *core.TransportError
		require.ErrorAs(t, p.ctl.Err(), &trErr)
		assert.Equal(t, core.StateFailed, p.ctl.State())
	})

	t.Run("failure after connect ends the call", func(t *testing.T) {
		bus := channel.NewBus()
		provider, patient := connectPair(t, bus)

		provider.peers.peer(t).fireState(webrtc.PeerConnectionStateFailed)
		<-provider.ctl.Done()
		assert.Equal(t, core.StateEnded, provider.ctl.State())
		assert.NoError(t, provider.ctl.Err())
		waitState(t, patient.ctl, core.StateEnded)
	})
}

func TestCancelingStartContextEnds(t *testing.T) {
	p := newParty(t, channel.NewBus(), "pat-1", domain.RolePatient)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.ctl.Start(ctx))
	waitState(t, p.ctl, core.StateAwaitingRemote)

	cancel()
	<-p.ctl.Done()
	assert.Equal(t, core.StateEnded, p.ctl.State())
	recs := p.records.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OutcomeCancelled, recs[0].Outcome)
}

func TestTeardownSurvivesFailingSteps(t *testing.T) {
	t.Run("peer close panics", func(t *testing.T) {
		bus := channel.NewBus()
		p := newParty(t, bus, "pat-1", domain.RolePatient)
		p.peers.panicOnClose = true
		require.NoError(t, p.ctl.Start(context.Background()))
		waitState(t, p.ctl, core.StateAwaitingRemote)

		p.ctl.End()
		_, releases, _ := p.media.snapshot()
		assert.Equal(t, 1, releases)
		assert.Zero(t, bus.Subscribers(room))
		assert.Len(t, p.records.all(), 1)
	})

	t.Run("record sink hangs", func(t *testing.T) {
		p := newParty(t, channel.NewBus(), "pat-1", domain.RolePatient, WithRecordTimeout(50*time.Millisecond))
		p.records.block = true
		require.NoError(t, p.ctl.Start(context.Background()))
		waitState(t, p.ctl, core.StateAwaitingRemote)

		start := time.Now()
		p.ctl.End()
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, core.StateEnded, p.ctl.State())
	})
}

func TestStartRules(t *testing.T) {
	bus := channel.NewBus()

	p := newParty(t, bus, "pat-1", domain.RolePatient)
	require.NoError(t, p.ctl.Start(context.Background()))
	assert.ErrorIs(t, p.ctl.Start(context.Background()), ErrAlreadyStarted)

	bad := newParty(t, bus, "pat-2", "nurse")
	assert.ErrorIs(t, bad.ctl.Start(context.Background()), domain.ErrUnknownRole)

	sc := domain.SessionContext{Room: room, Self: domain.Participant{ID: "pat-3", Role: domain.RolePatient}}
	noDeps := New(sc, Deps{Channel: bus})
	assert.ErrorIs(t, noDeps.Start(context.Background()), ErrMissingDep)

	unstarted := New(sc, Deps{Channel: bus, Media: &fakeMedia{}, Peers: &fakeFactory{}})
	unstarted.End()
	unstarted.End()
	assert.Equal(t, core.StateEnded, unstarted.State())
	assert.ErrorIs(t, unstarted.Start(context.Background()), ErrAlreadyStarted)
}
