package session

import (
	"context"
	"testing"

	"github.com/dkeye/televisit/internal/adapters/channel"
	"github.com/dkeye/televisit/internal/adapters/media"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promptSource behaves like a permission prompt nobody answers: Open only
// returns once ctx is canceled.
type promptSource struct {
	opened chan struct{}
}

func (s *promptSource) Open(ctx context.Context, _ core.Constraints) ([]webrtc.TrackLocal, func(), error) {
	close(s.opened)
	<-ctx.Done()
	return nil, func() {}, ctx.Err()
}

func TestEndWhileDevicesOpenWithManager(t *testing.T) {
	bus := channel.NewBus()
	src := &promptSource{opened: make(chan struct{})}
	peers := &fakeFactory{}
	sink := &fakeSink{}
	sc := domain.SessionContext{Room: room, Self: domain.Participant{ID: "dr-house", Role: domain.RoleProvider}}
	ctl := New(sc, Deps{
		Channel: bus,
		Media:   media.NewManager(src),
		Peers:   peers,
		Records: sink,
	})

	require.NoError(t, ctl.Start(context.Background()))
	<-src.opened
	assert.Equal(t, core.StateAcquiringMedia, ctl.State())

	ended := make(chan struct{})
	go func() {
		ctl.End()
		close(ended)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-ended:
			return true
		default:
			return false
		}
	}, waitFor, tick, "End blocked while the source was opening")

	assert.Equal(t, core.StateEnded, ctl.State())
	assert.Zero(t, peers.count())
	assert.Zero(t, bus.Subscribers(room))
	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OutcomeCancelled, recs[0].Outcome)
}
