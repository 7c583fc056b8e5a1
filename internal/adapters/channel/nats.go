package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsSubjectPrefix = "televisit.room."

// NATSSubject maps a room onto its subject. Room ids are validated to
// contain no '.', '*' or '>'.
func NATSSubject(room domain.RoomID) string {
	return natsSubjectPrefix + string(room)
}

// NATS is a SignalChannel over core NATS subjects. The broker gives
// at-most-once delivery and per-publisher ordering, which is all the
// controller relies on.
type NATS struct {
	nc    *nats.Conn
	owned bool

	mu   sync.Mutex
	subs map[*natsSub]struct{}
}

type natsSub struct {
	room    domain.RoomID
	sub     *nats.Subscription
	onError func(error)
	once    sync.Once
}

func (s *natsSub) Room() domain.RoomID { return s.room }

// DialNATS connects to url and closes the connection on Close.
func DialNATS(url, name string) (*NATS, error) {
	n := &NATS{owned: true, subs: make(map[*natsSub]struct{})}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "channel.nats").Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("module", "channel.nats").Str("url", c.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			n.fail(core.ErrChannelClosed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			log.Warn().Err(err).Str("module", "channel.nats").Msg("async error")
			if sub != nil {
				n.failSub(sub, err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	n.nc = nc
	return n, nil
}

// NewNATS wraps a connection the caller keeps ownership of.
func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc, subs: make(map[*natsSub]struct{})}
}

func (n *NATS) Subscribe(ctx context.Context, room domain.RoomID, onMessage func(core.SignalMessage), onError func(error)) (core.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	s := &natsSub{room: room, onError: onError}
	sub, err := n.nc.Subscribe(NATSSubject(room), func(m *nats.Msg) {
		msg, err := core.DecodeSignal(m.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "channel.nats").Str("subject", m.Subject).Msg("dropping undecodable signal")
			return
		}
		onMessage(msg)
	})
	if err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	// make sure the server knows about the interest before we report success
	if err := n.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	s.sub = sub

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()
	log.Info().Str("module", "channel.nats").Str("subject", NATSSubject(room)).Msg("subscribed")
	return s, nil
}

func (n *NATS) Publish(ctx context.Context, room domain.RoomID, msg core.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	data, err := core.EncodeSignal(msg)
	if err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	if err := n.nc.Publish(NATSSubject(room), data); err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	return nil
}

func (n *NATS) Unsubscribe(sub core.Subscription) error {
	s, ok := sub.(*natsSub)
	if !ok {
		return ErrForeignHandle
	}
	var err error
	s.once.Do(func() {
		n.mu.Lock()
		delete(n.subs, s)
		n.mu.Unlock()
		if uerr := s.sub.Unsubscribe(); uerr != nil && n.nc.IsConnected() {
			err = &core.SignalingError{Op: "unsubscribe", Err: uerr}
		}
	})
	return err
}

func (n *NATS) fail(err error) {
	n.mu.Lock()
	subs := make([]*natsSub, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()
	for _, s := range subs {
		if s.onError != nil {
			s.onError(&core.SignalingError{Op: "receive", Err: err})
		}
	}
}

func (n *NATS) failSub(sub *nats.Subscription, err error) {
	n.mu.Lock()
	var target *natsSub
	for s := range n.subs {
		if s.sub == sub {
			target = s
			break
		}
	}
	n.mu.Unlock()
	if target != nil && target.onError != nil {
		target.onError(&core.SignalingError{Op: "receive", Err: err})
	}
}

func (n *NATS) Close() error {
	if !n.owned {
		return nil
	}
	n.mu.Lock()
	n.subs = make(map[*natsSub]struct{})
	n.mu.Unlock()
	n.nc.Close()
	return nil
}
