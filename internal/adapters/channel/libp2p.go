package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

const topicPrefix = "/televisit/room/"

func RoomTopic(room domain.RoomID) string { return topicPrefix + string(room) }

// PubSub is a serverless SignalChannel: each participant runs a libp2p host
// and the room is a gossipsub topic.
type PubSub struct {
	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[domain.RoomID]*pubsub.Topic
	subs   map[*psSub]struct{}
}

type psSub struct {
	room   domain.RoomID
	sub    *pubsub.Subscription
	cancel context.CancelFunc
	once   sync.Once
}

func (s *psSub) Room() domain.RoomID { return s.room }

// NewPubSub starts a host listening on listen and dials every peer
// multiaddr (which must end in /p2p/<id>).
func NewPubSub(ctx context.Context, listen, peers []string) (*PubSub, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listen...))
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}
	p := &PubSub{
		host:   h,
		ps:     ps,
		topics: make(map[domain.RoomID]*pubsub.Topic),
		subs:   make(map[*psSub]struct{}),
	}
	for _, addr := range peers {
		if err := p.Connect(ctx, addr); err != nil {
			log.Warn().Err(err).Str("module", "channel.p2p").Str("peer", addr).Msg("peer dial failed")
		}
	}
	log.Info().Str("module", "channel.p2p").Strs("addrs", p.Addrs()).Msg("libp2p host started")
	return p, nil
}

// Addrs returns dialable multiaddrs including the peer id.
func (p *PubSub) Addrs() []string {
	out := make([]string, 0, len(p.host.Addrs()))
	for _, a := range p.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, p.host.ID()))
	}
	return out
}

func (p *PubSub) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return p.host.Connect(ctx, *info)
}

// TopicPeers reports how many remote peers share the room topic.
func (p *PubSub) TopicPeers(room domain.RoomID) int {
	p.mu.Lock()
	t, ok := p.topics[room]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return len(t.ListPeers())
}

func (p *PubSub) topic(room domain.RoomID) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[room]; ok {
		return t, nil
	}
	t, err := p.ps.Join(RoomTopic(room))
	if err != nil {
		return nil, err
	}
	p.topics[room] = t
	return t, nil
}

func (p *PubSub) Subscribe(ctx context.Context, room domain.RoomID, onMessage func(core.SignalMessage), onError func(error)) (core.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	t, err := p.topic(room)
	if err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s := &psSub{room: room, sub: sub, cancel: cancel}

	p.mu.Lock()
	p.subs[s] = struct{}{}
	p.mu.Unlock()

	go func() {
		for {
			m, err := sub.Next(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("module", "channel.p2p").Str("room", string(room)).Msg("subscription ended")
				if onError != nil {
					onError(&core.SignalingError{Op: "receive", Err: err})
				}
				return
			}
			msg, err := core.DecodeSignal(m.Data)
			if err != nil {
				log.Warn().Err(err).Str("module", "channel.p2p").Str("from_peer", m.ReceivedFrom.String()).Msg("dropping undecodable signal")
				continue
			}
			onMessage(msg)
		}
	}()
	log.Info().Str("module", "channel.p2p").Str("topic", RoomTopic(room)).Msg("subscribed")
	return s, nil
}

func (p *PubSub) Publish(ctx context.Context, room domain.RoomID, msg core.SignalMessage) error {
	data, err := core.EncodeSignal(msg)
	if err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	t, err := p.topic(room)
	if err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	if err := t.Publish(ctx, data); err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	return nil
}

func (p *PubSub) Unsubscribe(sub core.Subscription) error {
	s, ok := sub.(*psSub)
	if !ok {
		return ErrForeignHandle
	}
	s.once.Do(func() {
		p.mu.Lock()
		delete(p.subs, s)
		p.mu.Unlock()
		s.cancel()
		s.sub.Cancel()
	})
	return nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	subs := make([]*psSub, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()
	for _, s := range subs {
		_ = p.Unsubscribe(s)
	}

	p.mu.Lock()
	for room, t := range p.topics {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("module", "channel.p2p").Str("room", string(room)).Msg("topic close")
		}
	}
	p.topics = make(map[domain.RoomID]*pubsub.Topic)
	p.mu.Unlock()
	return p.host.Close()
}
