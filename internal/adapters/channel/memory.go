package channel

import (
	"context"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

const busQueueSize = 256

// Bus is an in-process SignalChannel. Messages pass through the wire codec so
// it behaves like a real transport; each subscriber is fed by its own
// goroutine, in publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[domain.RoomID]map[*busSub]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[domain.RoomID]map[*busSub]struct{})}
}

type busSub struct {
	room      domain.RoomID
	onMessage func(core.SignalMessage)
	onError   func(error)
	queue     chan func()
	done      chan struct{}
	once      sync.Once
}

func (s *busSub) Room() domain.RoomID { return s.room }

func (s *busSub) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

func (s *busSub) enqueue(fn func()) bool {
	select {
	case <-s.done:
		return false
	case s.queue <- fn:
		return true
	default:
		return false
	}
}

func (b *Bus) Subscribe(ctx context.Context, room domain.RoomID, onMessage func(core.SignalMessage), onError func(error)) (core.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	s := &busSub{
		room:      room,
		onMessage: onMessage,
		onError:   onError,
		queue:     make(chan func(), busQueueSize),
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs[room] == nil {
		b.subs[room] = make(map[*busSub]struct{})
	}
	b.subs[room][s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	log.Debug().Str("module", "channel.bus").Str("room", string(room)).Msg("subscribed")
	return s, nil
}

func (b *Bus) Publish(ctx context.Context, room domain.RoomID, msg core.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	data, err := core.EncodeSignal(msg)
	if err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[room] {
		// each subscriber gets its own decoded copy
		decoded, err := core.DecodeSignal(data)
		if err != nil {
			return &core.SignalingError{Op: "publish", Err: err}
		}
		fn := s.onMessage
		if !s.enqueue(func() { fn(decoded) }) {
			log.Warn().Str("module", "channel.bus").Str("room", string(room)).Str("type", string(msg.Kind())).Msg("subscriber queue full, message dropped")
		}
	}
	return nil
}

func (b *Bus) Unsubscribe(sub core.Subscription) error {
	s, ok := sub.(*busSub)
	if !ok {
		return ErrForeignHandle
	}
	s.once.Do(func() {
		b.mu.Lock()
		delete(b.subs[s.room], s)
		if len(b.subs[s.room]) == 0 {
			delete(b.subs, s.room)
		}
		b.mu.Unlock()
		close(s.done)
		log.Debug().Str("module", "channel.bus").Str("room", string(s.room)).Msg("unsubscribed")
	})
	return nil
}

// Break reports err to every subscriber of room, as a transport failure would.
func (b *Bus) Break(room domain.RoomID, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[room] {
		if s.onError == nil {
			continue
		}
		fn := s.onError
		s.enqueue(func() { fn(&core.SignalingError{Op: "receive", Err: err}) })
	}
}

func (b *Bus) Subscribers(room domain.RoomID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[room])
}

func (b *Bus) Close() error { return nil }
