package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait   = 5 * time.Second
	wsJoinTimeout = 10 * time.Second
)

// WebSocket is a SignalChannel backed by the relay server. Each
// subscription owns one connection joined to one room.
type WebSocket struct {
	url    string
	self   domain.UserID
	dialer *websocket.Dialer

	mu   sync.Mutex
	subs map[domain.RoomID]*wsSub
}

func NewWebSocket(url string, self domain.UserID) *WebSocket {
	return &WebSocket{
		url:    url,
		self:   self,
		dialer: websocket.DefaultDialer,
		subs:   make(map[domain.RoomID]*wsSub),
	}
}

type wsSub struct {
	room      domain.RoomID
	conn      *websocket.Conn
	onMessage func(core.SignalMessage)
	onError   func(error)

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (s *wsSub) Room() domain.RoomID { return s.room }

func (s *wsSub) write(ctx context.Context, f core.RelayFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) Subscribe(ctx context.Context, room domain.RoomID, onMessage func(core.SignalMessage), onError func(error)) (core.Subscription, error) {
	w.mu.Lock()
	_, exists := w.subs[room]
	w.mu.Unlock()
	if exists {
		return nil, &core.SignalingError{Op: "subscribe", Err: ErrAlreadySubscribed}
	}

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}
	s := &wsSub{
		room:      room,
		conn:      conn,
		onMessage: onMessage,
		onError:   onError,
		done:      make(chan struct{}),
	}
	if err := w.join(ctx, s); err != nil {
		_ = conn.Close()
		return nil, &core.SignalingError{Op: "subscribe", Err: err}
	}

	w.mu.Lock()
	w.subs[room] = s
	w.mu.Unlock()

	go w.readLoop(s)
	log.Info().Str("module", "channel.ws").Str("room", string(room)).Str("user", string(w.self)).Msg("joined relay room")
	return s, nil
}

func (w *WebSocket) join(ctx context.Context, s *wsSub) error {
	if err := s.write(ctx, core.RelayFrame{Type: core.FrameJoin, Room: s.room, User: w.self}); err != nil {
		return err
	}
	deadline := time.Now().Add(wsJoinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		var f core.RelayFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		switch f.Type {
		case core.FrameJoined:
			return nil
		case core.FrameError:
			return fmt.Errorf("%w: %s", ErrJoinRejected, f.Error)
		}
	}
}

func (w *WebSocket) readLoop(s *wsSub) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Warn().Err(err).Str("module", "channel.ws").Str("room", string(s.room)).Msg("relay read failed")
			if s.onError != nil {
				s.onError(&core.SignalingError{Op: "receive", Err: err})
			}
			return
		}

		var f core.RelayFrame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Str("module", "channel.ws").Msg("bad relay frame")
			continue
		}
		switch f.Type {
		case core.FrameMessage:
			msg, err := core.DecodeSignal(f.Message)
			if err != nil {
				log.Warn().Err(err).Str("module", "channel.ws").Msg("dropping undecodable signal")
				continue
			}
			s.onMessage(msg)
		case core.FrameError:
			log.Warn().Str("module", "channel.ws").Str("room", string(s.room)).Str("error", f.Error).Msg("relay error")
		case core.FramePong, core.FrameLeft, core.FrameJoined, core.FrameWhoAmI:
		default:
			log.Debug().Str("module", "channel.ws").Str("type", string(f.Type)).Msg("unknown relay frame")
		}
	}
}

func (w *WebSocket) Publish(ctx context.Context, room domain.RoomID, msg core.SignalMessage) error {
	w.mu.Lock()
	s, ok := w.subs[room]
	w.mu.Unlock()
	if !ok {
		return &core.SignalingError{Op: "publish", Err: core.ErrNotSubscribed}
	}
	data, err := core.EncodeSignal(msg)
	if err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	if err := s.write(ctx, core.RelayFrame{Type: core.FramePublish, Room: room, Message: data}); err != nil {
		return &core.SignalingError{Op: "publish", Err: err}
	}
	return nil
}

func (w *WebSocket) Unsubscribe(sub core.Subscription) error {
	s, ok := sub.(*wsSub)
	if !ok {
		return ErrForeignHandle
	}
	var err error
	s.once.Do(func() {
		w.mu.Lock()
		if w.subs[s.room] == s {
			delete(w.subs, s.room)
		}
		w.mu.Unlock()
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
		defer cancel()
		if werr := s.write(ctx, core.RelayFrame{Type: core.FrameLeave, Room: s.room}); werr != nil {
			log.Debug().Err(werr).Str("module", "channel.ws").Msg("leave not sent")
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, websocket.ErrCloseSent) {
			err = cerr
		}
		log.Info().Str("module", "channel.ws").Str("room", string(s.room)).Msg("left relay room")
	})
	return err
}

// Close drops every subscription.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	subs := make([]*wsSub, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()
	for _, s := range subs {
		_ = w.Unsubscribe(s)
	}
	return nil
}
