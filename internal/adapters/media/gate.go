package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type GateState int32

const (
	GateOpen GateState = iota
	GateMuted
)

// Gate switches packet flow for every track of one kind.
type Gate struct {
	state atomic.Int32 // zero is GateOpen
}

func (g *Gate) State() GateState { return GateState(g.state.Load()) }
func (g *Gate) Open()            { g.state.Store(int32(GateOpen)) }
func (g *Gate) Mute()            { g.state.Store(int32(GateMuted)) }

func (g *Gate) Set(enabled bool) {
	if enabled {
		g.Open()
	} else {
		g.Mute()
	}
}

// gatedTrack wraps a local track so each bound sender writes through the gate.
// The track stays negotiated while muted; packets are dropped at the writer.
type gatedTrack struct {
	webrtc.TrackLocal
	gate *Gate

	mu    sync.Mutex
	bound map[webrtc.TrackLocalContext]webrtc.TrackLocalContext
}

func gateTrack(t webrtc.TrackLocal, g *Gate) *gatedTrack {
	return &gatedTrack{
		TrackLocal: t,
		gate:       g,
		bound:      make(map[webrtc.TrackLocalContext]webrtc.TrackLocalContext),
	}
}

func (t *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	wrapped := &gatedContext{TrackLocalContext: ctx, gate: t.gate}
	t.mu.Lock()
	t.bound[ctx] = wrapped
	t.mu.Unlock()
	return t.TrackLocal.Bind(wrapped)
}

// Unbind hands the inner track the same context it was bound with; pion and
// mediadevices both look bindings up by context.
func (t *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.mu.Lock()
	wrapped, ok := t.bound[ctx]
	delete(t.bound, ctx)
	t.mu.Unlock()
	if !ok {
		return t.TrackLocal.Unbind(ctx)
	}
	return t.TrackLocal.Unbind(wrapped)
}

type gatedContext struct {
	webrtc.TrackLocalContext
	gate *Gate
}

func (c *gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return &gatedWriter{inner: c.TrackLocalContext.WriteStream(), gate: c.gate}
}

type gatedWriter struct {
	inner webrtc.TrackLocalWriter
	gate  *Gate
}

func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if w.gate.State() == GateMuted {
		return len(payload), nil
	}
	return w.inner.WriteRTP(header, payload)
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if w.gate.State() == GateMuted {
		return len(b), nil
	}
	return w.inner.Write(b)
}
