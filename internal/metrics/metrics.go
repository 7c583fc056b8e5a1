// Package metrics holds the prometheus collectors shared by the relay and the
// call client. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "televisit"

type Metrics struct {
	transitions  *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	connected    prometheus.Histogram
	signals      *prometheus.CounterVec
	relayRooms   prometheus.Gauge
	relayMembers prometheus.Gauge
	relayDropped prometheus.Counter
	rtpPackets   *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "transitions_total",
			Help: "Session state transitions.",
		}, []string{"from", "to"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "outcomes_total",
			Help: "Finished sessions by outcome.",
		}, []string{"outcome"}),
		connected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "connected_seconds",
			Help:    "Time spent connected per session.",
			Buckets: []float64{10, 60, 300, 600, 1200, 1800, 3600},
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signal", Name: "messages_total",
			Help: "Signaling messages by direction and type.",
		}, []string{"direction", "type"}),
		relayRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		relayMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "members",
			Help: "Joined relay connections.",
		}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_total",
			Help: "Frames dropped because a member's send buffer was full.",
		}),
		rtpPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtc", Name: "remote_rtp_packets_total",
			Help: "RTP packets received from the remote participant.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.transitions, m.outcomes, m.connected, m.signals,
		m.relayRooms, m.relayMembers, m.relayDropped, m.rtpPackets)
	return m
}

func (m *Metrics) Transition(from, to core.ConnectionState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) Outcome(rec domain.CallRecord) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(rec.Outcome)).Inc()
	if rec.DurationMs > 0 {
		m.connected.Observe((time.Duration(rec.DurationMs) * time.Millisecond).Seconds())
	}
}

func (m *Metrics) SignalIn(kind core.SignalKind) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues("in", string(kind)).Inc()
}

func (m *Metrics) SignalOut(kind core.SignalKind) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues("out", string(kind)).Inc()
}

func (m *Metrics) RelayRooms(n int) {
	if m == nil {
		return
	}
	m.relayRooms.Set(float64(n))
}

func (m *Metrics) RelayMembers(delta int) {
	if m == nil {
		return
	}
	m.relayMembers.Add(float64(delta))
}

func (m *Metrics) RelayDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.relayDropped.Add(float64(n))
}

func (m *Metrics) RTPPacket(kind string) {
	if m == nil {
		return
	}
	m.rtpPackets.WithLabelValues(kind).Inc()
}
