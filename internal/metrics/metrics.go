package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livetiming_relay"

// Metrics holds the relay's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Deltas            *prometheus.CounterVec
	Snapshots         prometheus.Counter
	Broadcasts        prometheus.Counter
	Subscribers       *prometheus.GaugeVec
	DroppedSubscriber *prometheus.CounterVec
	UpstreamState     prometheus.Gauge
	UpstreamConnects  *prometheus.CounterVec
	Reconnects        prometheus.Counter
	Collaborator      *prometheus.CounterVec
	ChatMessages      *prometheus.CounterVec
	ReplayFrames      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deltas: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Feed deltas processed, by feed and outcome",
		}, []string{"feed", "outcome"}),
		Snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Full snapshot replacements",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to subscribers",
		}),
		Subscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected downstream subscribers by transport",
		}, []string{"transport"}),
		DroppedSubscriber: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers disconnected because their buffer was full",
		}, []string{"transport"}),
		UpstreamState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_state",
			Help:      "Upstream connection state (0 idle, 1 negotiating, 2 connected, 3 disconnected, 4 backoff, 5 terminal)",
		}),
		UpstreamConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connects_total",
			Help:      "Upstream connection attempts by transport and result",
		}, []string{"transport", "result"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_scheduled_total",
			Help:      "Reconnections scheduled by the backoff policy",
		}),
		Collaborator: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_requests_total",
			Help:      "Translation and transcription requests by collaborator and result",
		}, []string{"collaborator", "result"}),
		ChatMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Inbound chat posts by result",
		}, []string{"result"}),
		ReplayFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_frames_total",
			Help:      "Replay frames by phase",
		}, []string{"phase"}),
	}
}

// ObserveDelta counts a processed delta.
func (m *Metrics) ObserveDelta(feed, outcome string) {
	if m == nil {
		return
	}
	m.Deltas.WithLabelValues(feed, outcome).Inc()
}

// ObserveSnapshot counts a snapshot replacement.
func (m *Metrics) ObserveSnapshot() {
	if m == nil {
		return
	}
	m.Snapshots.Inc()
}

// ObserveBroadcast counts a fanned-out message.
func (m *Metrics) ObserveBroadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

// SetSubscribers sets the subscriber gauge for a transport.
func (m *Metrics) SetSubscribers(transport string, n int) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(transport).Set(float64(n))
}

// ObserveDroppedSubscriber counts a slow subscriber disconnect.
func (m *Metrics) ObserveDroppedSubscriber(transport string) {
	if m == nil {
		return
	}
	m.DroppedSubscriber.WithLabelValues(transport).Inc()
}

// SetUpstreamState records the connection state machine position.
func (m *Metrics) SetUpstreamState(state int) {
	if m == nil {
		return
	}
	m.UpstreamState.Set(float64(state))
}

// ObserveConnect counts an upstream connection attempt.
func (m *Metrics) ObserveConnect(transport, result string) {
	if m == nil {
		return
	}
	m.UpstreamConnects.WithLabelValues(transport, result).Inc()
}

// ObserveReconnect counts a scheduled reconnection.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// ObserveCollaborator counts a collaborator call.
func (m *Metrics) ObserveCollaborator(name, result string) {
	if m == nil {
		return
	}
	m.Collaborator.WithLabelValues(name, result).Inc()
}

// ObserveChat counts an inbound chat post.
func (m *Metrics) ObserveChat(result string) {
	if m == nil {
		return
	}
	m.ChatMessages.WithLabelValues(result).Inc()
}

// ObserveReplayFrame counts a replayed frame.
func (m *Metrics) ObserveReplayFrame(phase string) {
	if m == nil {
		return
	}
	m.ReplayFrames.WithLabelValues(phase).Inc()
}
