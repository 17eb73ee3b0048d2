package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Push outcomes.
const (
	Delivered = "delivered"
	Offline   = "offline"
	Failed    = "failed"
)

// Metrics groups the collectors of the routing core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Connections   prometheus.Gauge
	Superseded    prometheus.Counter
	Routed        *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Pushes        *prometheus.CounterVec
	ReadReceipts  *prometheus.CounterVec
	RouteDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "courier",
			Name:      "connections_active",
			Help:      "Users with a live routing entry.",
		}),
		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "connections_superseded_total",
			Help:      "Registrations that displaced an older connection of the same user.",
		}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "messages_routed_total",
			Help:      "Messages persisted and fanned out, by kind.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "intents_dropped_total",
			Help:      "Send intents rejected before or during persistence.",
		}, []string{"kind", "reason"}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "pushes_total",
			Help:      "Push attempts by event and outcome.",
		}, []string{"event", "result"}),
		ReadReceipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "read_receipts_total",
			Help:      "markRead calls by outcome.",
		}, []string{"result"}),
		RouteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "courier",
			Name:      "route_duration_seconds",
			Help:      "Time from intent to last push.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.Connections, m.Superseded, m.Routed, m.Dropped, m.Pushes, m.ReadReceipts, m.RouteDuration)
	}
	return m
}

func (m *Metrics) ConnectionOpened(superseded bool) {
	if m == nil {
		return
	}
	if superseded {
		m.Superseded.Inc()
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed(removed bool) {
	if m == nil || !removed {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) MessageRouted(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.Routed.WithLabelValues(kind).Inc()
	m.RouteDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) IntentDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) Push(event, result string) {
	if m == nil {
		return
	}
	m.Pushes.WithLabelValues(event, result).Inc()
}

func (m *Metrics) ReadReceipt(result string) {
	if m == nil {
		return
	}
	m.ReadReceipts.WithLabelValues(result).Inc()
}
