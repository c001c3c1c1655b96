package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "beka"

// Metrics holds the collectors shared by the store, ingress and delivery paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	storeAdded      prometheus.Counter
	storeDuplicates prometheus.Counter
	ingressEvents   *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	liveSessions    *prometheus.GaugeVec
	chatRequests    *prometheus.CounterVec
	chatLatency     prometheus.Histogram
	normalized      *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		storeAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "messages_added_total",
			Help:      "Messages appended to a conversation backlog.",
		}),
		storeDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "duplicates_total",
			Help:      "Messages rejected because their id was already in the backlog.",
		}),
		ingressEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "events_total",
			Help:      "Support platform webhook events by outcome.",
		}, []string{"result"}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Messages handed to a client by transport.",
		}, []string{"transport"}),
		liveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "live_sessions",
			Help:      "Currently open live delivery sessions.",
		}, []string{"transport"}),
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Direct chat calls to the automation engine by outcome.",
		}, []string{"result"}),
		chatLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of automation engine chat calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		normalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "payloads_total",
			Help:      "Normalized upstream payloads by resulting shape.",
		}, []string{"shape"}),
	}
}

func (m *Metrics) MessageAdded() {
	if m == nil {
		return
	}
	m.storeAdded.Inc()
}

func (m *Metrics) DuplicateRejected() {
	if m == nil {
		return
	}
	m.storeDuplicates.Inc()
}

func (m *Metrics) IngressEvent(result string) {
	if m == nil {
		return
	}
	m.ingressEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivered(transport string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.delivered.WithLabelValues(transport).Add(float64(n))
}

func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.liveSessions.WithLabelValues(transport).Inc()
}

func (m *Metrics) SessionClosed(transport string) {
	if m == nil {
		return
	}
	m.liveSessions.WithLabelValues(transport).Dec()
}

func (m *Metrics) ChatRequest(result string, seconds float64) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.chatLatency.Observe(seconds)
	}
}

func (m *Metrics) Normalized(shape string) {
	if m == nil {
		return
	}
	m.normalized.WithLabelValues(shape).Inc()
}
