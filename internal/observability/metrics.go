package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	TurnClassifications *prometheus.CounterVec
	AnswerSources       *prometheus.CounterVec
	AnswerFallbacks     *prometheus.CounterVec
	StateErrors         *prometheus.CounterVec
	AnswerLatency       prometheus.Histogram
}

// NewMetrics registers the instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnClassifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_classifications_total",
			Help:      "Learner messages by classification kind.",
		}, []string{"kind"}),
		AnswerSources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_sources_total",
			Help:      "Replies by the answerer that produced them.",
		}, []string{"source"}),
		AnswerFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_fallbacks_total",
			Help:      "Replies substituted by the local generator, by reason.",
		}, []string{"reason"}),
		StateErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_errors_total",
			Help:      "Conversation state store failures by operation.",
		}, []string{"op"}),
		AnswerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_latency_ms",
			Help:      "Latency of the answering call in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 3500, 5000},
		}),
	}
}

func (m *Metrics) ObserveAnswerLatency(d time.Duration) {
	m.AnswerLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
