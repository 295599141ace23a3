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
	ChatTurns       *prometheus.CounterVec
	ProviderCalls   *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	Fallbacks       *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	stages *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Completed chat turns by transport.",
		}, []string{"transport"}),
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "LLM provider calls by provider, purpose and outcome.",
		}, []string{"provider", "purpose", "outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_ms",
			Help:      "LLM provider call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"purpose"}),
		Fallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Static fallback values substituted for provider output.",
		}, []string{"kind"}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Conversation store errors by operation.",
		}, []string{"op"}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		stages: newLatencyWindow(256),
	}
}

// ObserveProviderCall records one provider round trip.
func (m *Metrics) ObserveProviderCall(provider, purpose, errCode string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errCode != "" {
		outcome = "error"
		m.ProviderErrors.WithLabelValues(provider, errCode).Inc()
	}
	m.ProviderCalls.WithLabelValues(provider, purpose, outcome).Inc()
	m.ProviderLatency.WithLabelValues(purpose).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFallback(kind string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(kind).Inc()
	m.stages.mark("fallback_" + kind)
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
	m.stages.mark("store_error_" + op)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.record(stage, d)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
