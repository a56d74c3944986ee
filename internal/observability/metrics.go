package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage names used as stage_latency_ms labels and window keys.
const (
	StageHistory    = "history"
	StageCompletion = "completion"
	StagePersist    = "persist"
	StageAskTotal   = "ask_total"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	AskRequests    *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	ExternalErrors *prometheus.CounterVec
	HistoryEntries prometheus.Histogram
	PersistedTurns *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec

	asks *askWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		AskRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_requests_total",
			Help:      "Ask pipeline runs by outcome.",
		}, []string{"outcome"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Ask pipeline stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage", "strategy"}),
		ExternalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_errors_total",
			Help:      "Failed calls to external collaborators by service and operation.",
		}, []string{"service", "op"}),
		HistoryEntries: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Number of history entries injected into each generation request.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		PersistedTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_turns_total",
			Help:      "Persist decisions by policy and action.",
		}, []string{"policy", "action"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		asks: newAskWindow(256),
	}
}

// ObserveAsk records the stage latencies of one ask and keeps the trace in
// the window served by /v1/perf/latency.
func (m *Metrics) ObserveAsk(t AskTrace) {
	if m == nil {
		return
	}
	for stage, d := range map[string]time.Duration{
		StageHistory:    t.History,
		StageCompletion: t.Completion,
		StagePersist:    t.Persist,
		StageAskTotal:   t.Total,
	} {
		if d > 0 {
			m.StageLatency.WithLabelValues(stage, t.Strategy).Observe(millis(d))
		}
	}
	m.HistoryEntries.Observe(float64(t.HistoryEntries))
	m.asks.Add(t)
}

func (m *Metrics) SnapshotAsks() AskSnapshot {
	if m == nil {
		return (&askWindow{}).Snapshot()
	}
	return m.asks.Snapshot()
}

func (m *Metrics) RecordAsk(outcome string) {
	if m == nil {
		return
	}
	m.AskRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordExternalError(service, op string) {
	if m == nil {
		return
	}
	m.ExternalErrors.WithLabelValues(service, op).Inc()
}

func (m *Metrics) RecordPersist(policy, action string) {
	if m == nil {
		return
	}
	m.PersistedTurns.WithLabelValues(policy, action).Inc()
}

func (m *Metrics) RecordWS(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
