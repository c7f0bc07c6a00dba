// Package metrics defines the Prometheus collectors of the progression engine
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "progression"

// Metrics groups the engine's collectors
type Metrics struct {
	SessionsTotal        *prometheus.CounterVec
	XPAwardedTotal       *prometheus.CounterVec
	LevelUpsTotal        prometheus.Counter
	AchievementsUnlocked prometheus.Counter
	RuleWarningsTotal    *prometheus.CounterVec
	TxRetriesTotal       prometheus.Counter
	EventPublishFailures prometheus.Counter
	PipelineDuration     prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle transitions by resulting status.",
		}, []string{"status"}),
		XPAwardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Sum of XP granted by transaction type.",
		}, []string{"type"}),
		LevelUpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Number of XP grants that raised a user's level.",
		}),
		AchievementsUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Number of achievement unlocks.",
		}),
		RuleWarningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_warnings_total",
			Help:      "Malformed or incomplete rules met during evaluation.",
		}, []string{"family"}),
		TxRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions re-run after a serialization failure or deadlock.",
		}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Progression events that could not be published.",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_pipeline_seconds",
			Help:      "Duration of the session completion pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsTotal,
			m.XPAwardedTotal,
			m.LevelUpsTotal,
			m.AchievementsUnlocked,
			m.RuleWarningsTotal,
			m.TxRetriesTotal,
			m.EventPublishFailures,
			m.PipelineDuration,
		)
	}
	return m
}

// ObservePipeline records the duration since start
func (m *Metrics) ObservePipeline(start time.Time) {
	m.PipelineDuration.Observe(time.Since(start).Seconds())
}

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler serves the registry in the Prometheus exposition format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
