// Package observe exports engine activity to Prometheus. It plugs into
// a sync client through the hook surface, so the engine itself stays
// free of metrics plumbing.
package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/authsync-dev/authsync/pkg/authsync"
)

// MetricsConfig configures the Prometheus hooks.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "authsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics. Useful to
	// tell contexts apart when one process runs several clients.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for fetch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus hooks.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "authsync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus instruments for one client.
type metrics struct {
	syncsTotal      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	authenticated   prometheus.Gauge
	noticesSent     *prometheus.CounterVec
	noticesReceived *prometheus.CounterVec
}

// initMetrics registers the instruments with the configured registry.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		syncsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "syncs_total",
			Help:        "Total number of sync evaluations by trigger and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"trigger", "outcome"}),

		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "fetch_duration_seconds",
			Help:        "Session fetch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"trigger"}),

		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_authenticated",
			Help:        "Whether the cached session is authenticated (1) or anonymous (0)",
			ConstLabels: config.ConstLabels,
		}),

		noticesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notices_sent_total",
			Help:        "Total broadcast notices posted to sibling contexts",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		noticesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notices_received_total",
			Help:        "Total broadcast notices received from sibling contexts",
			ConstLabels: config.ConstLabels,
		}, []string{"reason", "status"}),
	}
}

// Prometheus returns hooks that record engine activity.
//
// Metrics collected:
//   - authsync_syncs_total: Counter of sync evaluations by trigger and outcome
//   - authsync_fetch_duration_seconds: Histogram of session fetch duration
//   - authsync_session_authenticated: Gauge of the cached session state
//   - authsync_notices_sent_total: Counter of posted broadcast notices
//   - authsync_notices_received_total: Counter of received broadcast notices
//
// Example:
//
//	client := authsync.New(oc, ch, config, logger,
//	    authsync.WithHooks(observe.Prometheus(
//	        observe.WithConstLabels(prometheus.Labels{"context": "main"}),
//	    )),
//	)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) authsync.Hooks {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	m := initMetrics(config)

	return authsync.Hooks{
		RefreshDone: func(trigger authsync.Trigger, outcome authsync.Outcome, elapsed time.Duration) {
			m.syncsTotal.WithLabelValues(trigger.String(), outcome.String()).Inc()
			if outcome == authsync.OutcomeFetched || outcome == authsync.OutcomeError {
				m.fetchDuration.WithLabelValues(trigger.String()).Observe(elapsed.Seconds())
			}
		},
		SessionChange: func(snap authsync.Snapshot) {
			if snap.Authenticated {
				m.authenticated.Set(1)
			} else {
				m.authenticated.Set(0)
			}
		},
		BroadcastSent: func(reason string) {
			m.noticesSent.WithLabelValues(reason).Inc()
		},
		BroadcastReceived: func(reason string, applied bool) {
			status := "applied"
			if !applied {
				status = "ignored"
			}
			m.noticesReceived.WithLabelValues(reason, status).Inc()
		},
	}
}
