// Package metrics provides Prometheus instrumentation for kvguard components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for kvguard components.
type Registry struct {
	// Store Metrics
	StoreHealthy         prometheus.Gauge
	StoreTransitions     *prometheus.CounterVec
	StoreCommands        *prometheus.CounterVec
	StoreCommandDuration *prometheus.HistogramVec
	StoreReconnects      *prometheus.CounterVec

	// Cache Metrics
	CacheLookups *prometheus.CounterVec
	CacheWrites  *prometheus.CounterVec
	CacheLoads   *prometheus.CounterVec

	// Rate Limiting Metrics
	RateLimitRequests   *prometheus.CounterVec
	RateLimitAllowed    *prometheus.CounterVec
	RateLimitDenied     *prometheus.CounterVec
	RateLimitDegraded   *prometheus.CounterVec
	RateLimitRetryAfter *prometheus.HistogramVec
	RateLimitWindowSize *prometheus.HistogramVec
}

// DefaultRegistry is the default metrics registry used by kvguard components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring cfg. A disabled config
// still returns a usable Registry, registered on a private Prometheus
// registry so nothing is exported.
func NewRegistryWithConfig(cfg Config) *Registry {
	reg := cfg.Registry
	if !cfg.Enabled || reg == nil {
		if cfg.Enabled {
			reg = prometheus.DefaultRegisterer
		} else {
			reg = prometheus.NewRegistry()
		}
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if len(cfg.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(cfg.Labels, reg)
	}
	factory := promauto.With(reg)

	return &Registry{
		StoreHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "store",
				Name:      "healthy",
				Help:      "1 while the key-value store is considered healthy, 0 otherwise",
			},
		),

		StoreTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "store",
				Name:      "status_transitions_total",
				Help:      "Connection status transitions, by destination status",
			},
			[]string{"status"},
		),

		StoreCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "store",
				Name:      "commands_total",
				Help:      "Store commands issued, by command and result",
			},
			[]string{"command", "result"},
		),

		StoreCommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "store",
				Name:      "command_duration_seconds",
				Help:      "Store command round-trip latency",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),

		StoreReconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "store",
				Name:      "reconnect_attempts_total",
				Help:      "Reconnection attempts made by the store monitor, by result",
			},
			[]string{"result"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups, by result (hit, miss, skipped, error, decode_error)",
			},
			[]string{"cache_name", "result"},
		),

		CacheWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "writes_total",
				Help:      "Cache writes and invalidations, by operation and result",
			},
			[]string{"cache_name", "operation", "result"},
		),

		CacheLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "loads_total",
				Help:      "System-of-record loads performed on cache miss, by result",
			},
			[]string{"cache_name", "result"},
		),

		RateLimitRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "ratelimit",
				Name:      "requests_total",
				Help:      "Total number of rate limit requests",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "ratelimit",
				Name:      "allowed_total",
				Help:      "Total number of allowed requests",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "ratelimit",
				Name:      "denied_total",
				Help:      "Total number of denied requests",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "ratelimit",
				Name:      "degraded_total",
				Help:      "Decisions made without the store, by failure policy",
			},
			[]string{"limiter_type", "limiter_name", "policy"},
		),

		RateLimitRetryAfter: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "ratelimit",
				Name:      "retry_after_seconds",
				Help:      "Retry-After hint returned on rejection",
				Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600},
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitWindowSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "ratelimit",
				Name:      "window_entries",
				Help:      "Valid entries found in an identity's window at decision time",
				Buckets:   prometheus.LinearBuckets(0, 5, 12),
			},
			[]string{"limiter_type", "limiter_name"},
		),
	}
}
