package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every kvguard metric name.
const DefaultNamespace = "kvguard"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics are exported.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "kvguard" namespace for metrics.
	Namespace string

	// Labels are additional constant labels added to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

// OrDefault returns r, or DefaultRegistry when r is nil.
func OrDefault(r *Registry) *Registry {
	if r == nil {
		return DefaultRegistry
	}
	return r
}
