// Package metrics provides Prometheus instrumentation for kvguard components.
//
// # Overview
//
// One Registry carries every metric family the subsystem exports:
//   - Store: health gauge, status transitions, command counts and latency,
//     reconnect attempts
//   - Cache: lookups by result (hit, miss, skipped, error, decode_error),
//     writes and invalidations, read-through loads
//   - Rate limiting: requests, allowed, denied, degraded decisions by
//     failure policy, Retry-After and window occupancy histograms
//
// # Quick Start
//
// Components fall back to DefaultRegistry, which is registered on
// prometheus.DefaultRegisterer:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Custom Registry
//
// Use a custom Prometheus registry for isolation, typically in tests:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//	svc := cache.New(client, flag, cache.WithMetrics(m))
//
// A Config with Enabled set to false still yields a working Registry; it is
// registered on a private Prometheus registry so nothing is exported.
package metrics
