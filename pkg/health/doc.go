// Package health provides the shared liveness signal consulted before any
// call to the key-value store.
//
// A Flag is written by the store connection lifecycle (connected, error,
// disconnected) and read by every higher-level component. The flag is a
// hint, not a guarantee: readers may observe a value that is one event
// stale, which is acceptable because a doomed store call only costs one
// round trip and is handled as a miss or a fail-open admission anyway.
//
// The flag is injected explicitly:
//
//	flag := health.NewFlag(false)
//	client, _ := store.New(cfg, store.WithHealth(flag))
//	svc, _ := cache.New(client, flag)
//	lim, _ := slidingwindow.New(client, flag, slidingwindow.DefaultConfig())
//
// Tests can hand an unhealthy flag to a component to exercise its degraded
// path without a real store.
package health
