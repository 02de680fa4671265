// Package store is the single shared session to a Redis-compatible
// key-value store.
//
// A Client exposes the handful of primitives the cache and the rate limiter
// need (string get/set with expiry, delete, list append/range/replace,
// expiry, scripts) and owns the connection lifecycle:
//
//	disconnected -> connecting -> connected <-> error -> reconnecting -> connected
//	any -> closed
//
// Each lifecycle transition writes the shared health.Flag: true exactly when
// the status becomes connected. A background monitor, scheduled with
// robfig/cron, pings the store while it is healthy and reconnects with
// exponential backoff while it is not. Commands issued while the status is
// anything but connected fail immediately with errors.ErrStoreUnavailable,
// so an outage never costs callers a network round-trip.
//
// Basic usage:
//
//	flag := health.NewFlag(false)
//	client, err := store.New(store.DefaultConfig(), store.WithHealth(flag))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	// a failed first attempt is not fatal: the monitor keeps retrying
//	if err := client.Connect(ctx); err != nil {
//		logger.Warn("store not reachable yet", "err", err)
//	}
package store
