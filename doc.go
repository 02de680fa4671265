/*
Package kvguard puts a cache-aside layer and a per-identity sliding-window
rate limiter in front of one shared Redis-compatible store. Both degrade
gracefully: while the store is unreachable, cache reads miss, cache writes
are dropped and the limiter applies its failure policy (admit by default).

Packages:
  - store: the single client session, connection lifecycle and monitor
  - health: the shared flag that reports whether the store is usable
  - cache: JSON cache-aside with read-through Fetch
  - ratelimit/slidingwindow: per-identity limiter and HTTP middleware
  - metrics: Prometheus collectors for all of the above

Example usage:

	import (
		"github.com/vnykmshr/kvguard/pkg/cache"
		"github.com/vnykmshr/kvguard/pkg/health"
		"github.com/vnykmshr/kvguard/pkg/ratelimit/slidingwindow"
		"github.com/vnykmshr/kvguard/pkg/store"
	)

	flag := health.NewFlag(false)
	client, _ := store.New(store.DefaultConfig(), store.WithHealth(flag))
	_ = client.Connect(ctx) // keeps retrying in the background on failure

	books, _ := cache.New(client, flag)
	limiter, _ := slidingwindow.New(client, flag, slidingwindow.DefaultConfig())

	if limiter.Allow(ctx, userID).Allowed {
		var list []Book
		_ = books.Fetch(ctx, cache.Key("books", userID), 0, &list, loadBooks)
	}
*/
package kvguard
