/*
Package ratelimit groups the rate limiters built on the shared store.

  - slidingwindow: per-identity sliding-window log kept in a store list

Sliding window vs fixed window:

A fixed window resets its counter on a boundary, so a client can send twice
the limit across the edge of two windows. The sliding window keeps one
timestamp per admitted request and only counts those younger than the
window, which bounds every window-length interval:

	limiter, _ := slidingwindow.New(client, flag, slidingwindow.Config{
		Window:      time.Minute,
		MaxRequests: 10,
	})
	if d := limiter.Allow(ctx, identity); !d.Allowed {
		// d.RetryAfter says when the oldest entry leaves the window
	}

Limiters are safe for concurrent use. Decisions never block on a missing
store: the configured failure policy answers instead.
*/
package ratelimit
