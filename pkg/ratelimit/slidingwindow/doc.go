// Package slidingwindow provides a per-identity sliding-window rate limiter
// backed by the shared key-value store.
//
// Each identity (an authenticated user ID, or the client address) owns a
// list "<prefix>:<identity>" of millisecond timestamps, one per admitted
// request. A request at time now is admitted when fewer than MaxRequests
// timestamps t satisfy now-t <= Window; the admitted timestamp is appended
// and the key's expiry refreshed to Window. Stale entries are dropped
// lazily whenever the list is read. Rejected requests are not recorded and
// carry a Retry-After of the whole seconds until the oldest entry ages out.
//
// # Failure policy
//
// The limiter reads the shared health flag before touching the store. When
// the store is unhealthy, or any store call fails, Config.Policy decides:
// FailOpen (default) admits, FailClosed rejects, and FallbackLocal enforces
// the same window in process memory until the store returns.
//
// # Atomicity
//
// By default the read, compaction and append are separate commands, so a
// burst of concurrent requests for one identity can briefly overshoot the
// limit. Config.Atomic runs the whole decision as one server-side script.
//
// # HTTP
//
// Middleware wraps an http.Handler, answering 429 with a Retry-After header
// and a JSON body when a request is rejected:
//
//	limiter, _ := slidingwindow.New(client, flag, slidingwindow.DefaultConfig())
//	mux.Handle("/api/", limiter.Middleware(api))
package slidingwindow
