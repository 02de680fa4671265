// Package books is a small book catalog used to exercise the cache and the
// rate limiter end to end: an in-memory system of record, and echo handlers
// that serve per-owner and public listings cache-aside and invalidate them
// on every mutation.
package books
