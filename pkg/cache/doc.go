// Package cache implements a cache-aside layer over the shared key-value
// store.
//
// Values are stored as JSON with a TTL (one hour unless told otherwise).
// The cache consults the shared health flag before every call: while the
// store is unhealthy it performs no I/O at all, reads miss and writes are
// dropped. A failed call clears the flag so concurrent callers stop trying
// until the store client reconnects. Nothing in this package ever returns a
// store error, so callers can always fall back to the system of record:
//
//	var books []Book
//	if !c.Get(ctx, cache.Key("books", userID), &books) {
//		books, err = db.ListBooks(ctx, userID)
//		if err != nil {
//			return err
//		}
//		c.Set(ctx, cache.Key("books", userID), books, 0)
//	}
//
// Fetch packages the same pattern and collapses concurrent misses on one key
// into a single load.
package cache
