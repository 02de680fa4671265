package slidingwindow

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

type identityKey struct{}

// WithIdentity attaches the authenticated caller's identity to ctx. The
// middleware prefers it over the client address.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity set by WithIdentity.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey{}).(string)
	return id, ok && id != ""
}

// Identity returns the rate-limit identity for r: the authenticated user
// when known, otherwise the client address.
func (l *Limiter) Identity(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return id
	}
	if l.config.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Rejection is the JSON body of a 429 response.
type Rejection struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware rate-limits next. Rejected requests get 429 with a
// Retry-After header and a Rejection body; admitted requests carry
// X-RateLimit-Limit and X-RateLimit-Remaining.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Allow(r.Context(), l.Identity(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))

		if !d.Allowed {
			secs := d.RetryAfterSeconds()
			h.Set("Retry-After", strconv.Itoa(secs))
			h.Set("X-RateLimit-Remaining", "0")
			h.Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(Rejection{
				Message:    fmt.Sprintf("Too many requests. Try again in %ds.", secs),
				RetryAfter: secs,
			})
			return
		}

		if !d.Degraded || l.config.Policy == FallbackLocal {
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}
