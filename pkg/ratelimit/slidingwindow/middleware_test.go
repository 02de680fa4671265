package slidingwindow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t)
	l := f.limiter(t, 10*time.Second, 2)
	h := l.Middleware(okHandler())

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
		req.RemoteAddr = "192.0.2.1:52100"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	f.at(3 * time.Second)
	rec = serve()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body Rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests. Try again in 7s.", body.Message)
	assert.Equal(t, 7, body.RetryAfter)

	assert.Len(t, f.list(t, "rate:192.0.2.1"), 2)
}

func TestMiddlewareDegradedOmitsRemaining(t *testing.T) {
	f := newFixture(t)
	l := f.limiter(t, 10*time.Second, 2)
	f.flag.MarkUnhealthy()

	rec := httptest.NewRecorder()
	l.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestIdentity(t *testing.T) {
	f := newFixture(t)
	trusting := f.limiter(t, 10*time.Second, 1, func(c *Config) { c.TrustForwardedFor = true })
	plain := f.limiter(t, 10*time.Second, 1)

	tests := []struct {
		name    string
		limiter *Limiter
		remote  string
		xff     string
		user    string
		want    string
	}{
		{"remote addr host", plain, "198.51.100.4:4000", "", "", "198.51.100.4"},
		{"remote addr without port", plain, "198.51.100.4", "", "", "198.51.100.4"},
		{"forwarded header ignored when untrusted", plain, "10.0.0.1:1", "203.0.113.9", "", "10.0.0.1"},
		{"first forwarded hop when trusted", trusting, "10.0.0.1:1", "203.0.113.9, 10.0.0.1", "", "203.0.113.9"},
		{"authenticated user wins", trusting, "10.0.0.1:1", "203.0.113.9", "u1", "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.user != "" {
				req = req.WithContext(WithIdentity(req.Context(), tt.user))
			}
			assert.Equal(t, tt.want, tt.limiter.Identity(req))
		})
	}
}

func TestIdentityFromContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), ""))
	assert.False(t, ok)

	id, ok := IdentityFromContext(WithIdentity(context.Background(), "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}
