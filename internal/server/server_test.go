package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/kvguard/internal/books"
	"github.com/vnykmshr/kvguard/internal/testutil"
	"github.com/vnykmshr/kvguard/pkg/cache"
	kverrors "github.com/vnykmshr/kvguard/pkg/common/errors"
	"github.com/vnykmshr/kvguard/pkg/health"
	"github.com/vnykmshr/kvguard/pkg/metrics"
	"github.com/vnykmshr/kvguard/pkg/ratelimit/slidingwindow"
	"github.com/vnykmshr/kvguard/pkg/store"
)

type fixture struct {
	mr   *miniredis.Miniredis
	srv  *Server
	flag *health.Flag
}

func newFixture(t *testing.T, readMax, writeMax int) *fixture {
	t.Helper()
	mr := testutil.StartRedis(t)
	host, port := testutil.RedisHostPort(t, mr)

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)
	logger, _ := testutil.NewLogger()

	cfg := store.DefaultConfig()
	cfg.Host, cfg.Port, cfg.Username = host, port, ""
	cfg.ProbeInterval = time.Hour

	flag := health.NewFlag(false)
	client, err := store.New(cfg, store.WithHealth(flag), store.WithMetrics(reg), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	svc, err := cache.New(client, flag, cache.WithName("books"), cache.WithSkipEmpty(),
		cache.WithMetrics(reg), cache.WithLogger(logger))
	require.NoError(t, err)

	limiter := func(name, prefix string, maxRequests int) *slidingwindow.Limiter {
		lc := slidingwindow.DefaultConfig()
		lc.Window = 10 * time.Second
		lc.MaxRequests = maxRequests
		lc.Prefix = prefix
		lc.Name = name
		lc.Metrics = reg
		lc.Logger = logger
		l, err := slidingwindow.New(client, flag, lc)
		require.NoError(t, err)
		return l
	}

	srv, err := New(Config{
		Logger:       logger,
		Store:        client,
		Books:        books.NewHandler(books.NewMemoryRepository(), svc, logger, 0),
		ReadLimiter:  limiter("read", "rate", readMax),
		WriteLimiter: limiter("write", "rate:write", writeMax),
		Registerer:   promReg,
	})
	require.NoError(t, err)

	return &fixture{mr: mr, srv: srv, flag: flag}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresDependencies(t *testing.T) {
	srv, err := New(Config{})
	assert.True(t, kverrors.IsValidationError(err), "got %v", err)
	assert.Nil(t, srv)

	client, err := store.New(store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// every dependency but the limiters: still rejected, and nothing is
	// registered against the default registerer along the way
	for i := 0; i < 2; i++ {
		_, err = New(Config{Store: client, Books: &books.Handler{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read_limiter")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, 100, 100)

	rec := f.do(t, http.MethodGet, "/_health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[GenericStatus](t, rec)
	assert.Equal(t, "ok", st.Status)
	assert.True(t, st.Store.Healthy)
	assert.Equal(t, "connected", st.Store.Message)

	f.flag.MarkUnhealthy()
	st = decode[GenericStatus](t, f.do(t, http.MethodGet, "/_health", "", ""))
	assert.Equal(t, health.StatusDegraded, st.Status)
	assert.False(t, st.Store.Healthy)
}

func TestBooksCacheAside(t *testing.T) {
	f := newFixture(t, 100, 100)

	rec := f.do(t, http.MethodPost, "/api/books", "", `{"title":"Dune","author":"Herbert"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"Dune"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Title and Author are required", decode[books.Message](t, rec).Message)

	// empty listings are not cached
	rec = f.do(t, http.MethodGet, "/api/books", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]books.Summary](t, rec))
	assert.False(t, f.mr.Exists("books:u1"))

	rec = f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"Dune","author":"Herbert","chapters":[{"title":"One"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[books.Book](t, rec)
	assert.Equal(t, books.StatusDraft, created.Status)

	rec = f.do(t, http.MethodGet, "/api/books", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]books.Summary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].ChapterCount)
	assert.True(t, f.mr.Exists("books:u1"))
	assert.Equal(t, time.Hour, f.mr.TTL("books:u1"))

	// second read is served from the cache
	rec = f.do(t, http.MethodGet, "/api/books", "u1", "")
	assert.Len(t, decode[[]books.Summary](t, rec), 1)

	// mutations invalidate the owner listing
	rec = f.do(t, http.MethodPut, "/api/books/"+created.ID, "u1", `{"subtitle":"Book One"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Book One", decode[books.Book](t, rec).Subtitle)
	assert.False(t, f.mr.Exists("books:u1"))

	f.do(t, http.MethodGet, "/api/books", "u1", "")
	require.True(t, f.mr.Exists("books:u1"))

	rec = f.do(t, http.MethodPut, "/api/books/cover/"+created.ID, "u1", `{"url":"https://cdn.example/dune.png","publicId":"dune"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dune", decode[books.Cover](t, rec).PublicID)
	assert.False(t, f.mr.Exists("books:u1"))

	f.do(t, http.MethodGet, "/api/books", "u1", "")
	rec = f.do(t, http.MethodDelete, "/api/books/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.mr.Exists("books:u1"))

	rec = f.do(t, http.MethodGet, "/api/books/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookOwnership(t *testing.T) {
	f := newFixture(t, 100, 100)

	rec := f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"Emma","author":"Austen"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[books.Book](t, rec).ID

	rec = f.do(t, http.MethodGet, "/api/books/"+id, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not authorized to access this book", decode[books.Message](t, rec).Message)

	rec = f.do(t, http.MethodDelete, "/api/books/"+id, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/books/"+id, "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/books/"+id, "bad:id", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishedListing(t *testing.T) {
	f := newFixture(t, 100, 100)

	rec := f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"Emma","author":"Austen","status":"published"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[books.Book](t, rec).ID
	f.do(t, http.MethodPost, "/api/books", "u2", `{"title":"Draft","author":"Someone"}`)

	rec = f.do(t, http.MethodGet, "/api/books/published", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]books.Summary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Emma", list[0].Title)
	assert.True(t, f.mr.Exists(books.PublishedKey))

	rec = f.do(t, http.MethodPut, "/api/books/"+id, "u1", `{"status":"draft"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.mr.Exists(books.PublishedKey))

	rec = f.do(t, http.MethodGet, "/api/books/published", "", "")
	assert.Empty(t, decode[[]books.Summary](t, rec))
}

func TestWriteRateLimit(t *testing.T) {
	f := newFixture(t, 100, 2)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"T","author":"A"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"T","author":"A"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decode[slidingwindow.Rejection](t, rec)
	assert.Contains(t, body.Message, "Too many requests. Try again in ")
	assert.GreaterOrEqual(t, body.RetryAfter, 1)

	// other identities and the read mount are unaffected
	rec = f.do(t, http.MethodPost, "/api/books", "u2", `{"title":"T","author":"A"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/books", "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, f.mr.Exists("rate:write:u1"))
	assert.True(t, f.mr.Exists("rate:u1"))
}

func TestStoreOutageDegradesGracefully(t *testing.T) {
	f := newFixture(t, 1, 100)

	rec := f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"Dune","author":"Herbert"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	f.mr.Close()

	// the limiter fails open and the listing falls back to the repository
	for i := 0; i < 3; i++ {
		rec = f.do(t, http.MethodGet, "/api/books", "u1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]books.Summary](t, rec), 1)
	}
	assert.False(t, f.flag.Healthy())

	rec = f.do(t, http.MethodPost, "/api/books", "u1", `{"title":"Emma","author":"Austen"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
