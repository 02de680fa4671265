package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/kvguard/internal/testutil"
	"github.com/vnykmshr/kvguard/pkg/cache"
	"github.com/vnykmshr/kvguard/pkg/health"
	"github.com/vnykmshr/kvguard/pkg/metrics"
	"github.com/vnykmshr/kvguard/pkg/store"
)

type summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestCacheOverStore(t *testing.T) {
	mr := testutil.StartRedis(t)
	host, port := testutil.RedisHostPort(t, mr)

	cfg := store.DefaultConfig()
	cfg.Host, cfg.Port, cfg.Username = host, port, ""
	cfg.ProbeInterval = time.Hour

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	flag := health.NewFlag(false)
	client, err := store.New(cfg, store.WithHealth(flag), store.WithMetrics(reg))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	svc, err := cache.New(client, flag, cache.WithName("books"), cache.WithMetrics(reg))
	require.NoError(t, err)

	key := cache.Key("books", "u1")
	want := []summary{{ID: "b1", Title: "Dune"}, {ID: "b2", Title: "Emma"}}

	svc.Set(ctx, key, want, 0)
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, ok := cache.Lookup[[]summary](ctx, svc, key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	svc.Invalidate(ctx, key)
	_, ok = cache.Lookup[[]summary](ctx, svc, key)
	assert.False(t, ok)

	// store goes away: reads miss, nothing is raised, flag drops
	svc.Set(ctx, key, want, 0)
	mr.Close()

	_, ok = cache.Lookup[[]summary](ctx, svc, key)
	assert.False(t, ok)
	assert.False(t, flag.Healthy())

	var loaded []summary
	err = svc.Fetch(context.Background(), key, 0, &loaded, func(context.Context) (interface{}, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, loaded)
}
