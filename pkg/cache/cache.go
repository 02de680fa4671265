package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vnykmshr/kvguard/pkg/common/validation"
	"github.com/vnykmshr/kvguard/pkg/health"
	"github.com/vnykmshr/kvguard/pkg/metrics"
)

const (
	// DefaultTTL is applied when Set or Fetch is given a zero TTL.
	DefaultTTL = time.Hour

	// DefaultOpTimeout bounds each store round trip.
	DefaultOpTimeout = 500 * time.Millisecond
)

// Backend is the subset of store.Client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Health is the liveness flag the cache consults before every call and
// clears when a call fails.
type Health interface {
	health.Reader
	MarkUnhealthy() bool
}

// Service is a cache-aside layer over a shared store. It never returns a
// store error: an unhealthy or failing store reads as a miss and writes
// become no-ops, so callers always fall back to the system of record.
type Service struct {
	backend Backend
	health  Health

	name       string
	defaultTTL time.Duration
	opTimeout  time.Duration
	skipEmpty  bool

	logger  *slog.Logger
	metrics *metrics.Registry

	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithName labels log lines and metrics. Defaults to "default".
func WithName(name string) Option {
	return func(s *Service) { s.name = name }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

// WithOpTimeout overrides DefaultOpTimeout.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) { s.opTimeout = d }
}

// WithSkipEmpty stops Fetch from caching empty slices, maps and nil values.
func WithSkipEmpty() Option {
	return func(s *Service) { s.skipEmpty = true }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records cache metrics into r instead of metrics.DefaultRegistry.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Service) { s.metrics = r }
}

// New creates a cache over backend, gated by flag.
func New(backend Backend, flag Health, opts ...Option) (*Service, error) {
	if err := validation.ValidateNotNil("cache", "backend", backend); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("cache", "health", flag); err != nil {
		return nil, err
	}

	s := &Service{
		backend:    backend,
		health:     flag,
		name:       "default",
		defaultTTL: DefaultTTL,
		opTimeout:  DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := validation.ValidatePositiveDuration("cache", "default_ttl", s.defaultTTL); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration("cache", "op_timeout", s.opTimeout); err != nil {
		return nil, err
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "cache", "cache", s.name)
	s.metrics = metrics.OrDefault(s.metrics)
	return s, nil
}

// Key builds a cache key from a namespace and an identity, e.g. "books:u1".
func Key(namespace, identity string) string {
	return namespace + ":" + identity
}

// Get decodes the value at key into dst and reports whether it did. Any
// failure, including an unhealthy store, reads as a miss.
func (s *Service) Get(ctx context.Context, key string, dst interface{}) bool {
	raw, ok := s.getRaw(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.lookup("decode_error")
		s.logger.Warn("cache entry undecodable", "key", key, "err", err)
		return false
	}
	s.lookup("hit")
	return true
}

func (s *Service) getRaw(ctx context.Context, key string) ([]byte, bool) {
	if !s.health.Healthy() {
		s.lookup("skipped")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.lookup("error")
		s.storeFailed("get", key, err)
		return nil, false
	}
	if !found {
		s.lookup("miss")
		return nil, false
	}
	return raw, true
}

// Set stores value as JSON under key. A zero ttl means the default TTL.
// Failures are logged and swallowed.
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.health.Healthy() {
		s.write("set", "skipped")
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.write("set", "encode_error")
		s.logger.Error("cache value unencodable", "key", key, "err", err)
		return
	}
	s.setRaw(ctx, key, raw, ttl)
}

func (s *Service) setRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	if !s.health.Healthy() {
		s.write("set", "skipped")
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.backend.SetWithExpiry(ctx, key, raw, ttl); err != nil {
		s.write("set", "error")
		s.storeFailed("set", key, err)
		return
	}
	s.write("set", "ok")
}

// Invalidate deletes keys. Failures are logged and swallowed; a stale entry
// then lives until its TTL.
func (s *Service) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if !s.health.Healthy() {
		s.write("invalidate", "skipped")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.backend.Delete(ctx, keys...); err != nil {
		s.write("invalidate", "error")
		s.storeFailed("invalidate", keys[0], err)
		return
	}
	s.write("invalidate", "ok")
}

// Fetch is a read-through Get: on a miss it runs load, caches the result and
// decodes it into dst. Concurrent misses on one key share a single load,
// which runs with the context of the caller that started it.
//
// Only load's error (or an encode/decode error for an unserializable value)
// is returned; cache failures never are.
func (s *Service) Fetch(ctx context.Context, key string, ttl time.Duration, dst interface{}, load func(context.Context) (interface{}, error)) error {
	if s.Get(ctx, key, dst) {
		return nil
	}

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			s.metrics.CacheLoads.WithLabelValues(s.name, "error").Inc()
			return nil, err
		}
		s.metrics.CacheLoads.WithLabelValues(s.name, "ok").Inc()

		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if s.skipEmpty && isEmpty(value) {
			s.write("set", "skipped_empty")
		} else {
			s.setRaw(ctx, key, raw, ttl)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	if shared {
		s.logger.Debug("cache load shared", "key", key)
	}
	return json.Unmarshal(v.([]byte), dst)
}

// Lookup is a typed Get.
func Lookup[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var v T
	if !s.Get(ctx, key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// storeFailed flips the shared flag so every other caller stops trying
// until the store client's monitor confirms the connection again.
func (s *Service) storeFailed(op, key string, err error) {
	if s.health.MarkUnhealthy() {
		s.logger.Warn("cache store call failed, marking store unhealthy", "op", op, "key", key, "err", err)
		return
	}
	s.logger.Debug("cache store call failed", "op", op, "key", key, "err", err)
}

func (s *Service) lookup(result string) {
	s.metrics.CacheLookups.WithLabelValues(s.name, result).Inc()
}

func (s *Service) write(op, result string) {
	s.metrics.CacheWrites.WithLabelValues(s.name, op, result).Inc()
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
