package slidingwindow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	kverrors "github.com/vnykmshr/kvguard/pkg/common/errors"
	"github.com/vnykmshr/kvguard/pkg/common/validation"
	"github.com/vnykmshr/kvguard/pkg/health"
)

const limiterType = "sliding_window"

// ErrRejected is returned by Decision.Err for a rejected request.
var ErrRejected = fmt.Errorf("request rejected: %w", kverrors.ErrRateLimited)

// Backend is the subset of store.Client the limiter needs.
type Backend interface {
	ReadListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ReplaceList(ctx context.Context, key string, values []string) error
	AppendToList(ctx context.Context, key string, values ...string) (int64, error)
	SetExpiry(ctx context.Context, key string, ttl time.Duration) (bool, error)
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Count is the number of requests in the window after this decision.
	Count int

	// Limit is the configured MaxRequests.
	Limit int

	// Remaining is how many more requests fit in the current window.
	Remaining int

	// RetryAfter is set on rejection: whole seconds until the oldest
	// request in the window ages out, never less than one second.
	RetryAfter time.Duration

	// ResetAt is when the oldest request in the window ages out.
	ResetAt time.Time

	// Degraded is true when the store was not consulted and the failure
	// policy decided instead.
	Degraded bool
}

// RetryAfterSeconds returns RetryAfter as whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

// Err returns ErrRejected for a rejected request, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRejected
}

// Limiter admits at most MaxRequests per identity within any trailing
// Window, counting requests in a per-identity list of millisecond
// timestamps kept in the shared store.
//
// The limiter only reads the health flag; it never writes it.
type Limiter struct {
	backend Backend
	health  health.Reader
	config  Config
	logger  *slog.Logger
	script  *redis.Script
	local   *localWindows
}

// New creates a limiter over backend, gated by flag.
func New(backend Backend, flag health.Reader, config Config) (*Limiter, error) {
	if err := validation.ValidateNotNil("slidingwindow", "backend", backend); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("slidingwindow", "health", flag); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	l := &Limiter{
		backend: backend,
		health:  flag,
		config:  config,
		logger:  config.Logger.With("component", "ratelimit", "limiter", config.Name),
	}
	if config.Atomic {
		l.script = redis.NewScript(luaSlidingWindowAllow)
	}
	if config.Policy == FallbackLocal {
		l.local = newLocalWindows(config.LocalCapacity, config.Window)
	}
	return l, nil
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Key returns the store key holding identity's window.
func (l *Limiter) Key(identity string) string {
	return l.config.Prefix + ":" + identity
}

// Allow decides whether identity may make a request now. Admitted requests
// are recorded; rejected ones are not, so hammering while limited does not
// extend the penalty.
func (l *Limiter) Allow(ctx context.Context, identity string) Decision {
	m := l.config.Metrics
	m.RateLimitRequests.WithLabelValues(limiterType, l.config.Name).Inc()

	d := l.decide(ctx, identity)

	if d.Allowed {
		m.RateLimitAllowed.WithLabelValues(limiterType, l.config.Name).Inc()
	} else {
		m.RateLimitDenied.WithLabelValues(limiterType, l.config.Name).Inc()
		m.RateLimitRetryAfter.WithLabelValues(limiterType, l.config.Name).Observe(d.RetryAfter.Seconds())
	}
	return d
}

func (l *Limiter) decide(ctx context.Context, identity string) Decision {
	now := l.config.Clock.Now()

	if !l.health.Healthy() {
		return l.degrade(identity, now, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.OpTimeout)
	defer cancel()

	var (
		w   window
		err error
	)
	if l.config.Atomic {
		w, err = l.allowAtomic(ctx, l.Key(identity), now)
	} else {
		w, err = l.allowSequential(ctx, l.Key(identity), now)
	}
	if err != nil {
		return l.degrade(identity, now, err)
	}

	l.config.Metrics.RateLimitWindowSize.WithLabelValues(limiterType, l.config.Name).Observe(float64(w.valid))
	return l.decision(w, now)
}

// window is the state of one identity's window after a decision.
type window struct {
	allowed bool
	valid   int   // entries inside the window before this request
	oldest  int64 // ms timestamp of the oldest valid entry; set whenever valid > 0 or allowed
}

// allowSequential is the check-then-append sequence: read the list, drop
// stale entries, then either reject or append now.
func (l *Limiter) allowSequential(ctx context.Context, key string, now time.Time) (window, error) {
	nowMs := now.UnixMilli()

	entries, err := l.backend.ReadListRange(ctx, key, 0, -1)
	if err != nil {
		return window{}, err
	}

	valid, oldest := partition(entries, nowMs, l.config.Window.Milliseconds())
	compacted := len(valid) != len(entries)
	if compacted {
		if err := l.backend.ReplaceList(ctx, key, valid); err != nil {
			return window{}, err
		}
	}

	w := window{valid: len(valid), oldest: oldest}
	if len(valid) >= l.config.MaxRequests {
		if compacted {
			// ReplaceList drops the key's expiry
			if _, err := l.backend.SetExpiry(ctx, key, l.config.Window); err != nil {
				return window{}, err
			}
		}
		return w, nil
	}

	if _, err := l.backend.AppendToList(ctx, key, strconv.FormatInt(nowMs, 10)); err != nil {
		return window{}, err
	}
	if _, err := l.backend.SetExpiry(ctx, key, l.config.Window); err != nil {
		return window{}, err
	}
	w.allowed = true
	if len(valid) == 0 {
		w.oldest = nowMs
	}
	return w, nil
}

// allowAtomic runs the same sequence as one script.
func (l *Limiter) allowAtomic(ctx context.Context, key string, now time.Time) (window, error) {
	res, err := l.backend.RunScript(ctx, l.script, []string{key},
		now.UnixMilli(),
		l.config.Window.Milliseconds(),
		l.config.MaxRequests,
		int64((l.config.Window+time.Second-1)/time.Second),
	)
	if err != nil {
		return window{}, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return window{}, fmt.Errorf("unexpected script result %v", res)
	}
	allowed, ok1 := vals[0].(int64)
	valid, ok2 := vals[1].(int64)
	oldest, ok3 := vals[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return window{}, fmt.Errorf("unexpected script result %v", res)
	}
	return window{allowed: allowed == 1, valid: int(valid), oldest: oldest}, nil
}

// decision turns window state into a Decision.
func (l *Limiter) decision(w window, now time.Time) Decision {
	limit := l.config.MaxRequests
	d := Decision{Allowed: w.allowed, Limit: limit, Count: w.valid}
	if w.allowed {
		d.Count++
	}
	d.Remaining = max(limit-d.Count, 0)

	if w.allowed || w.valid > 0 {
		// offset from now so ResetAt stays in the clock's location
		age := time.Duration(now.UnixMilli()-w.oldest) * time.Millisecond
		d.ResetAt = now.Add(l.config.Window - age)
	}
	if !w.allowed {
		d.RetryAfter = retryAfter(l.config.Window.Milliseconds(), now.UnixMilli()-w.oldest)
	}
	return d
}

// degrade applies the failure policy. err is nil when the store was skipped
// because the health flag was down.
func (l *Limiter) degrade(identity string, now time.Time, err error) Decision {
	policy := l.config.Policy
	l.config.Metrics.RateLimitDegraded.WithLabelValues(limiterType, l.config.Name, policy.String()).Inc()

	if err != nil {
		level := slog.LevelWarn
		if kverrors.IsTemporary(err) || errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		l.logger.Log(context.Background(), level, "rate limit store call failed",
			"identity", identity, "policy", policy.String(), "err", err)
	}

	limit := l.config.MaxRequests
	switch policy {
	case FailClosed:
		return Decision{
			Allowed:    false,
			Limit:      limit,
			RetryAfter: time.Second,
			Degraded:   true,
		}
	case FallbackLocal:
		w := l.local.allow(l.Key(identity), now, l.config.MaxRequests)
		d := l.decision(w, now)
		d.Degraded = true
		return d
	default:
		return Decision{Allowed: true, Limit: limit, Remaining: limit, Degraded: true}
	}
}

// partition keeps entries with now - t <= windowMs, in order, and reports
// the oldest kept timestamp, which is meaningless when valid is empty.
// Unparsable entries are treated as stale.
func partition(entries []string, nowMs, windowMs int64) (valid []string, oldest int64) {
	valid = make([]string, 0, len(entries))
	for _, e := range entries {
		t, err := strconv.ParseInt(e, 10, 64)
		if err != nil || nowMs-t > windowMs {
			continue
		}
		if len(valid) == 0 || t < oldest {
			oldest = t
		}
		valid = append(valid, e)
	}
	return valid, oldest
}

// retryAfter rounds the time left until the oldest entry leaves the window
// up to whole seconds, with a floor of one second.
func retryAfter(windowMs, ageMs int64) time.Duration {
	remaining := windowMs - ageMs
	secs := (remaining + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
