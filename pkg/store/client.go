package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	kverrors "github.com/vnykmshr/kvguard/pkg/common/errors"
	"github.com/vnykmshr/kvguard/pkg/health"
	"github.com/vnykmshr/kvguard/pkg/metrics"
)

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Client is the single process-wide session to the key-value store.
//
// It owns the connection lifecycle and is the only writer of the health
// flag's "connected" transitions. Operations fail fast with
// errors.ErrStoreUnavailable while the status is anything but Connected.
type Client struct {
	cfg     Config
	rdb     *redis.Client
	health  *health.Flag
	logger  *slog.Logger
	metrics *metrics.Registry
	clock   Clock

	status atomic.Int32

	mu          sync.Mutex // guards reconnect backoff state
	backoff     time.Duration
	nextAttempt time.Time

	monitor   *cron.Cron
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHealth shares flag with the client instead of allocating a private one.
func WithHealth(flag *health.Flag) Option {
	return func(c *Client) { c.health = flag }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records store metrics into r instead of metrics.DefaultRegistry.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) { c.metrics = r }
}

// WithClock overrides the clock used for reconnect backoff.
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates a client. It does not touch the network; call Connect.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)

	c := &Client{cfg: cfg, clock: SystemClock{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.health == nil {
		c.health = health.NewFlag(false)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "store", "addr", cfg.Addr())
	c.metrics = metrics.OrDefault(c.metrics)
	c.backoff = cfg.ReconnectBackoff
	c.status.Store(int32(StatusDisconnected))
	c.health.Set(false)

	c.rdb = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		// no inline retries: a failing command is reported once and the
		// caller degrades immediately
		MaxRetries: -1,
	})
	c.rdb.AddHook(lifecycleHook{c: c})

	c.health.OnChange(c.healthChanged)

	return c, nil
}

// healthChanged logs a flag transition. Listeners for racing transitions may
// finish in any order, so the gauge follows the flag's current value rather
// than the argument.
func (c *Client) healthChanged(healthy bool) {
	if healthy {
		c.logger.Info("store healthy")
	} else {
		c.logger.Warn("store unhealthy")
	}
	if c.health.Healthy() {
		c.metrics.StoreHealthy.Set(1)
	} else {
		c.metrics.StoreHealthy.Set(0)
	}
}

// Connect makes the first connection attempt and starts the background
// monitor. A failed first attempt is logged and returned, but the monitor
// keeps retrying, so callers may treat the error as informational.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return kverrors.ErrClosed
	}

	c.setStatus(StatusConnecting)
	err := c.Ping(ctx)
	if err != nil {
		c.connectionFailed("connect", err)
		c.scheduleRetry()
	} else {
		c.setStatus(StatusConnected)
		c.resetBackoff()
	}

	c.startMonitor()
	return err
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// Health returns the flag this client writes.
func (c *Client) Health() *health.Flag {
	return c.health
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Close stops the monitor, clears the health flag and closes the pool.
// It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setStatus(StatusClosed)

		c.mu.Lock()
		monitor := c.monitor
		c.mu.Unlock()
		if monitor != nil {
			// wait outside the lock: a running probe may need it
			<-monitor.Stop().Done()
		}
		err = c.rdb.Close()
	})
	return err
}

// setStatus records a lifecycle transition and derives the health flag
// from it. Once closed, the status never changes again.
func (c *Client) setStatus(s ConnectionStatus) {
	var old ConnectionStatus
	for {
		old = c.Status()
		if old == StatusClosed {
			return
		}
		if c.status.CompareAndSwap(int32(old), int32(s)) {
			break
		}
	}

	// a concurrent transition may land between the swap and the flag write;
	// settle on whatever status is stored once both agree
	for {
		cur := c.Status()
		c.health.Set(cur == StatusConnected)
		if c.Status() == cur {
			break
		}
	}

	if old != s {
		c.metrics.StoreTransitions.WithLabelValues(s.String()).Inc()
		c.logger.Debug("store status changed", "from", old.String(), "to", s.String())
	}
}

// connectionFailed moves the client to the error state after a
// connectivity failure observed anywhere (dial, command, probe).
func (c *Client) connectionFailed(op string, err error) {
	if c.Status() == StatusClosed {
		return
	}
	if c.Status() != StatusError {
		c.logger.Warn("store connection failed", "op", op, "err", err)
	}
	c.setStatus(StatusError)
}

// isConnectivityError reports whether err means the connection itself is
// unusable, as opposed to a missing key or a command-level error reply.
func isConnectivityError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return isAuthOrLoadingReply(reply.Error())
	}
	return true
}

func isAuthOrLoadingReply(msg string) bool {
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "LOADING", "NOPERM"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
