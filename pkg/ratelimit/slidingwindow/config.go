package slidingwindow

import (
	"log/slog"
	"strings"
	"time"

	kverrors "github.com/vnykmshr/kvguard/pkg/common/errors"
	"github.com/vnykmshr/kvguard/pkg/common/validation"
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

// FailurePolicy decides what Allow returns when the store cannot be used.
type FailurePolicy int

const (
	// FailOpen admits every request while the store is unavailable.
	FailOpen FailurePolicy = iota

	// FailClosed rejects every request while the store is unavailable.
	FailClosed

	// FallbackLocal enforces the same window per process, in memory.
	FallbackLocal
)

// String returns the policy name used in flags and metric labels.
func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "open"
	case FailClosed:
		return "closed"
	case FallbackLocal:
		return "local"
	default:
		return "unknown"
	}
}

// ParsePolicy parses "open", "closed" or "local".
func ParsePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	case "local":
		return FallbackLocal, nil
	}
	return FailOpen, kverrors.NewValidationError("slidingwindow", "policy", s, "unknown failure policy").
		WithHint("use open, closed or local")
}

// Config holds configuration for a sliding-window limiter.
type Config struct {
	// Window is the length of the sliding window.
	Window time.Duration

	// MaxRequests is the number of requests admitted per identity within
	// any Window.
	MaxRequests int

	// Prefix namespaces window keys: "<Prefix>:<identity>".
	Prefix string

	// Policy applies when the store is unhealthy or a store call fails.
	Policy FailurePolicy

	// Atomic runs the check-and-append as one server-side script, closing
	// the race between concurrent requests for the same identity. When
	// false, the read, compaction and append are separate commands and a
	// burst of concurrent requests can briefly exceed MaxRequests.
	Atomic bool

	// TrustForwardedFor lets Middleware take the client address from the
	// first X-Forwarded-For hop. Enable only behind a trusted proxy.
	TrustForwardedFor bool

	// OpTimeout bounds the store round trips of one decision.
	OpTimeout time.Duration

	// LocalCapacity bounds the identities tracked by FallbackLocal.
	LocalCapacity int

	// Name labels metrics and log lines.
	Name string

	// Clock is used for testing. If nil, uses SystemClock.
	Clock Clock

	// Logger receives degradation warnings. If nil, uses slog.Default().
	Logger *slog.Logger

	// Metrics records decisions. If nil, uses metrics.DefaultRegistry.
	Metrics *metrics.Registry
}

// DefaultConfig returns 10 requests per 60 seconds, failing open.
func DefaultConfig() Config {
	return Config{
		Window:        60 * time.Second,
		MaxRequests:   10,
		Prefix:        "rate",
		Policy:        FailOpen,
		OpTimeout:     500 * time.Millisecond,
		LocalCapacity: 10000,
		Name:          "default",
	}
}

// validateConfig validates the limiter configuration.
func validateConfig(config Config) error {
	if err := validation.ValidatePositiveDuration("slidingwindow", "window", config.Window); err != nil {
		return err
	}
	if config.Window < time.Second {
		return kverrors.NewValidationError("slidingwindow", "window", config.Window, "must be at least 1s").
			WithHint("window keys expire with second granularity")
	}
	if err := validation.ValidatePositive("slidingwindow", "max_requests", config.MaxRequests); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("slidingwindow", "op_timeout", config.OpTimeout); err != nil {
		return err
	}
	if config.LocalCapacity < 0 {
		return kverrors.NewValidationError("slidingwindow", "local_capacity", config.LocalCapacity, "cannot be negative")
	}
	switch config.Policy {
	case FailOpen, FailClosed, FallbackLocal:
	default:
		return kverrors.NewValidationError("slidingwindow", "policy", int(config.Policy), "unknown failure policy")
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	def := DefaultConfig()
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.OpTimeout == 0 {
		config.OpTimeout = def.OpTimeout
	}
	if config.LocalCapacity == 0 {
		config.LocalCapacity = def.LocalCapacity
	}
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Metrics = metrics.OrDefault(config.Metrics)
	return config
}
