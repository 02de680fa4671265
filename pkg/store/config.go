package store

import (
	"net"
	"strconv"
	"time"

	"github.com/vnykmshr/kvguard/pkg/common/validation"
)

// Config holds connection settings for the shared key-value store.
type Config struct {
	// Host and Port locate the Redis-compatible server.
	Host string
	Port int

	// Username and Password authenticate the connection (Redis ACL).
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// DialTimeout bounds establishing a new connection.
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound socket I/O per command.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of pooled socket connections.
	// Zero lets go-redis pick (10 per CPU).
	PoolSize int

	// ProbeInterval controls how often the monitor pings the store.
	// Sub-second values are rounded up to one second.
	ProbeInterval time.Duration

	// ReconnectBackoff is the first delay between failed reconnection
	// attempts; it doubles on every failure up to MaxReconnectBackoff.
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

// DefaultConfig returns a default store configuration.
func DefaultConfig() Config {
	return Config{
		Host:                "localhost",
		Port:                6379,
		Username:            "default",
		DialTimeout:         2 * time.Second,
		ReadTimeout:         time.Second,
		WriteTimeout:        time.Second,
		ProbeInterval:       time.Second,
		ReconnectBackoff:    500 * time.Millisecond,
		MaxReconnectBackoff: 30 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validation.ValidateNotEmpty("store", "host", c.Host); err != nil {
		return err
	}
	if err := validation.ValidateRange("store", "port", c.Port, 1, 65535); err != nil {
		return err
	}
	if err := validation.ValidateRange("store", "db", c.DB, 0, 1<<16); err != nil {
		return err
	}
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"dial_timeout", c.DialTimeout},
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"probe_interval", c.ProbeInterval},
		{"reconnect_backoff", c.ReconnectBackoff},
		{"max_reconnect_backoff", c.MaxReconnectBackoff},
	} {
		if err := validation.ValidateNonNegativeDuration("store", d.field, d.value); err != nil {
			return err
		}
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(c Config) Config {
	def := DefaultConfig()
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = def.ReconnectBackoff
	}
	if c.MaxReconnectBackoff == 0 {
		c.MaxReconnectBackoff = def.MaxReconnectBackoff
	}
	if c.MaxReconnectBackoff < c.ReconnectBackoff {
		c.MaxReconnectBackoff = c.ReconnectBackoff
	}
	return c
}
