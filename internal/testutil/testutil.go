package testutil

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// WithTimeout creates a context with the default test timeout
func WithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout)
}

// Eventually polls condition every tick until it holds or waitFor elapses.
func Eventually(t *testing.T, condition func() bool, waitFor, tick time.Duration) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", waitFor)
		}
		time.Sleep(tick)
	}
}

// StartRedis runs an in-process Redis server for the duration of the test.
func StartRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

// RedisHostPort splits the server address into the pieces store.Config
// wants.
func RedisHostPort(t *testing.T, mr *miniredis.Miniredis) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split redis addr %q: %v", mr.Addr(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse redis port %q: %v", portStr, err)
	}
	return host, port
}

// CallbackTracker records invocations of a callback, such as a health
// change listener.
type CallbackTracker struct {
	mu     sync.Mutex
	calls  int
	values []interface{}
}

// NewCallbackTracker creates an empty tracker.
func NewCallbackTracker() *CallbackTracker {
	return &CallbackTracker{}
}

// Mark records a call, optionally with the value it carried.
func (c *CallbackTracker) Mark(value ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(value) > 0 {
		c.values = append(c.values, value[0])
	}
}

// CallCount returns how many times Mark ran.
func (c *CallbackTracker) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Values returns the recorded values in call order.
func (c *CallbackTracker) Values() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.values))
	copy(out, c.values)
	return out
}

// Reset clears all recorded calls.
func (c *CallbackTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
	c.values = nil
}
