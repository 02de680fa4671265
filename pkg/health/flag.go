package health

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reader is the read side of a Flag. Consumers that must never write the
// liveness signal depend on Reader instead of *Flag.
type Reader interface {
	Healthy() bool
}

// Flag is a process-wide, best-effort liveness hint for one dependency.
//
// Reads are a single atomic load and never block. Writers are the owning
// connection's lifecycle callbacks, plus callers that observe a failure
// first and want every other caller to stop trying immediately.
type Flag struct {
	healthy     atomic.Bool
	since       atomic.Int64 // unix nanos of the last transition
	transitions atomic.Int64

	mu        sync.RWMutex
	listeners []func(bool)
}

var _ Reader = (*Flag)(nil)

// NewFlag returns a Flag with the given initial value.
func NewFlag(initial bool) *Flag {
	f := &Flag{}
	f.healthy.Store(initial)
	f.since.Store(time.Now().UnixNano())
	return f
}

// Healthy reports the last written value.
func (f *Flag) Healthy() bool {
	return f.healthy.Load()
}

// Set stores v and reports whether that was a transition. Listeners run
// synchronously, on transitions only, in registration order.
func (f *Flag) Set(v bool) bool {
	if f.healthy.Swap(v) == v {
		return false
	}
	f.since.Store(time.Now().UnixNano())
	f.transitions.Add(1)

	f.mu.RLock()
	listeners := f.listeners
	f.mu.RUnlock()

	for _, fn := range listeners {
		fn(v)
	}
	return true
}

// MarkHealthy is shorthand for Set(true).
func (f *Flag) MarkHealthy() bool { return f.Set(true) }

// MarkUnhealthy is shorthand for Set(false).
func (f *Flag) MarkUnhealthy() bool { return f.Set(false) }

// OnChange registers fn to be called with the new value on every transition.
// fn must not block; it runs on the writer's goroutine.
func (f *Flag) OnChange(fn func(healthy bool)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// copy-on-write so Set can iterate without holding the lock
	next := make([]func(bool), len(f.listeners), len(f.listeners)+1)
	copy(next, f.listeners)
	f.listeners = append(next, fn)
}

// Since returns the time of the last transition (or creation).
func (f *Flag) Since() time.Time {
	return time.Unix(0, f.since.Load())
}

// Transitions returns how many times the value has flipped.
func (f *Flag) Transitions() int64 {
	return f.transitions.Load()
}

// Status returns a snapshot suitable for a health endpoint.
func (f *Flag) Status(component string) Status {
	healthy := f.Healthy()
	s := Status{
		Component:   component,
		Healthy:     healthy,
		Status:      StatusUnhealthy,
		Since:       f.Since(),
		Transitions: f.Transitions(),
		Timestamp:   time.Now(),
	}
	if healthy {
		s.Status = StatusHealthy
	}
	return s
}
