package health

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagTransitions(t *testing.T) {
	f := NewFlag(false)
	assert.False(t, f.Healthy())

	var seen []bool
	f.OnChange(func(v bool) { seen = append(seen, v) })

	assert.True(t, f.MarkHealthy())
	assert.False(t, f.MarkHealthy(), "repeated write is not a transition")
	assert.True(t, f.MarkUnhealthy())
	assert.False(t, f.Set(false))

	assert.Equal(t, []bool{true, false}, seen)
	assert.Equal(t, int64(2), f.Transitions())
	assert.False(t, f.Healthy())
}

func TestFlagConcurrentAccess(t *testing.T) {
	f := NewFlag(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				f.Set((i+j)%2 == 0)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = f.Healthy()
			}
		}()
	}
	wg.Wait()
}

func TestFlagStatus(t *testing.T) {
	f := NewFlag(true)
	s := f.Status("redis")
	assert.Equal(t, "redis", s.Component)
	assert.True(t, s.Healthy)
	assert.Equal(t, StatusHealthy, s.Status)

	f.MarkUnhealthy()
	s = f.Status("redis")
	assert.False(t, s.Healthy)
	assert.Equal(t, StatusUnhealthy, s.Status)
	assert.Equal(t, int64(1), s.Transitions)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"unhealthy"`)
}

func TestAggregate(t *testing.T) {
	up := Status{Component: "a", Healthy: true, Status: StatusHealthy}
	down := Status{Component: "b", Healthy: false, Status: StatusUnhealthy}

	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"no components", nil, StatusHealthy},
		{"all healthy", []Status{up, up}, StatusHealthy},
		{"mixed", []Status{up, down}, StatusDegraded},
		{"all down", []Status{down}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("kvguard", tt.subs...)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == StatusHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestWithSubStatusDoesNotShare(t *testing.T) {
	base := Status{Component: "root"}.WithSubStatus(Status{Component: "a"})
	x := base.WithSubStatus(Status{Component: "x"})
	y := base.WithSubStatus(Status{Component: "y"})
	assert.Equal(t, "x", x.SubStatuses[1].Component)
	assert.Equal(t, "y", y.SubStatuses[1].Component)
}
