package slidingwindow

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// localWindows is the in-process window store used by FallbackLocal. An
// identity idle for a full window is evicted by TTL; the LRU bound caps
// memory when many identities arrive during an outage.
type localWindows struct {
	mu      sync.Mutex // serializes read-modify-write per decision
	windows *expirable.LRU[string, []int64]
	window  time.Duration
}

func newLocalWindows(capacity int, window time.Duration) *localWindows {
	return &localWindows{
		windows: expirable.NewLRU[string, []int64](capacity, nil, window),
		window:  window,
	}
}

func (lw *localWindows) allow(key string, now time.Time, maxRequests int) window {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	nowMs := now.UnixMilli()
	windowMs := lw.window.Milliseconds()

	entries, _ := lw.windows.Get(key)
	valid := entries[:0:0]
	var oldest int64
	for _, t := range entries {
		if nowMs-t > windowMs {
			continue
		}
		if len(valid) == 0 || t < oldest {
			oldest = t
		}
		valid = append(valid, t)
	}

	w := window{valid: len(valid), oldest: oldest}
	if len(valid) >= maxRequests {
		lw.windows.Add(key, valid)
		return w
	}

	lw.windows.Add(key, append(valid, nowMs))
	w.allowed = true
	if len(valid) == 0 {
		w.oldest = nowMs
	}
	return w
}

// Len returns the number of identities tracked.
func (lw *localWindows) Len() int {
	return lw.windows.Len()
}
