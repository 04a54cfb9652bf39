package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow bounds the request rate per arbitrary string key over a fixed
// trailing window. It is an in-memory, single-process structure; a
// multi-instance deployment needs a shared backing store instead.
type SlidingWindow struct {
	window time.Duration

	mu     sync.Mutex
	events map[string][]time.Time

	now func() time.Time
}

// NewSlidingWindow creates a limiter with the given trailing window.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether one more event for key fits under limit within the
// trailing window. An accepted call records its event; a rejected call
// records nothing. Eviction, count, and append run as one unit under the
// lock, so concurrent callers cannot over-admit a key.
func (l *SlidingWindow) Allow(key string, limit int) bool {
	now := l.now()
	edge := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.events[key]
	kept := bucket[:0]
	for _, t := range bucket {
		if t.After(edge) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		l.events[key] = kept
		return false
	}

	l.events[key] = append(kept, now)
	return true
}
