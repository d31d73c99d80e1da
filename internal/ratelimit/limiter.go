// Package ratelimit implements a fixed-window abuse throttle. Time is cut
// into non-overlapping windows (unix-millis / window-millis); the counter for
// a key resets at each boundary, so callers must tolerate boundary bursts of
// up to twice the ceiling.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Class names a ceiling/window pair for one kind of sensitive action.
// Distinct classes keep independent counters for the same key.
type Class struct {
	Name   string
	Limit  int
	Window time.Duration
}

type Limiter interface {
	// Allow counts one attempt for key within the current window and reports
	// whether it stayed at or under the class ceiling.
	Allow(ctx context.Context, key string, class Class) (bool, error)
	// RemainingTime reports how long until a locked-out key clears; zero when
	// the key is not limited.
	RemainingTime(ctx context.Context, key string, class Class) (time.Duration, error)
}

type bucket struct {
	windowID int64
	count    int
	// expiry is the bucket's window boundary plus one window of grace,
	// on the wall clock. Sweeping compares against it directly because
	// window IDs from different classes are not comparable.
	expiry time.Time
}

// FixedWindowLimiter is the single-instance implementation: a mutex-guarded
// bucket map with a periodic in-line sweep of stale buckets.
type FixedWindowLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
	now       func() time.Time
}

func NewFixedWindowLimiter() *FixedWindowLimiter {
	return &FixedWindowLimiter{
		buckets:   make(map[string]*bucket),
		nextSweep: time.Now().Add(time.Minute),
		now:       time.Now,
	}
}

func (l *FixedWindowLimiter) Allow(_ context.Context, key string, class Class) (bool, error) {
	class = normalizeClass(class)
	now := l.now()
	windowID := currentWindowID(now, class.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.sweepLocked(now)
		l.nextSweep = now.Add(class.Window)
	}

	k := class.Name + ":" + key
	b, ok := l.buckets[k]
	if !ok || b.windowID != windowID {
		boundary := time.UnixMilli((windowID + 1) * class.Window.Milliseconds())
		b = &bucket{windowID: windowID, expiry: boundary.Add(class.Window)}
		l.buckets[k] = b
	}
	b.count++
	return b.count <= class.Limit, nil
}

func (l *FixedWindowLimiter) RemainingTime(_ context.Context, key string, class Class) (time.Duration, error) {
	class = normalizeClass(class)
	now := l.now()
	windowID := currentWindowID(now, class.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[class.Name+":"+key]
	if !ok || b.windowID != windowID || b.count <= class.Limit {
		return 0, nil
	}
	return timeToBoundary(now, windowID, class.Window), nil
}

// sweepLocked drops buckets past their own expiry. The extra window of grace
// baked into expiry keeps RemainingTime answerable right after a boundary.
func (l *FixedWindowLimiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.After(b.expiry) {
			delete(l.buckets, k)
		}
	}
}

func currentWindowID(now time.Time, window time.Duration) int64 {
	return now.UnixMilli() / window.Milliseconds()
}

func timeToBoundary(now time.Time, windowID int64, window time.Duration) time.Duration {
	boundary := time.UnixMilli((windowID + 1) * window.Milliseconds())
	d := boundary.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func normalizeClass(class Class) Class {
	if class.Limit <= 0 {
		class.Limit = 1
	}
	if class.Window <= 0 {
		class.Window = time.Minute
	}
	if class.Name == "" {
		class.Name = "default"
	}
	return class
}
