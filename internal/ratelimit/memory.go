package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

var _ Limiter = (*MemoryLimiter)(nil)

type MemoryLimiter struct {
	mu      sync.Mutex
	policy  Policy
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	count int
	reset time.Time
}

func NewMemory(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:  policy.normalized(),
		entries: map[string]*entry{},
		now:     time.Now,
	}
}

// Check counts one request for key. Windows roll lazily on the first request
// after the reset time.
func (l *MemoryLimiter) Check(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.reset) {
		e = &entry{count: 0, reset: now.Add(l.policy.Window)}
		l.entries[key] = e
	}
	e.count++

	return Result{
		Allowed:   e.count <= l.policy.MaxRequests,
		Limit:     l.policy.MaxRequests,
		Remaining: remaining(l.policy.MaxRequests, e.count),
		ResetAt:   e.reset,
	}, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *MemoryLimiter) Stats(_ context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Backend:     "memory",
		TrackedKeys: len(l.entries),
		MaxRequests: l.policy.MaxRequests,
		WindowMS:    l.policy.Window.Milliseconds(),
	}, nil
}

// Sweep drops every key whose window has ended and returns how many went.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.reset) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps on every interval until ctx is done.
func (l *MemoryLimiter) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 && logger != nil {
				logger.Debug("rate limiter sweep", "removed", removed)
			}
		}
	}
}
