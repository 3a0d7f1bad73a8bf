package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Lock serializes requests and enforces a minimum wait between them.
type Lock interface {
	Lock(ctx context.Context) (unlock func())
}

func New(wait time.Duration) Lock {
	return &lock{
		wait: wait,
	}
}

type lock struct {
	mu   sync.Mutex
	wait time.Duration
	last time.Time
}

func (l *lock) Lock(ctx context.Context) func() {
	l.mu.Lock()
	if !l.last.IsZero() {
		if d := l.wait - time.Since(l.last); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
	return func() {
		l.last = time.Now()
		l.mu.Unlock()
	}
}
