// Package accountlock serializes fills against the same account within one
// process. Entries are created on first use and reclaimed by a periodic sweep
// once nobody holds or waits on them; whether an entry exists never affects
// correctness, only memory use.
package accountlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller's bound.
var ErrTimeout = errors.New("accountlock: acquire timeout")

type entry struct {
	sem  *semaphore.Weighted // weight 1
	refs int                 // holders + waiters, guarded by Registry.mu
}

// Registry maps account IDs to binary locks.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// WithAccountLock runs fn while holding the lock for accountID. It waits at
// most timeout for the lock and returns ErrTimeout without running fn if the
// wait expires, or ctx.Err() if ctx is done first. The lock is released when
// fn returns or panics.
func (r *Registry) WithAccountLock(ctx context.Context, accountID string, timeout time.Duration, fn func() error) error {
	e := r.ref(accountID)
	defer r.unref(e)

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	err := e.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
	defer e.sem.Release(1)

	return fn()
}

// ref returns the entry for accountID, creating it if absent, and counts the
// caller so a concurrent sweep cannot reclaim it.
func (r *Registry) ref(accountID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[accountID]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		r.entries[accountID] = e
	}
	e.refs++
	return e
}

func (r *Registry) unref(e *entry) {
	r.mu.Lock()
	e.refs--
	r.mu.Unlock()
}

// Sweep removes entries with no holder and no waiter and returns how many
// were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		if e.refs == 0 {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run sweeps every period until ctx is done. onSweep, if non-nil, receives
// the remaining entry count after each sweep.
func (r *Registry) Run(ctx context.Context, period time.Duration, onSweep func(remaining int)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := r.Sweep()
			remaining := r.Len()
			if removed > 0 {
				slog.Debug("account locks swept", "removed", removed, "remaining", remaining)
			}
			if onSweep != nil {
				onSweep(remaining)
			}
		}
	}
}
