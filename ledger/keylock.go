/*
keylock.go - Per-entity-key advisory locks with a bounded wait budget

PURPOSE:
  Serializes read-then-append sequences on the same entity key (one batch,
  one account) while operations on different keys proceed fully in
  parallel. Never a process-wide lock.

BOUNDED WAIT:
  Acquire gives up after the configured budget and returns
  ConcurrencyTimeoutError instead of deadlocking. The caller may retry
  with backoff; nothing partial was left durable.

USAGE:
  release, err := locks.Acquire(ctx, batch.Key())
  if err != nil {
      return err // ConcurrencyTimeoutError or ctx error
  }
  defer release()
*/
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultLockWait bounds how long an operation waits to serialize on a key.
const DefaultLockWait = 5 * time.Second

// KeyLocks is a registry of per-key advisory locks.
type KeyLocks struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[EntityKey]chan struct{}
}

func NewKeyLocks(wait time.Duration) *KeyLocks {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &KeyLocks{
		wait:  wait,
		locks: make(map[EntityKey]chan struct{}),
	}
}

func (kl *KeyLocks) lockFor(key EntityKey) chan struct{} {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	ch, ok := kl.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		kl.locks[key] = ch
	}
	return ch
}

// Acquire takes the lock for key, waiting at most the configured budget.
// The returned release function must be called exactly once.
func (kl *KeyLocks) Acquire(ctx context.Context, key EntityKey) (func(), error) {
	ch := kl.lockFor(key)

	timer := time.NewTimer(kl.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &ConcurrencyTimeoutError{EntityKey: key, Waited: kl.wait}
	}
}

// AcquireAll takes the locks for a set of keys in a canonical order so that
// multi-line operations (one sale touching several batches) cannot deadlock
// against each other. Duplicate keys are locked once.
func (kl *KeyLocks) AcquireAll(ctx context.Context, keys []EntityKey) (func(), error) {
	distinct := dedupeSorted(keys)

	releases := make([]func(), 0, len(distinct))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range distinct {
		release, err := kl.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func dedupeSorted(keys []EntityKey) []EntityKey {
	seen := make(map[EntityKey]bool, len(keys))
	out := make([]EntityKey, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
