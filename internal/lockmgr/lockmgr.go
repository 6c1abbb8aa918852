// Package lockmgr implements the filesystem-backed cell lock manager:
// mutual exclusion per cell via an atomically-created lockfile, with
// bounded 1-second-polling retry.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/maruel/ksid"
	"golang.org/x/time/rate"
)

// ErrStuck is returned when lock acquisition exhausts its retries.
var ErrStuck = errors.New("lockmgr: stuck on lock file")

// Lock represents a held cell lock. Unlock releases it; Unlock is
// idempotent.
type Lock struct {
	path string
}

// Lock attempts to atomically create the lockfile at path.
//
// retries < 0 waits indefinitely with 1-second polling; retries == 0 tries
// once and fails immediately; retries > 0 retries that many times with
// 1-second polling.
func Lock(ctx context.Context, path string, retries int) (*Lock, error) {
	if l, err := tryCreate(path); err == nil {
		return l, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("lockmgr: create lockfile %s: %w", path, err)
	}
	if retries == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStuck, path)
	}

	// Poll at exactly 1 Hz via a rate limiter, the same idiom the pack uses
	// for pacing request admission (server/ratelimit), applied here to pace
	// lock-retry attempts instead.
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	limiter.Allow() // spend the initial burst token so the first retry also waits a second
	attempt := 0
	for retries < 0 || attempt < retries {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("lockmgr: wait for lockfile %s: %w", path, err)
		}
		if l, err := tryCreate(path); err == nil {
			return l, nil
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("lockmgr: create lockfile %s: %w", path, err)
		}
		attempt++
	}
	return nil, fmt.Errorf("%w: %s", ErrStuck, path)
}

// TryLock is Lock with retries=0: a single non-blocking attempt.
func TryLock(path string) (*Lock, error) {
	return Lock(context.Background(), path, 0)
}

func tryCreate(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	// The lock token is a time-sortable ID naming the holder, so a stuck
	// lockfile can be inspected (age, identity) instead of being opaque.
	if _, err := f.WriteString(ksid.NewID().String()); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Unlock removes the lockfile. Safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockmgr: remove lockfile %s: %w", l.path, err)
	}
	return nil
}

// RoundRobin acquires a lock on every candidate lockfile path, trying one
// unlocked candidate per attempt in k-mod-len rotation with retries=0,
// removing successes from the working set. Each remaining candidate gets
// its own fresh maxAttempts budget (spec: 3600) to find a free cell, per
// the original's `while unique_cells: for k in xrange(3600): ...` — the
// budget is per search, not shared across the whole batch.
//
// onLocked is invoked with the path and its *Lock as each candidate
// succeeds. logger receives contention diagnostics; a nil logger falls
// back to slog.Default.
func RoundRobin(candidates []string, maxAttempts int, logger *slog.Logger, onLocked func(path string, l *Lock) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	remaining := append([]string(nil), candidates...)
	for len(remaining) > 0 {
		locked := false
		for attempts := 0; attempts < maxAttempts; attempts++ {
			idx := attempts % len(remaining)
			path := remaining[idx]
			l, err := TryLock(path)
			if err != nil {
				if errors.Is(err, ErrStuck) {
					if attempts > 0 && attempts%100 == 0 {
						logger.Debug("lockmgr: round-robin contention", "path", path, "attempt", attempts, "remaining", len(remaining))
					}
					continue
				}
				return err
			}
			if err := onLocked(path, l); err != nil {
				return err
			}
			remaining = append(remaining[:idx], remaining[idx+1:]...)
			locked = true
			break
		}
		if !locked {
			logger.Warn("lockmgr: round-robin exhausted its attempt budget", "maxAttempts", maxAttempts, "remaining", len(remaining))
			return fmt.Errorf("%w: %d candidates never acquired a lock", ErrStuck, len(remaining))
		}
	}
	return nil
}
