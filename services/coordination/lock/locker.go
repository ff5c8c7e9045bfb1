// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides best-effort mutual exclusion across worker processes.
//
// # Description
//
// A lock is a key in the shared store whose value is a random ownership
// token. Acquire sets the key only if it does not exist, always with an
// expiry, so an owner that dies cannot wedge the resource. Release deletes
// the key only if it still holds the caller's token, in one atomic script,
// so a caller whose lock already expired can never delete a successor's lock.
//
// The lock is advisory. When the store is unreachable Acquire reports the
// lock as busy and Release does nothing; callers treat a missing lock as
// "skip or retry later", never as a correctness failure.
//
// # Thread Safety
//
// Locker is safe for concurrent use.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/keyspace"
	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/AleutianAI/sharedstate/services/coordination/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is used when Acquire is called with a non-positive ttl.
const DefaultTTL = 30 * time.Second

// releaseTimeout bounds the release issued by WithLock after the caller's
// context is gone.
const releaseTimeout = 2 * time.Second

// ErrNotAcquired is returned by WithLock when the lock is held elsewhere or
// the store is unavailable.
var ErrNotAcquired = errors.New("lock not acquired")

// compareAndDelete deletes KEYS[1] only if its value equals ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// compareAndExpire resets the TTL of KEYS[1] to ARGV[2] ms only if its value equals ARGV[1].
var compareAndExpire = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Token proves ownership of an acquired lock. It is only meaningful to the
// caller that received it.
type Token string

// LockError describes a failed scoped acquisition.
type LockError struct {
	Namespace string
	Key       string
	Err       error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s/%s: %v", e.Namespace, e.Key, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Locker acquires and releases locks in the shared store.
type Locker struct {
	client     *store.Client
	keys       keyspace.Builder
	defaultTTL time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
	newToken   func() Token
}

// NewLocker creates a Locker.
//
// # Inputs
//
//   - client: Store lifecycle object. Its availability decides degraded mode.
//   - keys: Keyspace used to build lock keys.
//   - defaultTTL: Expiry used when callers pass ttl <= 0. Zero means DefaultTTL.
//   - logger: Structured logger. nil uses slog.Default().
//   - metrics: Optional metrics sink.
//
// # Outputs
//
//   - *Locker: Ready to use.
func NewLocker(client *store.Client, keys keyspace.Builder, defaultTTL time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Locker {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		client:     client,
		keys:       keys,
		defaultTTL: defaultTTL,
		logger:     logger.With("component", "lock"),
		metrics:    metrics,
		newToken:   func() Token { return Token(uuid.NewString()) },
	}
}

// Acquire tries once to take the lock for namespace/key.
//
// # Description
//
// Never blocks and never retries. Callers choose their own backoff.
//
// # Inputs
//
//   - ctx: Bounds the store round trip.
//   - namespace: Resource family, e.g. "document".
//   - key: Resource identifier within the namespace.
//   - ttl: Lock lifetime. Non-positive uses the Locker's default.
//
// # Outputs
//
//   - Token: Ownership token. Empty when not acquired.
//   - bool: True if the lock was acquired. False if it is held by someone
//     else or the store is unavailable.
//
// # Example
//
//	token, ok := locker.Acquire(ctx, "document", "42", 30*time.Second)
//	if !ok {
//	    return nil // skip, another worker is on it
//	}
//	defer locker.Release(ctx, "document", "42", token)
func (l *Locker) Acquire(ctx context.Context, namespace, key string, ttl time.Duration) (Token, bool) {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	rdb, ok := l.client.Redis()
	if !ok {
		l.metrics.RecordLock(namespace, "acquire", "unavailable")
		l.logger.Warn("store unavailable, lock not acquired",
			"namespace", namespace,
			"key", key)
		return "", false
	}

	token := l.newToken()
	acquired, err := rdb.SetNX(ctx, l.keys.Lock(namespace, key), string(token), ttl).Result()
	if err != nil {
		l.metrics.RecordLock(namespace, "acquire", "unavailable")
		l.logger.Warn("lock acquisition failed, treating as busy",
			"namespace", namespace,
			"key", key,
			"error", err)
		return "", false
	}
	if !acquired {
		l.metrics.RecordLock(namespace, "acquire", "busy")
		return "", false
	}

	l.metrics.RecordLock(namespace, "acquire", "acquired")
	l.logger.Debug("lock acquired",
		"namespace", namespace,
		"key", key,
		"ttl", ttl)
	return token, true
}

// Release deletes the lock only if it is still held with token.
//
// # Description
//
// A stale token (the lock expired and someone else took it) is a no-op.
// Store failures are logged and swallowed; the lock then ends at its TTL.
func (l *Locker) Release(ctx context.Context, namespace, key string, token Token) {
	if token == "" {
		return
	}

	rdb, ok := l.client.Redis()
	if !ok {
		l.metrics.RecordLock(namespace, "release", "unavailable")
		return
	}

	deleted, err := compareAndDelete.Run(ctx, rdb, []string{l.keys.Lock(namespace, key)}, string(token)).Int64()
	if err != nil {
		l.metrics.RecordLock(namespace, "release", "unavailable")
		l.logger.Warn("lock release failed, lock will expire at its TTL",
			"namespace", namespace,
			"key", key,
			"error", err)
		return
	}
	if deleted == 0 {
		l.metrics.RecordLock(namespace, "release", "not_owner")
		l.logger.Debug("lock release skipped, token no longer owns the lock",
			"namespace", namespace,
			"key", key)
		return
	}
	l.metrics.RecordLock(namespace, "release", "released")
}

// Extend pushes the lock's expiry to ttl from now if token still owns it.
//
// # Outputs
//
//   - bool: True if the expiry was extended. False if the lock was lost or
//     the store is unavailable; the caller should stop its critical section.
func (l *Locker) Extend(ctx context.Context, namespace, key string, token Token, ttl time.Duration) bool {
	if token == "" {
		return false
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	rdb, ok := l.client.Redis()
	if !ok {
		l.metrics.RecordLock(namespace, "extend", "unavailable")
		return false
	}

	n, err := compareAndExpire.Run(ctx, rdb, []string{l.keys.Lock(namespace, key)}, string(token), ttl.Milliseconds()).Int64()
	if err != nil {
		l.metrics.RecordLock(namespace, "extend", "unavailable")
		l.logger.Warn("lock extend failed",
			"namespace", namespace,
			"key", key,
			"error", err)
		return false
	}
	if n == 0 {
		l.metrics.RecordLock(namespace, "extend", "not_owner")
		return false
	}
	l.metrics.RecordLock(namespace, "extend", "extended")
	return true
}

// WithLock runs fn while holding namespace/key.
//
// # Description
//
// The lock is released on every exit path: normal return, error, panic,
// and cancellation of ctx. The release uses a context detached from ctx so
// a cancelled caller still gives the lock back instead of waiting for TTL.
//
// # Inputs
//
//   - ctx: Passed to fn; also bounds the acquisition.
//   - namespace, key: Resource to lock.
//   - ttl: Lock lifetime. Non-positive uses the Locker's default.
//   - fn: Critical section.
//
// # Outputs
//
//   - error: *LockError wrapping ErrNotAcquired if the lock was not taken,
//     otherwise whatever fn returned.
func (l *Locker) WithLock(ctx context.Context, namespace, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok := l.Acquire(ctx, namespace, key, ttl)
	if !ok {
		return &LockError{Namespace: namespace, Key: key, Err: ErrNotAcquired}
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		l.Release(releaseCtx, namespace, key, token)
	}()

	return fn(ctx)
}
