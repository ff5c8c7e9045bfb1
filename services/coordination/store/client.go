// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store owns the process's single connection pool to the shared
// key-value store.
//
// # Description
//
// Client is an explicit lifecycle object: construct it once at startup,
// call Start, inject it into every component, call Stop at shutdown. It never
// fails the process because the store is down. Instead it reports the store
// as unavailable, and every consumer has a defined degraded behavior:
//
//   - lock: acquisition returns absent, release is a no-op
//   - telemetry: writes are dropped, reads report zeros
//   - drafts: loads report missing, saves are dropped
//
// A background health loop re-pings the store and flips availability in
// both directions, so a recovered store is picked up without a restart.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable reports that the store is not reachable or not started.
var ErrUnavailable = errors.New("shared store unavailable")

// Options configures the connection pool.
type Options struct {
	// URL is a redis:// or rediss:// URL. rediss implies TLS.
	URL string

	Username string
	Password string

	// TLS forces TLS even for redis:// URLs.
	TLS bool

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// HealthCheckInterval is how often the store is re-pinged.
	// Zero disables the background loop.
	HealthCheckInterval time.Duration
}

// Client is the lifecycle wrapper around the go-redis pool.
type Client struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	mu  sync.RWMutex
	rdb *redis.Client

	available atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Client. No connection is made until Start.
//
// # Inputs
//
//   - opts: Pool configuration.
//   - logger: Structured logger. nil uses slog.Default().
//   - metrics: Optional metrics sink. May be nil.
//
// # Outputs
//
//   - *Client: Unstarted client. Redis() reports unavailable until Start
//     succeeds in reaching the store.
func New(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		logger:  logger.With("component", "store"),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

// Start builds the pool, pings the store once and starts the health loop.
//
// # Description
//
// A failed ping is not an error: the client starts in degraded mode and the
// health loop keeps retrying. Only an unparseable URL is returned, because
// that is a configuration mistake no retry can fix.
//
// # Inputs
//
//   - ctx: Bounds the initial ping only.
//
// # Outputs
//
//   - error: Non-nil if the URL is invalid.
func (c *Client) Start(ctx context.Context) error {
	var startErr error
	c.startOnce.Do(func() {
		ropts, err := c.redisOptions()
		if err != nil {
			startErr = err
			return
		}

		c.mu.Lock()
		c.rdb = redis.NewClient(ropts)
		c.mu.Unlock()

		if !c.check(ctx) {
			c.logger.Warn("shared store unreachable at startup, starting in degraded mode",
				"addr", ropts.Addr)
		}

		if c.opts.HealthCheckInterval > 0 {
			c.wg.Add(1)
			go c.healthLoop()
		}
	})
	return startErr
}

// Stop ends the health loop and closes the pool. Safe to call more than once.
func (c *Client) Stop(ctx context.Context) error {
	var closeErr error
	c.stopOnce.Do(func() {
		close(c.stopCh)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Warn("store health loop did not stop before deadline")
		}

		c.setAvailable(false)

		c.mu.Lock()
		rdb := c.rdb
		c.rdb = nil
		c.mu.Unlock()
		if rdb != nil {
			closeErr = rdb.Close()
		}
	})
	return closeErr
}

// Redis returns the pool when the store is reachable.
//
// # Outputs
//
//   - redis.UniversalClient: The pool. nil when unavailable.
//   - bool: False when the store is unavailable or the client is stopped.
func (c *Client) Redis() (redis.UniversalClient, bool) {
	if !c.available.Load() {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rdb == nil {
		return nil, false
	}
	return c.rdb, true
}

// Available reports the result of the latest ping.
func (c *Client) Available() bool {
	return c.available.Load()
}

// Ping checks the store now and updates availability.
//
// # Outputs
//
//   - error: ErrUnavailable when the store cannot be reached.
func (c *Client) Ping(ctx context.Context) error {
	if !c.check(ctx) {
		return ErrUnavailable
	}
	return nil
}

// check pings once and records the result.
func (c *Client) check(ctx context.Context) bool {
	c.mu.RLock()
	rdb := c.rdb
	c.mu.RUnlock()
	if rdb == nil {
		c.setAvailable(false)
		return false
	}

	timeout := c.opts.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := rdb.Ping(pingCtx).Err()
	if err != nil {
		if c.setAvailable(false) {
			c.logger.Warn("shared store unavailable, entering degraded mode",
				"error", err)
		}
		return false
	}
	if c.setAvailable(true) {
		c.logger.Info("shared store available",
			"addr", rdb.Options().Addr)
	}
	return true
}

// setAvailable stores v and reports whether it changed.
func (c *Client) setAvailable(v bool) bool {
	c.metrics.SetStoreAvailable(v)
	return c.available.Swap(v) != v
}

func (c *Client) healthLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.check(context.Background())
		}
	}
}

func (c *Client) redisOptions() (*redis.Options, error) {
	ropts, err := redis.ParseURL(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}
	if c.opts.Username != "" {
		ropts.Username = c.opts.Username
	}
	if c.opts.Password != "" {
		ropts.Password = c.opts.Password
	}
	if c.opts.TLS && ropts.TLSConfig == nil {
		ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.opts.PoolSize > 0 {
		ropts.PoolSize = c.opts.PoolSize
	}
	if c.opts.DialTimeout > 0 {
		ropts.DialTimeout = c.opts.DialTimeout
	}
	if c.opts.ReadTimeout > 0 {
		ropts.ReadTimeout = c.opts.ReadTimeout
	}
	if c.opts.WriteTimeout > 0 {
		ropts.WriteTimeout = c.opts.WriteTimeout
	}
	// One retry; recovery belongs to the health loop.
	ropts.MaxRetries = 1
	return ropts, nil
}
