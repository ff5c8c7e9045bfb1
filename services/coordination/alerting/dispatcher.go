// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alerting delivers best-effort operator notifications.
//
// # Description
//
// Request paths hand an Alert to a Dispatcher and return immediately. The
// dispatcher holds a bounded queue consumed by one background worker that
// calls a Sender. When the queue is full the new alert is dropped and
// counted; nothing on the request path ever waits on the alert channel or
// sees its errors.
//
//	request ──Notify──► [ bounded queue ] ──worker──► rate limiter ──► Sender
//	                         │ full
//	                         ▼
//	                       drop (metric)
//
// # Thread Safety
//
// Dispatcher is safe for concurrent use.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"golang.org/x/time/rate"
)

// Alert is one operator notification.
type Alert struct {
	// Title is a short summary, e.g. "breaker opened".
	Title string

	// Text is the human-readable body.
	Text string

	// Fields are rendered as "key: value" lines after Text.
	Fields map[string]string

	// At is when the condition was observed.
	At time.Time
}

// Notifier accepts alerts without blocking.
type Notifier interface {
	Notify(alert Alert)
}

// Sender delivers one alert to the outside world.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds pending alerts. Default: 64.
	QueueSize int

	// SendsPerMinute limits delivery rate. Alerts over the limit are
	// dropped, not delayed. Default: 20.
	SendsPerMinute int

	// SendTimeout bounds one Send call. Default: 10s.
	SendTimeout time.Duration

	// Redactor masks secrets before delivery. Nil sends alerts verbatim.
	Redactor *Redactor
}

// Dispatcher is a Notifier backed by a bounded queue and a single worker.
type Dispatcher struct {
	sender  Sender
	queue   chan Alert
	limiter *rate.Limiter
	timeout time.Duration
	redact  *Redactor
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	stopped  bool
	startOne sync.Once
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher creates a Dispatcher. A nil sender yields a Dispatcher that
// discards every alert, which is how missing alert configuration disables
// alerting.
func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendsPerMinute <= 0 {
		cfg.SendsPerMinute = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	perSecond := rate.Limit(float64(cfg.SendsPerMinute) / 60.0)
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Alert, cfg.QueueSize),
		limiter: rate.NewLimiter(perSecond, cfg.SendsPerMinute),
		timeout: cfg.SendTimeout,
		redact:  cfg.Redactor,
		logger:  logger.With("component", "alerting"),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the worker. Calling Start more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOne.Do(func() {
		go d.run()
	})
}

// Notify enqueues alert without blocking.
//
// # Description
//
// Drops the alert when alerting is disabled, the dispatcher is stopped, or
// the queue is full.
func (d *Dispatcher) Notify(alert Alert) {
	if d == nil || d.sender == nil {
		return
	}
	if alert.At.IsZero() {
		alert.At = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	select {
	case d.queue <- alert:
	default:
		d.metrics.RecordAlert("dropped")
		d.logger.Warn("alert queue full, dropping alert",
			"title", alert.Title)
	}
}

// Stop closes the queue and waits for the worker to drain it or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
	})
	// An unstarted dispatcher still drains what was queued.
	d.Start()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("alert worker did not drain before deadline",
			"pending", len(d.queue))
	}
}

// Pending reports the number of queued alerts.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for alert := range d.queue {
		if d.sender == nil {
			continue
		}
		if !d.limiter.Allow() {
			d.metrics.RecordAlert("rate_limited")
			d.logger.Warn("alert rate limit reached, dropping alert",
				"title", alert.Title)
			continue
		}
		d.deliver(alert)
	}
}

func (d *Dispatcher) deliver(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordAlert("failed")
			d.logger.Error("alert sender panicked",
				"title", alert.Title,
				"panic", r)
		}
	}()

	alert = d.redact.RedactAlert(alert)
	if err := d.sender.Send(ctx, alert); err != nil {
		d.metrics.RecordAlert("failed")
		d.logger.Warn("alert delivery failed",
			"title", alert.Title,
			"error", err)
		return
	}
	d.metrics.RecordAlert("sent")
}
