// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu      sync.Mutex
	sent    []Alert
	err     error
	block   chan struct{}
	panicky bool
}

func (s *recordingSender) Send(ctx context.Context, alert Alert) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.panicky {
		panic("sender exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, alert)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcher_DeliversAlerts(t *testing.T) {
	sender := &recordingSender{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(sender, DispatcherConfig{}, nil, metrics)
	d.Start()

	d.Notify(Alert{Title: "breaker opened", Text: "transcription:openai"})
	d.Notify(Alert{Title: "breaker opened", Text: "chat:openai"})

	d.Stop(context.Background())

	require.Equal(t, 2, sender.count())
	assert.Equal(t, "transcription:openai", sender.sent[0].Text)
	assert.False(t, sender.sent[0].At.IsZero(), "Notify stamps the alert time")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("sent")))
}

func TestDispatcher_NotifyNeverBlocksWhenQueueFull(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	// Not started: nothing drains the queue.
	d := NewDispatcher(sender, DispatcherConfig{QueueSize: 2, SendsPerMinute: 600}, nil, metrics)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(Alert{Title: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, 8.0, testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("dropped")))

	close(sender.block)
	d.Stop(context.Background())
	assert.Equal(t, 2, sender.count())
}

func TestDispatcher_RateLimitDropsExcess(t *testing.T) {
	sender := &recordingSender{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(sender, DispatcherConfig{QueueSize: 16, SendsPerMinute: 3}, nil, metrics)

	for i := 0; i < 5; i++ {
		d.Notify(Alert{Title: "x"})
	}
	d.Start()
	d.Stop(context.Background())

	assert.Equal(t, 3, sender.count())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("rate_limited")))
}

func TestDispatcher_SenderFailuresAreSwallowed(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		sender := &recordingSender{err: errors.New("telegram down")}
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		d := NewDispatcher(sender, DispatcherConfig{}, nil, metrics)
		d.Start()

		d.Notify(Alert{Title: "x"})
		d.Stop(context.Background())

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("failed")))
	})

	t.Run("panic", func(t *testing.T) {
		sender := &recordingSender{panicky: true}
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		d := NewDispatcher(sender, DispatcherConfig{}, nil, metrics)
		d.Start()

		d.Notify(Alert{Title: "x"})
		d.Notify(Alert{Title: "y"})
		d.Stop(context.Background())

		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("failed")))
	})
}

func TestDispatcher_NilSenderDisablesAlerting(t *testing.T) {
	d := NewDispatcher(nil, DispatcherConfig{}, nil, nil)
	d.Start()

	assert.NotPanics(t, func() { d.Notify(Alert{Title: "x"}) })
	assert.Equal(t, 0, d.Pending())
	d.Stop(context.Background())

	var nilDispatcher *Dispatcher
	assert.NotPanics(t, func() { nilDispatcher.Notify(Alert{Title: "x"}) })
}

func TestDispatcher_StopIsIdempotentAndRejectsLateAlerts(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, DispatcherConfig{}, nil, nil)
	d.Start()

	d.Stop(context.Background())
	d.Stop(context.Background())

	assert.NotPanics(t, func() { d.Notify(Alert{Title: "late"}) })
	assert.Equal(t, 0, sender.count())
}

func TestDispatcher_StopHonorsDeadline(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	d := NewDispatcher(sender, DispatcherConfig{SendTimeout: time.Minute}, nil, nil)
	d.Start()
	d.Notify(Alert{Title: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Stop(ctx)
	assert.Less(t, time.Since(start), 5*time.Second)

	close(sender.block)
}
