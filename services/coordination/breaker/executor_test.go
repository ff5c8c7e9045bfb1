// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/sharedstate/services/coordination/alerting"
	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (n *captureNotifier) Notify(a alerting.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func ok(name string) Candidate[string] {
	return Candidate[string]{Name: name, Call: func(context.Context) (string, error) {
		return "from " + name, nil
	}}
}

func failing(name string, err error, calls *int) Candidate[string] {
	return Candidate[string]{Name: name, Call: func(context.Context) (string, error) {
		if calls != nil {
			*calls++
		}
		return "", err
	}}
}

func newTestExecutor(t *testing.T, policy Policy) (*Executor, *fakeClock, *captureNotifier) {
	t.Helper()
	clock := newFakeClock()
	notifier := &captureNotifier{}
	exec := NewExecutor(NewRegistry(WithClock(clock.Now)), policy, notifier, nil, nil)
	return exec, clock, notifier
}

func TestRun_FailoverOrdering(t *testing.T) {
	exec, _, _ := newTestExecutor(t, Policy{FailureThreshold: 3, Cooldown: time.Minute})

	res, err := Run(context.Background(), exec, "chat", []Candidate[string]{
		failing("P1", errors.New("upstream 500"), nil),
		ok("P2"),
		ok("P3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "P2", res.Provider)
	assert.Equal(t, "from P2", res.Value)
	assert.Equal(t, 2, res.Attempts)

	reg := exec.Registry()
	assert.Equal(t, 1, reg.Failures(BreakerKey("chat", "P1")))
	assert.Equal(t, 0, reg.Failures(BreakerKey("chat", "P2")))
	assert.Equal(t, 0, reg.Failures(BreakerKey("chat", "P3")))
}

func TestRun_FirstSuccessShortCircuits(t *testing.T) {
	exec, _, _ := newTestExecutor(t, Policy{})
	calls := 0

	res, err := Run(context.Background(), exec, "chat", []Candidate[string]{
		ok("P1"),
		failing("P2", errors.New("never called"), &calls),
	})
	require.NoError(t, err)
	assert.Equal(t, "P1", res.Provider)
	assert.Equal(t, 0, calls)
}

func TestRun_OpensAfterThresholdAndSkips(t *testing.T) {
	exec, clock, notifier := newTestExecutor(t, Policy{FailureThreshold: 2, Cooldown: time.Minute})
	calls := 0
	candidates := []Candidate[string]{failing("P1", errors.New("boom"), &calls), ok("P2")}

	for i := 0; i < 2; i++ {
		_, err := Run(context.Background(), exec, "chat", candidates)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	assert.True(t, exec.Registry().IsOpen(BreakerKey("chat", "P1")))
	assert.Equal(t, 1, notifier.count())

	res, err := Run(context.Background(), exec, "chat", candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "open breaker is skipped")
	assert.Equal(t, 1, res.Attempts, "skipped candidates are not attempts")

	clock.Advance(time.Minute)
	_, err = Run(context.Background(), exec, "chat", candidates)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "retried after cooldown")
}

func TestRun_RateLimitEscalation(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"status text", errors.New("error, status code: 429, message: slow down")},
		{"too many requests", errors.New("Too Many Requests")},
		{"quota", errors.New("You exceeded your current quota")},
		{"sentinel", fmt.Errorf("provider: %w", ErrRateLimited)},
		{"status coder", &statusErr{code: 429}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, clock, notifier := newTestExecutor(t, Policy{FailureThreshold: 5, Cooldown: 10 * time.Second})

			_, err := Run(context.Background(), exec, "transcription", []Candidate[string]{
				failing("P1", tt.err, nil),
				ok("P2"),
			})
			require.NoError(t, err)

			key := BreakerKey("transcription", "P1")
			assert.True(t, exec.Registry().IsOpen(key), "opened after a single failure")
			require.Equal(t, 1, notifier.count())
			assert.Equal(t, "rate_limited", notifier.alerts[0].Fields["reason"])

			clock.Advance(MinRateLimitCooldown - time.Second)
			assert.True(t, exec.Registry().IsOpen(key), "cooldown floor applies")
			clock.Advance(time.Second)
			assert.False(t, exec.Registry().IsOpen(key))
		})
	}
}

func TestRun_RateLimitKeepsLongerConfiguredCooldown(t *testing.T) {
	exec, clock, _ := newTestExecutor(t, Policy{FailureThreshold: 5, Cooldown: 10 * time.Minute})

	_, _ = Run(context.Background(), exec, "chat", []Candidate[string]{
		failing("P1", errors.New("rate limit exceeded"), nil),
	})

	clock.Advance(5 * time.Minute)
	assert.True(t, exec.Registry().IsOpen(BreakerKey("chat", "P1")))
}

func TestRun_AllSkipped(t *testing.T) {
	exec, _, _ := newTestExecutor(t, Policy{})
	exec.Registry().RecordFailure(BreakerKey("chat", "P1"), 1, time.Minute)
	exec.Registry().RecordFailure(BreakerKey("chat", "P2"), 1, time.Minute)

	calls := 0
	_, err := Run(context.Background(), exec, "chat", []Candidate[string]{
		failing("P1", errors.New("x"), &calls),
		failing("P2", errors.New("x"), &calls),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAvailableProviders)
	assert.NotErrorIs(t, err, ErrAllProvidersFailed)
	assert.True(t, IsDegraded(err))
	assert.Equal(t, 0, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 0, exhausted.Attempts)
	assert.Equal(t, 2, exhausted.Skipped)
}

func TestRun_AllFailed(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	exec := NewExecutor(NewRegistry(), Policy{}, nil, nil, metrics)
	last := errors.New("P2 timed out")

	_, err := Run(context.Background(), exec, "chat", []Candidate[string]{
		failing("P1", errors.New("P1 refused"), nil),
		failing("P2", last, nil),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.ErrorIs(t, err, last)
	assert.NotErrorIs(t, err, ErrNoAvailableProviders)
	assert.True(t, IsDegraded(err))
	assert.Contains(t, err.Error(), "P2 timed out")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FailoverExhaustedTotal.WithLabelValues("chat", "all_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProviderAttemptsTotal.WithLabelValues("chat", "P1", "failure")))
}

func TestRun_EmptyCandidates(t *testing.T) {
	exec, _, _ := newTestExecutor(t, Policy{})
	_, err := Run[string](context.Background(), exec, "chat", nil)
	assert.ErrorIs(t, err, ErrNoAvailableProviders)
}

func TestRun_CancelledContextIsNotBlamed(t *testing.T) {
	exec, _, _ := newTestExecutor(t, Policy{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Run(ctx, exec, "chat", []Candidate[string]{
		{Name: "P1", Call: func(ctx context.Context) (string, error) {
			cancel()
			return "", ctx.Err()
		}},
		failing("P2", errors.New("x"), &calls),
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsDegraded(err))
	assert.Equal(t, 0, calls)
	assert.False(t, exec.Registry().IsOpen(BreakerKey("chat", "P1")))
	assert.Equal(t, 0, exec.Registry().Failures(BreakerKey("chat", "P1")))
}

func TestRun_CapabilitiesHaveSeparateBreakers(t *testing.T) {
	exec, _, _ := newTestExecutor(t, Policy{FailureThreshold: 1})

	_, _ = Run(context.Background(), exec, "transcription", []Candidate[string]{failing("openai", errors.New("x"), nil)})

	res, err := Run(context.Background(), exec, "chat", []Candidate[string]{ok("openai")})
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)
}

func TestNewExecutor_Defaults(t *testing.T) {
	exec := NewExecutor(NewRegistry(), Policy{RateLimitCooldown: time.Second}, nil, nil, nil)
	assert.Equal(t, 3, exec.policy.FailureThreshold)
	assert.Equal(t, 60*time.Second, exec.policy.Cooldown)
	assert.Equal(t, MinRateLimitCooldown, exec.policy.RateLimitCooldown)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))

	// "é" is two bytes; cutting at 2 would split it.
	got := truncate("aéb", 2)
	assert.Equal(t, "a…", got)
	assert.True(t, utf8.ValidString(got))

	long := ""
	for i := 0; i < 200; i++ {
		long += "日本"
	}
	assert.True(t, utf8.ValidString(truncate(long, 300)))
}
