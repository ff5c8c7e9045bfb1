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
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/sharedstate/services/coordination/alerting"
	"github.com/AleutianAI/sharedstate/services/coordination/observability"
)

var executorTracer = otel.Tracer("coordination.breaker")

// MinRateLimitCooldown is the floor applied to rate-limit class failures.
const MinRateLimitCooldown = 180 * time.Second

// Policy decides when a breaker opens.
type Policy struct {
	// FailureThreshold is consecutive failures before opening. Default: 3.
	FailureThreshold int

	// Cooldown is how long a breaker stays open. Default: 60s.
	Cooldown time.Duration

	// RateLimitCooldown is the minimum open time after a rate-limit class
	// failure. Values below MinRateLimitCooldown are raised to it.
	RateLimitCooldown time.Duration
}

// DefaultPolicy returns the default breaker policy.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold:  3,
		Cooldown:          60 * time.Second,
		RateLimitCooldown: MinRateLimitCooldown,
	}
}

// Candidate is one named way to perform a capability.
type Candidate[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// Result is the value produced by the winning candidate.
type Result[T any] struct {
	Value    T
	Provider string
	Attempts int
}

// Executor runs ordered candidates through a Registry.
//
// # Thread Safety
//
// Executor is safe for concurrent use. All mutable state lives in the
// Registry.
type Executor struct {
	registry *Registry
	policy   Policy
	notifier alerting.Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	classify func(error) bool
}

// NewExecutor creates an Executor.
//
// # Inputs
//
//   - registry: Breaker state. Required.
//   - policy: Thresholds. Zero fields take DefaultPolicy values.
//   - notifier: Receives an alert whenever a breaker opens. May be nil.
//   - logger: nil uses slog.Default().
//   - metrics: Optional.
func NewExecutor(registry *Registry, policy Policy, notifier alerting.Notifier, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	defaults := DefaultPolicy()
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = defaults.FailureThreshold
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = defaults.Cooldown
	}
	if policy.RateLimitCooldown < MinRateLimitCooldown {
		policy.RateLimitCooldown = MinRateLimitCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		policy:   policy,
		notifier: notifier,
		logger:   logger.With("component", "failover"),
		metrics:  metrics,
		classify: IsRateLimited,
	}
}

// Registry returns the breaker registry used by e.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// BreakerKey is the registry key for provider under capability.
func BreakerKey(capability, provider string) string {
	return capability + ":" + provider
}

// Run tries candidates in order until one succeeds.
//
// # Description
//
// Candidates whose breaker is open are skipped and not counted as attempts.
// A success records success and returns immediately. A failure is recorded
// against the candidate's breaker; rate-limit class failures open the
// breaker at once for at least the rate-limit cooldown. If ctx is done
// after a failure, Run stops and returns ctx.Err() without blaming the
// candidate.
//
// # Inputs
//
//   - ctx: Passed to every candidate.
//   - e: Executor.
//   - capability: Names the operation, e.g. "transcription". Part of the
//     breaker key so one provider can be healthy for one capability and
//     tripped for another.
//   - candidates: Ordered by preference.
//
// # Outputs
//
//   - Result[T]: Value and winning provider name.
//   - error: *ExhaustedError when nothing succeeded; see IsDegraded.
//
// # Example
//
//	res, err := breaker.Run(ctx, exec, "transcription", candidates)
//	if breaker.IsDegraded(err) {
//	    return errServiceDegraded
//	}
//	log.Info("transcribed", "provider", res.Provider)
func Run[T any](ctx context.Context, e *Executor, capability string, candidates []Candidate[T]) (Result[T], error) {
	ctx, span := executorTracer.Start(ctx, "breaker.Run",
		trace.WithAttributes(
			attribute.String("capability", capability),
			attribute.Int("candidates", len(candidates)),
		),
	)
	defer span.End()

	var (
		zero     Result[T]
		attempts int
		skipped  int
		lastErr  error
	)

	for _, c := range candidates {
		key := BreakerKey(capability, c.Name)

		if e.registry.IsOpen(key) {
			skipped++
			e.metrics.RecordProviderAttempt(capability, c.Name, observability.OutcomeSkipped)
			e.logger.Debug("provider skipped, breaker open",
				"capability", capability,
				"provider", c.Name)
			continue
		}

		attempts++
		value, err := c.Call(ctx)
		if err == nil {
			e.registry.RecordSuccess(key)
			e.metrics.RecordProviderAttempt(capability, c.Name, observability.OutcomeSuccess)
			span.SetAttributes(
				attribute.String("provider", c.Name),
				attribute.Int("attempts", attempts),
			)
			return Result[T]{Value: value, Provider: c.Name, Attempts: attempts}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, "context cancelled")
			return zero, ctxErr
		}

		lastErr = err
		e.recordFailure(capability, c.Name, key, err)
	}

	exhausted := &ExhaustedError{
		Capability: capability,
		Attempts:   attempts,
		Skipped:    skipped,
		Last:       lastErr,
	}
	reason := "all_failed"
	if attempts == 0 {
		reason = "no_available"
	}
	e.metrics.RecordFailoverExhausted(capability, reason)
	e.logger.Warn("failover exhausted",
		"capability", capability,
		"reason", reason,
		"attempts", attempts,
		"skipped", skipped,
		"error", lastErr)

	span.SetAttributes(attribute.Int("attempts", attempts), attribute.Int("skipped", skipped))
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, reason)
	return zero, exhausted
}

func (e *Executor) recordFailure(capability, provider, key string, err error) {
	threshold := e.policy.FailureThreshold
	cooldown := e.policy.Cooldown
	outcome := observability.OutcomeFailure
	reason := "threshold"

	if e.classify(err) {
		threshold = 1
		cooldown = max(cooldown, e.policy.RateLimitCooldown)
		outcome = observability.OutcomeRateLimited
		reason = "rate_limited"
	}

	e.metrics.RecordProviderAttempt(capability, provider, outcome)
	e.logger.Warn("provider call failed",
		"capability", capability,
		"provider", provider,
		"rate_limited", outcome == observability.OutcomeRateLimited,
		"error", err)

	if !e.registry.RecordFailure(key, threshold, cooldown) {
		return
	}

	e.metrics.RecordBreakerTrip(key, reason)
	e.logger.Warn("breaker opened",
		"key", key,
		"reason", reason,
		"cooldown", cooldown)

	if e.notifier != nil {
		e.notifier.Notify(alerting.Alert{
			Title: "breaker opened",
			Text:  fmt.Sprintf("%s provider %q is paused for %s", capability, provider, cooldown),
			Fields: map[string]string{
				"capability": capability,
				"provider":   provider,
				"reason":     reason,
				"threshold":  strconv.Itoa(threshold),
				"last_error": truncate(err.Error(), 300),
			},
		})
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
