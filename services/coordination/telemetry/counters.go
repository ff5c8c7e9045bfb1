// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry records interview-quality counters per project in the
// shared store and derives rates from them.
//
// # Description
//
// Counters for one project live in one hash. Every increment is a HINCRBY
// followed by an EXPIRE in the same transaction, so active projects keep
// their telemetry and abandoned ones age out.
//
// Telemetry is best-effort. With the store unavailable, writes are dropped
// and reads report zeros; no method returns an error.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/sharedstate/services/coordination/keyspace"
	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/AleutianAI/sharedstate/services/coordination/store"
)

// DefaultTTL is used when NewCounters is given a non-positive ttl.
const DefaultTTL = 30 * 24 * time.Hour

// Field names one counter in a project's hash.
type Field string

const (
	GapsDetected           Field = "gaps_detected"
	GapsResolved           Field = "gaps_resolved"
	ContradictionsDetected Field = "contradictions_detected"
	ContradictionsCaught   Field = "contradictions_caught"
	SuggestionsOffered     Field = "suggestions_offered"
	SuggestionsAccepted    Field = "suggestions_accepted"
)

// Fields lists every known counter in report order.
var Fields = []Field{
	GapsDetected,
	GapsResolved,
	ContradictionsDetected,
	ContradictionsCaught,
	SuggestionsOffered,
	SuggestionsAccepted,
}

// Counters reads and writes per-project counters.
//
// # Thread Safety
//
// Counters is safe for concurrent use.
type Counters struct {
	client  *store.Client
	keys    keyspace.Builder
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCounters creates Counters.
func NewCounters(client *store.Client, keys keyspace.Builder, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Counters {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counters{
		client:  client,
		keys:    keys,
		ttl:     ttl,
		logger:  logger.With("component", "telemetry"),
		metrics: metrics,
	}
}

// Increment adds amount to field of projectID and refreshes the hash TTL.
//
// # Description
//
// Counters never decrease, so amount <= 0 is ignored. Store failures are
// logged and swallowed.
func (c *Counters) Increment(ctx context.Context, projectID int64, field Field, amount int64) {
	if amount <= 0 || field == "" {
		return
	}

	rdb, ok := c.client.Redis()
	if !ok {
		c.metrics.RecordTelemetry("increment", true)
		return
	}

	key := c.keys.Telemetry(projectID)
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, string(field), amount)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.metrics.RecordTelemetry("increment", true)
		c.logger.Warn("telemetry increment dropped",
			"project_id", projectID,
			"field", string(field),
			"error", err)
		return
	}
	c.metrics.RecordTelemetry("increment", false)
}

// GetAll returns every counter of projectID.
//
// # Outputs
//
//   - map[Field]int64: Known fields are always present, zero when unset.
//   - bool: False when the store was unavailable and the zeros are not real.
func (c *Counters) GetAll(ctx context.Context, projectID int64) (map[Field]int64, bool) {
	out := make(map[Field]int64, len(Fields))
	for _, f := range Fields {
		out[f] = 0
	}

	rdb, ok := c.client.Redis()
	if !ok {
		c.metrics.RecordTelemetry("read", true)
		return out, false
	}

	raw, err := rdb.HGetAll(ctx, c.keys.Telemetry(projectID)).Result()
	if err != nil {
		c.metrics.RecordTelemetry("read", true)
		c.logger.Warn("telemetry read failed, reporting zeros",
			"project_id", projectID,
			"error", err)
		return out, false
	}

	for name, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			continue
		}
		out[Field(name)] = n
	}
	c.metrics.RecordTelemetry("read", false)
	return out, true
}

// Report is the derived view of one project's counters.
type Report struct {
	ProjectID      int64           `json:"project_id"`
	Counts         map[Field]int64 `json:"counts"`
	ResolutionRate float64         `json:"resolution_rate"`
	CatchRate      float64         `json:"catch_rate"`
	AcceptanceRate float64         `json:"acceptance_rate"`
	Available      bool            `json:"available"`
}

// Report reads projectID's counters and derives its rates.
func (c *Counters) Report(ctx context.Context, projectID int64) Report {
	counts, available := c.GetAll(ctx, projectID)
	return Report{
		ProjectID:      projectID,
		Counts:         counts,
		ResolutionRate: Rate(counts[GapsResolved], counts[GapsDetected]),
		CatchRate:      Rate(counts[ContradictionsCaught], counts[ContradictionsDetected]),
		AcceptanceRate: Rate(counts[SuggestionsAccepted], counts[SuggestionsOffered]),
		Available:      available,
	}
}

// Rate returns numerator/denominator, or 0 when denominator is not positive.
func Rate(numerator, denominator int64) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}
