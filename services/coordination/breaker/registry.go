// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker tracks upstream provider health and fails over across
// ordered provider candidates.
//
// # Description
//
// A Registry holds one breaker per resource key in process memory. Breakers
// are never shared between workers and never persisted, so checking one is
// a map lookup under a mutex.
//
// # State Diagram
//
//	CLOSED ──[failures ≥ threshold]──► OPEN ──[open-until elapses]──► CLOSED*
//	   ▲                                                                │
//	   └────────────────────────[success]───────────────────────────────┘
//
//	* failure count is kept; the next failure re-opens immediately.
//
// There is no half-open probe state. The first call after open-until is
// attempted and judged on its own result.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/observability"
)

// State is the externally visible state of one breaker.
type State int

const (
	// StateClosed means calls proceed.
	StateClosed State = iota

	// StateOpen means calls are skipped until OpenUntil.
	StateOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	if s == StateOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// Status is a point-in-time view of one breaker.
type Status struct {
	Key         string    `json:"key"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	OpenUntil   time.Time `json:"open_until,omitzero"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

type entry struct {
	failures    int
	openUntil   time.Time
	lastFailure time.Time
}

// Registry holds per-key breaker state for one process.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	metrics *observability.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now. Used by tests to move time deterministically.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithMetrics reports breaker state transitions.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsOpen reports whether key's breaker is open.
//
// # Description
//
// Returns true iff open-until is set and in the future. An elapsed
// open-until is cleared as a side effect; the failure count is kept.
func (r *Registry) IsOpen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.openUntil.IsZero() {
		return false
	}
	if r.now().Before(e.openUntil) {
		return true
	}

	e.openUntil = time.Time{}
	r.metrics.RecordBreakerState(key, false)
	return false
}

// RecordSuccess closes key's breaker and zeroes its failure count.
func (r *Registry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return
	}
	wasOpen := !e.openUntil.IsZero()
	e.failures = 0
	e.openUntil = time.Time{}
	if wasOpen {
		r.metrics.RecordBreakerState(key, false)
	}
}

// RecordFailure counts one failure against key.
//
// # Description
//
// If the breaker is already open only the last-failure time is updated.
// Otherwise the failure count is incremented and, once it reaches
// threshold, the breaker opens for cooldown.
//
// # Inputs
//
//   - key: Resource key.
//   - threshold: Failures needed to open. Values below 1 are treated as 1.
//   - cooldown: How long the breaker stays open.
//
// # Outputs
//
//   - bool: True if this call opened the breaker.
func (r *Registry) RecordFailure(key string, threshold int, cooldown time.Duration) bool {
	if threshold < 1 {
		threshold = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.lastFailure = now

	if !e.openUntil.IsZero() && now.Before(e.openUntil) {
		return false
	}

	e.failures++
	if e.failures < threshold {
		return false
	}

	e.openUntil = now.Add(cooldown)
	r.metrics.RecordBreakerState(key, true)
	return true
}

// Failures returns key's current consecutive failure count.
func (r *Registry) Failures(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e.failures
	}
	return 0
}

// Reset forgets all state for key.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		delete(r.entries, key)
		r.metrics.RecordBreakerState(key, false)
	}
}

// Snapshot returns the state of every known breaker, sorted by key.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Status, 0, len(r.entries))
	for key, e := range r.entries {
		state := StateClosed
		if !e.openUntil.IsZero() && now.Before(e.openUntil) {
			state = StateOpen
		}
		out = append(out, Status{
			Key:         key,
			State:       state.String(),
			Failures:    e.failures,
			OpenUntil:   e.openUntil,
			LastFailure: e.lastFailure,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
