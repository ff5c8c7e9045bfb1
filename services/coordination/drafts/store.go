// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drafts keeps short-lived per-session state, such as the coverage
// progress of a live conversation, in the shared store so any worker can
// pick the session up.
//
// Drafts expire after the configured TTL and every Save refreshes it. With
// the store unavailable a draft behaves as if it was never written.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/sharedstate/services/coordination/keyspace"
	"github.com/AleutianAI/sharedstate/services/coordination/store"
)

// DefaultTTL is used when NewStore is given a non-positive ttl.
const DefaultTTL = 24 * time.Hour

// ErrEmptySession is returned for an empty session id.
var ErrEmptySession = errors.New("drafts: empty session id")

// Store saves and loads JSON drafts keyed by session id.
type Store struct {
	client *store.Client
	keys   keyspace.Builder
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(client *store.Client, keys keyspace.Builder, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		keys:   keys,
		ttl:    ttl,
		logger: logger.With("component", "drafts"),
	}
}

// Save stores v as the draft of sessionID.
//
// # Outputs
//
//   - bool: True if the draft reached the store.
//   - error: Non-nil only for an empty session id or a value that does not
//     encode. Store failures are logged and reported as false.
func (s *Store) Save(ctx context.Context, sessionID string, v any) (bool, error) {
	if sessionID == "" {
		return false, ErrEmptySession
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("drafts: encode session %s: %w", sessionID, err)
	}

	rdb, ok := s.client.Redis()
	if !ok {
		return false, nil
	}
	if err := rdb.Set(ctx, s.keys.Draft(sessionID), payload, s.ttl).Err(); err != nil {
		s.logger.Warn("draft save dropped",
			"session_id", sessionID,
			"error", err)
		return false, nil
	}
	return true, nil
}

// Load decodes the draft of sessionID into out.
//
// # Outputs
//
//   - bool: False when there is no draft, it expired, or the store is
//     unavailable.
//   - error: Non-nil only when a stored draft does not decode into out.
func (s *Store) Load(ctx context.Context, sessionID string, out any) (bool, error) {
	if sessionID == "" {
		return false, ErrEmptySession
	}
	rdb, ok := s.client.Redis()
	if !ok {
		return false, nil
	}

	payload, err := rdb.Get(ctx, s.keys.Draft(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("draft load failed, treating as missing",
			"session_id", sessionID,
			"error", err)
		return false, nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("drafts: decode session %s: %w", sessionID, err)
	}
	return true, nil
}

// Delete removes the draft of sessionID. Missing drafts and store failures
// are not errors.
func (s *Store) Delete(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	rdb, ok := s.client.Redis()
	if !ok {
		return
	}
	if err := rdb.Del(ctx, s.keys.Draft(sessionID)).Err(); err != nil {
		s.logger.Warn("draft delete failed",
			"session_id", sessionID,
			"error", err)
	}
}
