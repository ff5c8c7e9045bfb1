// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package documents is the write path for generated project documents.
//
// # Description
//
// Every mutation of a project's document runs under the project's
// distributed lock so only one worker at a time produces a new version.
// A successful publish writes the new snapshot straight into the local
// snapshot cache; deleting a project evicts it. Reads never take the lock
// and rely on the cache's version validation instead.
//
//	Publish:  lock(document, p) → origin.Save → cache.Put → unlock
//	Delete:   lock(document, p) → origin.Delete → cache.Invalidate → unlock
//	Latest:   cache.GetLatest
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/lock"
	"github.com/AleutianAI/sharedstate/services/coordination/origin"
	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
)

// LockNamespace is the lock namespace for project documents.
const LockNamespace = "document"

// ErrBusy is returned when another worker holds the project's document
// lock or the shared store is unavailable. Callers retry later or skip.
var ErrBusy = errors.New("document is being updated elsewhere")

// Draft is the input of one publish.
type Draft struct {
	Status   string
	Language string
	Content  []byte
}

// Service publishes and serves project documents.
//
// # Thread Safety
//
// Service is safe for concurrent use.
type Service struct {
	locker  *lock.Locker
	repo    origin.Repository
	cache   *snapshot.Cache
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewService creates a Service.
//
// # Inputs
//
//   - locker: Distributed lock used around every publish.
//   - repo: Authoritative snapshot store.
//   - cache: Snapshot cache reading from repo.
//   - lockTTL: Lock lifetime. Non-positive uses the locker's default.
//   - logger: nil uses slog.Default().
func NewService(locker *lock.Locker, repo origin.Repository, cache *snapshot.Cache, lockTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		locker:  locker,
		repo:    repo,
		cache:   cache,
		lockTTL: lockTTL,
		logger:  logger.With("component", "documents"),
	}
}

// Publish stores draft as the next version of projectID's document.
//
// # Outputs
//
//   - snapshot.Snapshot: The stored snapshot with its assigned version.
//   - error: ErrBusy if the lock could not be taken, otherwise origin errors.
//
// # Example
//
//	snap, err := docs.Publish(ctx, 42, documents.Draft{Status: "refined", Content: body})
//	if errors.Is(err, documents.ErrBusy) {
//	    return nil // another worker is publishing, it will win
//	}
func (s *Service) Publish(ctx context.Context, projectID int64, draft Draft) (snapshot.Snapshot, error) {
	var saved snapshot.Snapshot

	err := s.locker.WithLock(ctx, LockNamespace, strconv.FormatInt(projectID, 10), s.lockTTL, func(ctx context.Context) error {
		snap, err := s.repo.Save(ctx, snapshot.Snapshot{
			ProjectID: projectID,
			Status:    draft.Status,
			Language:  draft.Language,
			Content:   draft.Content,
		})
		if err != nil {
			return err
		}
		s.cache.Put(snap)
		saved = snap
		return nil
	})

	if errors.Is(err, lock.ErrNotAcquired) {
		s.logger.Info("publish skipped, document lock busy",
			"project_id", projectID)
		return snapshot.Snapshot{}, fmt.Errorf("publish project %d: %w", projectID, ErrBusy)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("publish project %d: %w", projectID, err)
	}

	s.logger.Info("document published",
		"project_id", projectID,
		"version", saved.Version,
		"status", saved.Status)
	return saved, nil
}

// Delete removes every version of projectID's document and evicts it from
// the cache, under the same lock as Publish. The eviction happens even
// when the origin delete fails.
//
// # Outputs
//
//   - bool: True when at least one version was removed.
//   - error: ErrBusy if the lock could not be taken, otherwise origin errors.
func (s *Service) Delete(ctx context.Context, projectID int64) (bool, error) {
	var deleted bool

	err := s.locker.WithLock(ctx, LockNamespace, strconv.FormatInt(projectID, 10), s.lockTTL, func(ctx context.Context) error {
		defer s.cache.Invalidate(projectID)

		var err error
		deleted, err = s.repo.Delete(ctx, projectID)
		return err
	})

	if errors.Is(err, lock.ErrNotAcquired) {
		s.logger.Info("delete skipped, document lock busy",
			"project_id", projectID)
		return false, fmt.Errorf("delete project %d: %w", projectID, ErrBusy)
	}
	if err != nil {
		return false, fmt.Errorf("delete project %d: %w", projectID, err)
	}
	if deleted {
		s.logger.Info("document deleted",
			"project_id", projectID)
	}
	return deleted, nil
}

// Latest returns the latest document of projectID through the cache.
func (s *Service) Latest(ctx context.Context, projectID int64) (snapshot.Snapshot, bool, error) {
	return s.cache.GetLatest(ctx, projectID)
}
