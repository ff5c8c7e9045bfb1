// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package origin holds the authoritative, versioned document snapshots that
// the snapshot cache validates against.
//
// Two backends are provided:
//
//   - Postgres: shared by all workers; the production origin.
//   - Badger: embedded, for single-node deployments and tests.
//
// Versions per project start at 1 and increase on each Save. A version is
// never assigned twice, even after Delete, so a cache holding a deleted
// version can never match a republished one.
package origin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/sharedstate/services/coordination/config"
	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
)

// Repository is a snapshot origin that can also be written.
type Repository interface {
	snapshot.Origin

	// Save stores snap as the next version of snap.ProjectID. The version
	// and creation time are assigned by the repository and returned.
	Save(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error)

	// Delete removes every version of projectID. It reports whether
	// anything was deleted. The version counter is kept.
	Delete(ctx context.Context, projectID int64) (bool, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection or database.
	Close() error
}

// Open builds the Repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.OriginConfig, logger *slog.Logger) (Repository, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := NewPostgres(ctx, PostgresConfig{
			DSN:                cfg.DSN,
			SchemaName:         cfg.SchemaName,
			SkipSchemaCreation: cfg.SkipSchemaCreation,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "badger", "":
		bcfg := DefaultBadgerConfig()
		if cfg.BadgerDir == "" {
			bcfg = InMemoryBadgerConfig()
		} else {
			bcfg.Path = cfg.BadgerDir
		}
		bcfg.Logger = logger
		db, err := OpenBadger(bcfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown origin driver %q", cfg.Driver)
	}
}
