// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot caches the latest version of each project's generated
// document in process memory.
//
// # Description
//
// Every read first asks the origin for the authoritative latest version,
// which is a cheap query. A cached entry is served only when its version
// matches. Misses for the same project are coalesced so N concurrent
// readers after a version bump cause one full origin load, not N.
//
//	GetLatest(p)
//	   │
//	   ├─ origin.LatestVersion(p) ── none ──► Invalidate(p), absent
//	   │
//	   ├─ cached.Version == version ──► hit
//	   │
//	   └─ singleflight(p@version): re-check cache, else origin.LoadLatest(p) ──► Put
//
// Coalescing is per process. Loads for the same project in different
// processes are not coordinated.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/sharedstate/services/coordination/observability"
)

var tracer = otel.Tracer("coordination.snapshot")

// DefaultLoadTimeout bounds one full origin load.
const DefaultLoadTimeout = 30 * time.Second

// Snapshot is one version of a project's generated document.
type Snapshot struct {
	ProjectID int64           `json:"project_id"`
	Version   int64           `json:"version"`
	Status    string          `json:"status"`
	Language  string          `json:"language"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// Origin is the authoritative store of snapshots.
type Origin interface {
	// LatestVersion returns the newest version for projectID without
	// loading content. found is false when the project has no snapshot.
	LatestVersion(ctx context.Context, projectID int64) (version int64, found bool, err error)

	// LoadLatest returns the newest snapshot with content.
	LoadLatest(ctx context.Context, projectID int64) (snap Snapshot, found bool, err error)
}

// Config configures a Cache.
type Config struct {
	// LoadTimeout bounds one full origin load. The load is detached from
	// the caller that started it so other waiters are not failed by that
	// caller's cancellation. Default: 30s.
	LoadTimeout time.Duration
}

// Cache is a read-through, version-validated snapshot cache.
//
// # Thread Safety
//
// Cache is safe for concurrent use.
type Cache struct {
	origin      Origin
	loadTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu      sync.RWMutex
	entries map[int64]Snapshot

	loads singleflight.Group
}

// NewCache creates a Cache over origin.
func NewCache(origin Origin, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		origin:      origin,
		loadTimeout: cfg.LoadTimeout,
		logger:      logger.With("component", "snapshot"),
		metrics:     metrics,
		entries:     make(map[int64]Snapshot),
	}
}

// GetLatest returns the latest snapshot for projectID.
//
// # Description
//
// Never serves an entry whose version differs from the origin's current
// version. Stale entries are resolved by reloading, never reported.
//
// # Inputs
//
//   - ctx: Bounds the version query and the wait for a coalesced load.
//   - projectID: Project to look up.
//
// # Outputs
//
//   - Snapshot: The latest snapshot when found.
//   - bool: False when the project has no snapshot.
//   - error: Origin failures only.
//
// # Example
//
//	snap, found, err := cache.GetLatest(ctx, 42)
//	if err != nil {
//	    return err
//	}
//	if !found {
//	    return errNoDocument
//	}
func (c *Cache) GetLatest(ctx context.Context, projectID int64) (Snapshot, bool, error) {
	ctx, span := tracer.Start(ctx, "snapshot.GetLatest",
		trace.WithAttributes(attribute.Int64("project_id", projectID)),
	)
	defer span.End()

	version, found, err := c.origin.LatestVersion(ctx, projectID)
	if err != nil {
		c.metrics.RecordSnapshotLookup("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, false, fmt.Errorf("reading latest version of project %d: %w", projectID, err)
	}
	if !found {
		c.Invalidate(projectID)
		c.metrics.RecordSnapshotLookup("absent")
		span.SetAttributes(attribute.Bool("found", false))
		return Snapshot{}, false, nil
	}
	span.SetAttributes(attribute.Int64("version", version))

	if snap, ok := c.lookup(projectID, version); ok {
		c.metrics.RecordSnapshotLookup("hit")
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return snap, true, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	// The flight is per observed version. A caller that saw a newer version
	// must not join a load started for an older one.
	ch := c.loads.DoChan(flightKey(projectID, version), func() (any, error) {
		return c.load(context.WithoutCancel(ctx), projectID, version)
	})

	select {
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "context cancelled")
		return Snapshot{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.metrics.RecordSnapshotLookup("error")
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return Snapshot{}, false, res.Err
		}
		if res.Shared {
			c.metrics.RecordSnapshotLookup("shared")
		} else {
			c.metrics.RecordSnapshotLookup("miss")
		}
		out := res.Val.(loadResult)
		span.SetAttributes(attribute.Bool("found", out.found), attribute.Bool("shared", res.Shared))
		return out.snap, out.found, nil
	}
}

type loadResult struct {
	snap  Snapshot
	found bool
}

// load runs inside the singleflight for projectID.
func (c *Cache) load(ctx context.Context, projectID, version int64) (loadResult, error) {
	// Another caller may have filled the cache between our check and the flight.
	if snap, ok := c.lookup(projectID, version); ok {
		return loadResult{snap: snap, found: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "snapshot.load",
		trace.WithAttributes(
			attribute.Int64("project_id", projectID),
			attribute.Int64("version", version),
		),
	)
	defer span.End()

	start := time.Now()
	snap, found, err := c.origin.LoadLatest(ctx, projectID)
	c.metrics.RecordSnapshotLoad(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return loadResult{}, fmt.Errorf("loading snapshot of project %d: %w", projectID, err)
	}
	if !found {
		// Deleted between the version query and the load.
		c.Invalidate(projectID)
		return loadResult{}, nil
	}

	snap.ProjectID = projectID
	c.Put(snap)
	c.logger.Debug("snapshot loaded from origin",
		"project_id", projectID,
		"version", snap.Version,
		"duration", time.Since(start))
	return loadResult{snap: snap, found: true}, nil
}

// Put writes snap into the cache.
//
// # Description
//
// Used as write-through by producers after a successful mutation. An
// entry is never replaced by an older version.
func (c *Cache) Put(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[snap.ProjectID]; ok && cur.Version > snap.Version {
		return
	}
	c.entries[snap.ProjectID] = snap
}



// Invalidate evicts projectID regardless of version.
func (c *Cache) Invalidate(projectID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, projectID)
}

// Peek returns the cached entry for projectID without consulting the origin.
func (c *Cache) Peek(projectID int64) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[projectID]
	return snap, ok
}

// Len returns the number of cached projects.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func flightKey(projectID, version int64) string {
	return strconv.FormatInt(projectID, 10) + "@" + strconv.FormatInt(version, 10)
}

func (c *Cache) lookup(projectID, version int64) (Snapshot, bool) {
	snap, ok := c.Peek(projectID)
	if !ok || snap.Version != version {
		return Snapshot{}, false
	}
	return snap, true
}
