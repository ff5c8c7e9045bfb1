// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package origin

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
)

// BadgerConfig configures an embedded Badger origin.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every commit. Default: true.
	SyncWrites bool

	// Logger receives Badger's internal logs. nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	// Default: 5 minutes.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns defaults for an on-disk origin.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a config for tests and ephemeral nodes.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a Repository backed by an embedded Badger database.
//
// # Key Layout
//
//	snap/<project:016x>/latest          → version (uint64 big endian)
//	snap/<project:016x>/v/<version:016x> → JSON snapshot
//	seq/<project:016x>                  → highest version ever assigned
//
// Delete removes the snap/ keys only. The seq/ key survives so a
// republished project continues numbering above every deleted version.
//
// # Thread Safety
//
// Badger is safe for concurrent use. Writes are serialized in process.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger

	writeMu sync.Mutex

	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger origin: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "origin.badger")})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger origin: %w", err)
	}

	b := &Badger{
		db:     db,
		logger: logger.With("component", "origin.badger"),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		go b.runGC(cfg.GCInterval, ratio)
	}
	return b, nil
}

// LatestVersion implements snapshot.Origin.
func (b *Badger) LatestVersion(ctx context.Context, projectID int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	var version int64
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		v, ok, err := readLatest(txn, projectID)
		version, found = v, ok
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("badger origin: latest version of %d: %w", projectID, err)
	}
	return version, found, nil
}

// LoadLatest implements snapshot.Origin.
func (b *Badger) LoadLatest(ctx context.Context, projectID int64) (snapshot.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, false, err
	}

	var snap snapshot.Snapshot
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		version, ok, err := readLatest(txn, projectID)
		if err != nil || !ok {
			return err
		}
		item, err := txn.Get(versionKey(projectID, version))
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("badger origin: load %d: %w", projectID, err)
	}
	return snap, found, nil
}

// Save implements Repository.
func (b *Badger) Save(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		current, _, err := readLatest(txn, snap.ProjectID)
		if err != nil {
			return err
		}
		assigned, err := readVersion(txn, seqKey(snap.ProjectID))
		if err != nil {
			return err
		}
		snap.Version = max(current, assigned) + 1
		snap.CreatedAt = time.Now().UTC()

		payload, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if err := txn.Set(versionKey(snap.ProjectID, snap.Version), payload); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(snap.Version))
		if err := txn.Set(seqKey(snap.ProjectID), buf[:]); err != nil {
			return err
		}
		return txn.Set(latestKey(snap.ProjectID), buf[:])
	})
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("badger origin: save %d: %w", snap.ProjectID, err)
	}
	return snap, nil
}

// Delete implements Repository.
func (b *Badger) Delete(ctx context.Context, projectID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	prefix := projectPrefix(projectID)
	deleted := false
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		var keys [][]byte
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys) > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger origin: delete %d: %w", projectID, err)
	}
	return deleted, nil
}

// Ping reports whether the database is still open.
func (b *Badger) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return errors.New("badger origin: database is closed")
	}
	return nil
}

// Close stops value log GC and closes the database.
func (b *Badger) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.gcDone
		b.stopGC = nil
	}
	return b.db.Close()
}

func (b *Badger) runGC(interval time.Duration, ratio float64) {
	defer close(b.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}

// ===== Keys =====

func projectPrefix(projectID int64) []byte {
	return []byte(fmt.Sprintf("snap/%016x/", uint64(projectID)))
}

func latestKey(projectID int64) []byte {
	return append(projectPrefix(projectID), "latest"...)
}

func versionKey(projectID, version int64) []byte {
	return append(projectPrefix(projectID), fmt.Sprintf("v/%016x", uint64(version))...)
}

func seqKey(projectID int64) []byte {
	return []byte(fmt.Sprintf("seq/%016x", uint64(projectID)))
}

func readLatest(txn *badger.Txn, projectID int64) (int64, bool, error) {
	item, err := txn.Get(latestKey(projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	version, err := decodeVersion(item)
	return version, err == nil, err
}

// readVersion returns the version stored at key, or 0 when it is unset.
func readVersion(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeVersion(item)
}

func decodeVersion(item *badger.Item) (int64, error) {
	var version int64
	err := item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt version at %q", item.Key())
		}
		version = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return version, err
}
