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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
)

const (
	// DefaultSchemaName is used when PostgresConfig.SchemaName is empty.
	DefaultSchemaName = "coordination"

	tableName        = "document_snapshots"
	versionTableName = "document_versions"
)

// PostgresConfig configures the Postgres origin.
type PostgresConfig struct {
	// DSN is a lib/pq connection string or postgres:// URL.
	DSN string

	// SchemaName holds the snapshot table. Default: "coordination".
	SchemaName string

	// SkipSchemaCreation leaves schema and table management to migrations.
	SkipSchemaCreation bool

	// MaxOpenConns caps the pool. Default: 10.
	MaxOpenConns int
}

// Postgres is a Repository backed by a Postgres table.
//
// # Schema
//
//	CREATE TABLE <schema>.document_snapshots (
//	    project_id bigint      NOT NULL,
//	    version    bigint      NOT NULL,
//	    status     text        NOT NULL DEFAULT '',
//	    language   text        NOT NULL DEFAULT '',
//	    content    jsonb       NOT NULL,
//	    created_at timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (project_id, version)
//	)
//
//	CREATE TABLE <schema>.document_versions (
//	    project_id   bigint PRIMARY KEY,
//	    last_version bigint NOT NULL
//	)
//
// LatestVersion is an index-only max() over the primary key.
// document_versions holds the highest version ever assigned per project.
// Delete leaves it in place so numbering never restarts.
//
// # Thread Safety
//
// Postgres is safe for concurrent use.
type Postgres struct {
	db       *sql.DB
	table    string
	versions string
	logger   *slog.Logger
}

// NewPostgres connects, pings, and unless told otherwise creates the schema
// and table.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres origin: DSN is required")
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = DefaultSchemaName
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres origin: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres origin: ping: %w", err)
	}

	p := &Postgres{
		db:       db,
		table:    pq.QuoteIdentifier(cfg.SchemaName) + "." + pq.QuoteIdentifier(tableName),
		versions: pq.QuoteIdentifier(cfg.SchemaName) + "." + pq.QuoteIdentifier(versionTableName),
		logger:   logger.With("component", "origin.postgres"),
	}

	if !cfg.SkipSchemaCreation {
		if err := p.createSchema(ctx, cfg.SchemaName); err != nil {
			db.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Postgres) createSchema(ctx context.Context, schemaName string) error {
	var count int
	query := `select count(1) from information_schema.schemata where schema_name = $1`
	if err := p.db.QueryRowContext(ctx, query, schemaName).Scan(&count); err != nil {
		return fmt.Errorf("postgres origin: inspect schema: %w", err)
	}
	if count < 1 {
		query = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(schemaName))
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres origin: create schema: %w", err)
		}
	}

	query = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		project_id bigint NOT NULL,
		version bigint NOT NULL,
		status text NOT NULL DEFAULT '',
		language text NOT NULL DEFAULT '',
		content jsonb NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, version)
		)`, p.table)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres origin: create table: %w", err)
	}

	query = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		project_id bigint PRIMARY KEY,
		last_version bigint NOT NULL
		)`, p.versions)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres origin: create version table: %w", err)
	}
	return nil
}

// LatestVersion implements snapshot.Origin.
func (p *Postgres) LatestVersion(ctx context.Context, projectID int64) (int64, bool, error) {
	var version sql.NullInt64
	query := fmt.Sprintf(`SELECT max(version) FROM %s WHERE project_id = $1`, p.table)
	if err := p.db.QueryRowContext(ctx, query, projectID).Scan(&version); err != nil {
		return 0, false, fmt.Errorf("postgres origin: latest version of %d: %w", projectID, err)
	}
	return version.Int64, version.Valid, nil
}

// LoadLatest implements snapshot.Origin.
func (p *Postgres) LoadLatest(ctx context.Context, projectID int64) (snapshot.Snapshot, bool, error) {
	snap := snapshot.Snapshot{ProjectID: projectID}
	var content []byte

	query := fmt.Sprintf(`SELECT version, status, language, content, created_at
		FROM %s WHERE project_id = $1 ORDER BY version DESC LIMIT 1`, p.table)
	err := p.db.QueryRowContext(ctx, query, projectID).
		Scan(&snap.Version, &snap.Status, &snap.Language, &content, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, false, nil
	}
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("postgres origin: load %d: %w", projectID, err)
	}
	snap.Content = content
	return snap, true, nil
}

// Save implements Repository.
//
// # Description
//
// The project's row in document_versions is bumped and the snapshot is
// inserted in one transaction. The row lock serializes concurrent writers
// on one project. A project without a counter row starts above any
// snapshot already in the table.
func (p *Postgres) Save(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	content := string(snap.Content)
	if content == "" {
		content = "null"
	}

	nextVersion := fmt.Sprintf(`INSERT INTO %[1]s AS v (project_id, last_version)
		VALUES ($1, (SELECT COALESCE(max(version), 0) + 1 FROM %[2]s WHERE project_id = $1))
		ON CONFLICT (project_id) DO UPDATE SET last_version = v.last_version + 1
		RETURNING last_version`, p.versions, p.table)
	insert := fmt.Sprintf(`INSERT INTO %s (project_id, version, status, language, content)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at`, p.table)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("postgres origin: save %d: begin: %w", snap.ProjectID, err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, nextVersion, snap.ProjectID).Scan(&snap.Version); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("postgres origin: save %d: next version: %w", snap.ProjectID, err)
	}
	err = tx.QueryRowContext(ctx, insert, snap.ProjectID, snap.Version, snap.Status, snap.Language, content).
		Scan(&snap.CreatedAt)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("postgres origin: save %d: %w", snap.ProjectID, err)
	}
	if err := tx.Commit(); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("postgres origin: save %d: commit: %w", snap.ProjectID, err)
	}
	return snap, nil
}

// Delete implements Repository.
func (p *Postgres) Delete(ctx context.Context, projectID int64) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1`, p.table)
	res, err := p.db.ExecContext(ctx, query, projectID)
	if err != nil {
		return false, fmt.Errorf("postgres origin: delete %d: %w", projectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres origin: delete %d: %w", projectID, err)
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
