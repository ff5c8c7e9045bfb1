// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/sharedstate/services/coordination/documents"
	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
	"github.com/AleutianAI/sharedstate/services/coordination/telemetry"
)

// SnapshotReader serves the latest document snapshot of a project.
type SnapshotReader interface {
	Latest(ctx context.Context, projectID int64) (snapshot.Snapshot, bool, error)
}

// SnapshotWriter publishes and deletes project documents.
type SnapshotWriter interface {
	Publish(ctx context.Context, projectID int64, draft documents.Draft) (snapshot.Snapshot, error)
	Delete(ctx context.Context, projectID int64) (bool, error)
}

// DocumentService is the full document surface served under /projects.
type DocumentService interface {
	SnapshotReader
	SnapshotWriter
}

// maxDocumentBytes caps one published document body.
const maxDocumentBytes = 4 << 20

// PublishRequest is the body of a snapshot publish.
type PublishRequest struct {
	Status   string          `json:"status"`
	Language string          `json:"language"`
	Content  json.RawMessage `json:"content" binding:"required"`
}

// TelemetryEvent is the body of a telemetry increment.
type TelemetryEvent struct {
	Field  string `json:"field" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

func projectID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("projectId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectId must be a positive integer"})
		return 0, false
	}
	return id, true
}

// GetSnapshot returns the latest snapshot of :projectId.
func GetSnapshot(docs SnapshotReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}

		snap, found, err := docs.Latest(c.Request.Context(), id)
		if err != nil {
			slog.Error("snapshot lookup failed",
				"project_id", id,
				"error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store temporarily unavailable"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no document for project"})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// PutSnapshot publishes the body as the next version of :projectId.
//
// # Outputs
//
//   - 201 with the stored snapshot and its assigned version.
//   - 409 when another worker holds the document lock or the shared
//     store is unavailable. The caller retries later.
//   - 503 when the origin write fails.
func PutSnapshot(docs SnapshotWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentBytes)
		var req PublishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		snap, err := docs.Publish(c.Request.Context(), id, documents.Draft{
			Status:   req.Status,
			Language: req.Language,
			Content:  req.Content,
		})
		if errors.Is(err, documents.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "document is being updated elsewhere, retry later"})
			return
		}
		if err != nil {
			slog.Error("snapshot publish failed",
				"project_id", id,
				"error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store temporarily unavailable"})
			return
		}
		c.JSON(http.StatusCreated, snap)
	}
}

// DeleteSnapshot removes every version of :projectId's document.
func DeleteSnapshot(docs SnapshotWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}

		deleted, err := docs.Delete(c.Request.Context(), id)
		if errors.Is(err, documents.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "document is being updated elsewhere, retry later"})
			return
		}
		if err != nil {
			slog.Error("snapshot delete failed",
				"project_id", id,
				"error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store temporarily unavailable"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "no document for project"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GetTelemetry returns the telemetry report of :projectId.
func GetTelemetry(counters *telemetry.Counters) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, counters.Report(c.Request.Context(), id))
	}
}

// RecordTelemetry adds one event to the counters of :projectId.
func RecordTelemetry(counters *telemetry.Counters) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}

		var ev TelemetryEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !slices.Contains(telemetry.Fields, telemetry.Field(ev.Field)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown telemetry field " + strconv.Quote(ev.Field)})
			return
		}

		counters.Increment(c.Request.Context(), id, telemetry.Field(ev.Field), ev.Amount)
		c.Status(http.StatusAccepted)
	}
}
