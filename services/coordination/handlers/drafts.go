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
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/sharedstate/services/coordination/drafts"
)

// maxDraftBytes caps one session draft.
const maxDraftBytes = 1 << 20

// PutDraft stores the JSON body as the draft of :sessionId. A store outage
// is reported as "stored": false, not as an error.
func PutDraft(store *drafts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDraftBytes+1))
		if err != nil || len(body) > maxDraftBytes || !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON document of at most 1 MiB"})
			return
		}

		stored, err := store.Save(c.Request.Context(), c.Param("sessionId"), json.RawMessage(body))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"stored": stored})
	}
}

// GetDraft returns the draft of :sessionId.
func GetDraft(store *drafts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var draft json.RawMessage
		found, err := store.Load(c.Request.Context(), c.Param("sessionId"), &draft)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no draft for session"})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", draft)
	}
}

// DeleteDraft removes the draft of :sessionId.
func DeleteDraft(store *drafts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		store.Delete(c.Request.Context(), c.Param("sessionId"))
		c.Status(http.StatusNoContent)
	}
}
