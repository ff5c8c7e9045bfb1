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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/sharedstate/services/coordination/breaker"
)

// ListBreakers returns every known breaker of this process.
func ListBreakers(registry *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": registry.Snapshot()})
	}
}

// ResetBreaker closes the breaker named by :key and clears its count.
func ResetBreaker(registry *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		registry.Reset(key)
		slog.Info("breaker reset by operator", "key", key)
		c.Status(http.StatusNoContent)
	}
}
