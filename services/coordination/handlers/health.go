// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers of the coordinator's operator
// surface.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthTimeout bounds the origin ping made by HealthCheck.
const healthTimeout = 2 * time.Second

// StoreStatus reports shared store availability.
type StoreStatus interface {
	Available() bool
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck reports store and origin status.
//
// # Description
//
// The coordinator keeps serving with the shared store down, so a degraded
// store still answers 200 with "store":"unavailable". Only an unreachable
// origin, which every document read depends on, answers 503. origin may be
// nil when the configured origin cannot be pinged.
func HealthCheck(store StoreStatus, origin Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"store":  "available",
			"origin": "ok",
		}
		code := http.StatusOK

		if !store.Available() {
			body["status"] = "degraded"
			body["store"] = "unavailable"
		}

		if origin == nil {
			body["origin"] = "unknown"
		} else {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			if err := origin.Ping(ctx); err != nil {
				body["status"] = "unhealthy"
				body["origin"] = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}

		c.JSON(code, body)
	}
}
