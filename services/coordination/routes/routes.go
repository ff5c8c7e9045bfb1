// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/sharedstate/services/coordination/breaker"
	"github.com/AleutianAI/sharedstate/services/coordination/drafts"
	"github.com/AleutianAI/sharedstate/services/coordination/handlers"
	"github.com/AleutianAI/sharedstate/services/coordination/providers"
	"github.com/AleutianAI/sharedstate/services/coordination/telemetry"
)

// Dependencies are the components the operator surface reads from.
type Dependencies struct {
	Store     handlers.StoreStatus
	Origin    handlers.Pinger
	Documents handlers.DocumentService
	Telemetry *telemetry.Counters
	Drafts    *drafts.Store
	Providers *providers.Set
	Executor  *breaker.Executor
	Gatherer  prometheus.Gatherer
}

// SetupRoutes registers the operator and capability endpoints.
//
//	GET    /health
//	GET    /metrics
//	GET    /v1/projects/:projectId/snapshot
//	PUT    /v1/projects/:projectId/snapshot
//	DELETE /v1/projects/:projectId/snapshot
//	GET    /v1/projects/:projectId/telemetry
//	POST   /v1/projects/:projectId/telemetry
//	PUT    /v1/sessions/:sessionId/draft
//	GET    /v1/sessions/:sessionId/draft
//	DELETE /v1/sessions/:sessionId/draft
//	POST   /v1/completions
//	POST   /v1/transcriptions
//	GET    /v1/breakers
//	DELETE /v1/breakers/:key
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck(deps.Store, deps.Origin))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		projects := v1.Group("/projects/:projectId")
		{
			projects.GET("/snapshot", handlers.GetSnapshot(deps.Documents))
			projects.PUT("/snapshot", handlers.PutSnapshot(deps.Documents))
			projects.DELETE("/snapshot", handlers.DeleteSnapshot(deps.Documents))
			projects.GET("/telemetry", handlers.GetTelemetry(deps.Telemetry))
			projects.POST("/telemetry", handlers.RecordTelemetry(deps.Telemetry))
		}
		sessions := v1.Group("/sessions/:sessionId")
		{
			sessions.PUT("/draft", handlers.PutDraft(deps.Drafts))
			sessions.GET("/draft", handlers.GetDraft(deps.Drafts))
			sessions.DELETE("/draft", handlers.DeleteDraft(deps.Drafts))
		}

		v1.POST("/completions", handlers.Complete(deps.Providers, deps.Executor))
		v1.POST("/transcriptions", handlers.Transcribe(deps.Providers, deps.Executor))

		registry := deps.Executor.Registry()
		breakers := v1.Group("/breakers")
		{
			breakers.GET("", handlers.ListBreakers(registry))
			breakers.DELETE("/:key", handlers.ResetBreaker(registry))
		}
	}
}
