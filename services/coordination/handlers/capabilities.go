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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/sharedstate/services/coordination/breaker"
	"github.com/AleutianAI/sharedstate/services/coordination/providers"
)

// maxAudioBytes caps uploaded audio, matching the common upstream limit.
const maxAudioBytes = 25 << 20

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Messages []openai.ChatCompletionMessage `json:"messages" binding:"required,min=1"`
}

// CapabilityResponse is returned by every failover-backed endpoint.
type CapabilityResponse struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Attempts int    `json:"attempts"`
}

// respondDegraded maps a failover error to a response. Both exhaustion
// conditions are 503 for the caller; the reason tells them apart.
func respondDegraded(c *gin.Context, capability string, err error) {
	reason := "error"
	switch {
	case errors.Is(err, breaker.ErrNoAvailableProviders):
		reason = "no_available_providers"
	case errors.Is(err, breaker.ErrAllProvidersFailed):
		reason = "all_providers_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "cancelled"
	}
	slog.Warn("capability degraded",
		"capability", capability,
		"reason", reason,
		"error", err)
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":  "service temporarily degraded, try later",
		"reason": reason,
	})
}

// Complete runs a chat completion across the configured providers.
func Complete(set *providers.Set, exec *breaker.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CompletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := set.Complete(c.Request.Context(), exec, req.Messages)
		if err != nil {
			respondDegraded(c, providers.CapabilityCompletion, err)
			return
		}
		c.JSON(http.StatusOK, CapabilityResponse{Text: res.Value, Provider: res.Provider, Attempts: res.Attempts})
	}
}

// Transcribe transcribes the multipart "file" field across the configured
// providers. Optional form fields: "language", "prompt".
func Transcribe(set *providers.Set, exec *breaker.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
			return
		}
		if fh.Size > maxAudioBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxAudioBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(data) > maxAudioBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
			return
		}

		res, err := set.Transcribe(c.Request.Context(), exec, providers.AudioInput{
			FileName: fh.Filename,
			Data:     data,
			Language: c.PostForm("language"),
			Prompt:   c.PostForm("prompt"),
		})
		if err != nil {
			respondDegraded(c, providers.CapabilityTranscription, err)
			return
		}
		c.JSON(http.StatusOK, CapabilityResponse{Text: res.Value, Provider: res.Provider, Attempts: res.Attempts})
	}
}
