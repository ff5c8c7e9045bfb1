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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sharedstate/services/coordination/breaker"
	"github.com/AleutianAI/sharedstate/services/coordination/config"
	"github.com/AleutianAI/sharedstate/services/coordination/documents"
	"github.com/AleutianAI/sharedstate/services/coordination/drafts"
	"github.com/AleutianAI/sharedstate/services/coordination/keyspace"
	"github.com/AleutianAI/sharedstate/services/coordination/providers"
	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
	"github.com/AleutianAI/sharedstate/services/coordination/store/storetest"
	"github.com/AleutianAI/sharedstate/services/coordination/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct{ available bool }

func (f fakeStore) Available() bool { return f.available }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeDocs struct {
	snap  snapshot.Snapshot
	found bool
	err   error

	deleted bool
}

func (f fakeDocs) Latest(context.Context, int64) (snapshot.Snapshot, bool, error) {
	return f.snap, f.found, f.err
}

func (f fakeDocs) Publish(_ context.Context, projectID int64, draft documents.Draft) (snapshot.Snapshot, error) {
	if f.err != nil {
		return snapshot.Snapshot{}, f.err
	}
	return snapshot.Snapshot{
		ProjectID: projectID,
		Version:   f.snap.Version + 1,
		Status:    draft.Status,
		Language:  draft.Language,
		Content:   draft.Content,
	}, nil
}

func (f fakeDocs) Delete(context.Context, int64) (bool, error) {
	return f.deleted, f.err
}

func createTestRouter(method, path string, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Handle(method, path, handler)
	return router
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}
	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// =============================================================================
// Health
// =============================================================================

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		store      bool
		origin     Pinger
		wantCode   int
		wantStatus string
		wantStore  string
		wantOrigin string
	}{
		{"healthy", true, fakePinger{}, http.StatusOK, "ok", "available", "ok"},
		{"store down is degraded but 200", false, fakePinger{}, http.StatusOK, "degraded", "unavailable", "ok"},
		{"origin down is 503", true, fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable, "unhealthy", "available", "unavailable"},
		{"no pinger", true, nil, http.StatusOK, "ok", "available", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter("GET", "/health", HealthCheck(fakeStore{tt.store}, tt.origin))
			w := performRequest(router, "GET", "/health", nil)

			assert.Equal(t, tt.wantCode, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantStore, body["store"])
			assert.Equal(t, tt.wantOrigin, body["origin"])
		})
	}
}

// =============================================================================
// Snapshots
// =============================================================================

func TestGetSnapshot(t *testing.T) {
	snap := snapshot.Snapshot{ProjectID: 42, Version: 3, Status: "refined", Content: json.RawMessage(`{"a":1}`)}

	tests := []struct {
		name     string
		path     string
		docs     fakeDocs
		wantCode int
	}{
		{"found", "/v1/projects/42/snapshot", fakeDocs{snap: snap, found: true}, http.StatusOK},
		{"absent", "/v1/projects/42/snapshot", fakeDocs{}, http.StatusNotFound},
		{"origin error", "/v1/projects/42/snapshot", fakeDocs{err: errors.New("down")}, http.StatusServiceUnavailable},
		{"bad id", "/v1/projects/abc/snapshot", fakeDocs{}, http.StatusBadRequest},
		{"non-positive id", "/v1/projects/0/snapshot", fakeDocs{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter("GET", "/v1/projects/:projectId/snapshot", GetSnapshot(tt.docs))
			w := performRequest(router, "GET", tt.path, nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	router := createTestRouter("GET", "/v1/projects/:projectId/snapshot", GetSnapshot(fakeDocs{snap: snap, found: true}))
	body := decode(t, performRequest(router, "GET", "/v1/projects/42/snapshot", nil))
	assert.Equal(t, float64(3), body["version"])
	assert.Equal(t, map[string]any{"a": float64(1)}, body["content"])
}

func TestPutSnapshot(t *testing.T) {
	busy := fmt.Errorf("publish project 42: %w", documents.ErrBusy)
	body := map[string]any{"status": "refined", "language": "en", "content": map[string]any{"a": 1}}

	tests := []struct {
		name     string
		path     string
		body     any
		docs     fakeDocs
		wantCode int
	}{
		{"published", "/v1/projects/42/snapshot", body, fakeDocs{snap: snapshot.Snapshot{Version: 2}}, http.StatusCreated},
		{"lock busy", "/v1/projects/42/snapshot", body, fakeDocs{err: busy}, http.StatusConflict},
		{"origin error", "/v1/projects/42/snapshot", body, fakeDocs{err: errors.New("down")}, http.StatusServiceUnavailable},
		{"missing content", "/v1/projects/42/snapshot", map[string]any{"status": "refined"}, fakeDocs{}, http.StatusBadRequest},
		{"bad id", "/v1/projects/abc/snapshot", body, fakeDocs{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter("PUT", "/v1/projects/:projectId/snapshot", PutSnapshot(tt.docs))
			w := performRequest(router, "PUT", tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	router := createTestRouter("PUT", "/v1/projects/:projectId/snapshot", PutSnapshot(fakeDocs{snap: snapshot.Snapshot{Version: 2}}))
	out := decode(t, performRequest(router, "PUT", "/v1/projects/42/snapshot", body))
	assert.Equal(t, float64(3), out["version"])
	assert.Equal(t, "refined", out["status"])
	assert.Equal(t, map[string]any{"a": float64(1)}, out["content"])
}

func TestDeleteSnapshot(t *testing.T) {
	busy := fmt.Errorf("delete project 42: %w", documents.ErrBusy)

	tests := []struct {
		name     string
		docs     fakeDocs
		wantCode int
	}{
		{"deleted", fakeDocs{deleted: true}, http.StatusNoContent},
		{"absent", fakeDocs{}, http.StatusNotFound},
		{"lock busy", fakeDocs{err: busy}, http.StatusConflict},
		{"origin error", fakeDocs{err: errors.New("down")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter("DELETE", "/v1/projects/:projectId/snapshot", DeleteSnapshot(tt.docs))
			w := performRequest(router, "DELETE", "/v1/projects/42/snapshot", nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

// =============================================================================
// Telemetry
// =============================================================================

func TestTelemetryEndpoints(t *testing.T) {
	client, _ := storetest.New(t)
	counters := telemetry.NewCounters(client, keyspace.New("test"), time.Hour, nil, nil)

	router := gin.New()
	router.GET("/v1/projects/:projectId/telemetry", GetTelemetry(counters))
	router.POST("/v1/projects/:projectId/telemetry", RecordTelemetry(counters))

	w := performRequest(router, "POST", "/v1/projects/7/telemetry", TelemetryEvent{Field: "gaps_detected", Amount: 4})
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = performRequest(router, "POST", "/v1/projects/7/telemetry", TelemetryEvent{Field: "gaps_resolved", Amount: 1})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = performRequest(router, "POST", "/v1/projects/7/telemetry", TelemetryEvent{Field: "mood", Amount: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = performRequest(router, "POST", "/v1/projects/7/telemetry", TelemetryEvent{Field: "gaps_detected", Amount: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, "GET", "/v1/projects/7/telemetry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 0.25, body["resolution_rate"])
	assert.Equal(t, true, body["available"])
}

// =============================================================================
// Breakers
// =============================================================================

func TestBreakerEndpoints(t *testing.T) {
	registry := breaker.NewRegistry()
	registry.RecordFailure("completion:primary", 1, time.Minute)

	router := gin.New()
	router.GET("/v1/breakers", ListBreakers(registry))
	router.DELETE("/v1/breakers/:key", ResetBreaker(registry))

	w := performRequest(router, "GET", "/v1/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	list, ok := body["breakers"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "OPEN", list[0].(map[string]any)["state"])

	w = performRequest(router, "DELETE", "/v1/breakers/completion:primary", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, registry.IsOpen("completion:primary"))

	body = decode(t, performRequest(router, "GET", "/v1/breakers", nil))
	assert.Empty(t, body["breakers"])
}

// =============================================================================
// Capabilities
// =============================================================================

func newProviderSet(t *testing.T, status int, body string) *providers.Set {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return providers.NewSet([]config.ProviderConfig{{
		Name:      "primary",
		BaseURL:   srv.URL + "/v1",
		APIKeyEnv: "PRIMARY_KEY",
		ChatModel: "chat-model",
	}}, func(string) string { return "sk-test" }, nil)
}

func TestComplete(t *testing.T) {
	okBody := `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`
	messages := CompletionRequest{Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}}}

	t.Run("success", func(t *testing.T) {
		exec := breaker.NewExecutor(breaker.NewRegistry(), breaker.Policy{}, nil, nil, nil)
		router := createTestRouter("POST", "/v1/completions", Complete(newProviderSet(t, http.StatusOK, okBody), exec))

		w := performRequest(router, "POST", "/v1/completions", messages)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "hello", body["text"])
		assert.Equal(t, "primary", body["provider"])
	})

	t.Run("all failed then none available", func(t *testing.T) {
		exec := breaker.NewExecutor(breaker.NewRegistry(), breaker.Policy{}, nil, nil, nil)
		set := newProviderSet(t, http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`)
		router := createTestRouter("POST", "/v1/completions", Complete(set, exec))

		w := performRequest(router, "POST", "/v1/completions", messages)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "all_providers_failed", decode(t, w)["reason"])

		w = performRequest(router, "POST", "/v1/completions", messages)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "no_available_providers", decode(t, w)["reason"])
	})

	t.Run("bad request", func(t *testing.T) {
		exec := breaker.NewExecutor(breaker.NewRegistry(), breaker.Policy{}, nil, nil, nil)
		router := createTestRouter("POST", "/v1/completions", Complete(newProviderSet(t, http.StatusOK, okBody), exec))

		w := performRequest(router, "POST", "/v1/completions", CompletionRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTranscribe_RequiresFile(t *testing.T) {
	exec := breaker.NewExecutor(breaker.NewRegistry(), breaker.Policy{}, nil, nil, nil)
	router := createTestRouter("POST", "/v1/transcriptions", Transcribe(providers.NewSet(nil, nil, nil), exec))

	w := performRequest(router, "POST", "/v1/transcriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Drafts
// =============================================================================

func TestDraftEndpoints(t *testing.T) {
	client, _ := storetest.New(t)
	store := drafts.NewStore(client, keyspace.New("test"), time.Hour, nil)

	router := gin.New()
	router.PUT("/v1/sessions/:sessionId/draft", PutDraft(store))
	router.GET("/v1/sessions/:sessionId/draft", GetDraft(store))
	router.DELETE("/v1/sessions/:sessionId/draft", DeleteDraft(store))

	w := performRequest(router, "PUT", "/v1/sessions/s1/draft", map[string]any{"covered": []string{"goals"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["stored"])

	w = performRequest(router, "GET", "/v1/sessions/s1/draft", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"covered":["goals"]}`, w.Body.String())

	w = performRequest(router, "DELETE", "/v1/sessions/s1/draft", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, performRequest(router, "GET", "/v1/sessions/s1/draft", nil).Code)

	req, _ := http.NewRequest("PUT", "/v1/sessions/s1/draft", bytes.NewBufferString("{not json"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
