// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers turns configured OpenAI-compatible endpoints into
// ordered failover candidates.
//
// # Description
//
// Each configured provider becomes one OpenAI client. A Set builds
// breaker.Candidate lists per capability in configuration order, skipping
// providers that have no model for that capability. Upstream errors are
// wrapped so the failover executor can see their HTTP status.
package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/sharedstate/services/coordination/breaker"
	"github.com/AleutianAI/sharedstate/services/coordination/config"
)

// Capability names used as the first half of breaker keys.
const (
	CapabilityTranscription = "transcription"
	CapabilityCompletion    = "completion"
)

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("provider returned no choices")

// UpstreamError carries the HTTP status of a failed provider call.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status code, or 0 if none was received.
func (e *UpstreamError) HTTPStatus() int { return e.Status }

// wrapError attaches provider and status to err.
func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return &UpstreamError{Provider: provider, Status: status, Err: err}
}

// OpenAI is one configured OpenAI-compatible provider.
type OpenAI struct {
	name               string
	client             *openai.Client
	transcriptionModel string
	chatModel          string
}

// NewOpenAI creates a provider from cfg, reading the API key from the
// environment variable cfg.APIKeyEnv.
func NewOpenAI(cfg config.ProviderConfig, getenv func(string) string) (*OpenAI, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	apiKey := strings.TrimSpace(getenv(cfg.APIKeyEnv))
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: environment variable %s is not set", cfg.Name, cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAI{
		name:               cfg.Name,
		client:             openai.NewClientWithConfig(clientCfg),
		transcriptionModel: cfg.TranscriptionModel,
		chatModel:          cfg.ChatModel,
	}, nil
}

// Name returns the provider name.
func (p *OpenAI) Name() string { return p.name }

// AudioInput is one audio file to transcribe. Data is re-read for every
// attempt, so it is held in memory rather than as a stream.
type AudioInput struct {
	FileName string
	Data     []byte
	Language string
	Prompt   string
}

// Transcribe returns the transcript of audio.
func (p *OpenAI) Transcribe(ctx context.Context, audio AudioInput) (string, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.transcriptionModel,
		FilePath: audio.FileName,
		Reader:   bytes.NewReader(audio.Data),
		Language: audio.Language,
		Prompt:   audio.Prompt,
	})
	if err != nil {
		return "", wrapError(p.name, err)
	}
	return resp.Text, nil
}

// Complete returns the first choice of a chat completion over messages.
func (p *OpenAI) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", wrapError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", wrapError(p.name, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Set is the ordered list of configured providers.
type Set struct {
	providers []*OpenAI
}

// NewSet builds a provider per entry of cfgs, preserving order. Providers
// whose API key is missing are logged and left out.
func NewSet(cfgs []config.ProviderConfig, getenv func(string) string, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{}
	for _, cfg := range cfgs {
		p, err := NewOpenAI(cfg, getenv)
		if err != nil {
			logger.Warn("provider disabled",
				"provider", cfg.Name,
				"error", err)
			continue
		}
		s.providers = append(s.providers, p)
	}
	return s
}

// Names returns provider names in preference order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.name)
	}
	return names
}

// TranscriptionCandidates returns one candidate per provider with a
// transcription model.
func (s *Set) TranscriptionCandidates(audio AudioInput) []breaker.Candidate[string] {
	var out []breaker.Candidate[string]
	for _, p := range s.providers {
		if p.transcriptionModel == "" {
			continue
		}
		out = append(out, breaker.Candidate[string]{
			Name: p.name,
			Call: func(ctx context.Context) (string, error) {
				return p.Transcribe(ctx, audio)
			},
		})
	}
	return out
}

// CompletionCandidates returns one candidate per provider with a chat model.
func (s *Set) CompletionCandidates(messages []openai.ChatCompletionMessage) []breaker.Candidate[string] {
	var out []breaker.Candidate[string]
	for _, p := range s.providers {
		if p.chatModel == "" {
			continue
		}
		out = append(out, breaker.Candidate[string]{
			Name: p.name,
			Call: func(ctx context.Context) (string, error) {
				return p.Complete(ctx, messages)
			},
		})
	}
	return out
}

// Transcribe runs audio through the transcription candidates with failover.
func (s *Set) Transcribe(ctx context.Context, exec *breaker.Executor, audio AudioInput) (breaker.Result[string], error) {
	return breaker.Run(ctx, exec, CapabilityTranscription, s.TranscriptionCandidates(audio))
}

// Complete runs messages through the completion candidates with failover.
func (s *Set) Complete(ctx context.Context, exec *breaker.Executor, messages []openai.ChatCompletionMessage) (breaker.Result[string], error) {
	return breaker.Run(ctx, exec, CapabilityCompletion, s.CompletionCandidates(messages))
}
