// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTelegramBaseURL is the public Bot API endpoint.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig configures a TelegramSender.
type TelegramConfig struct {
	// Token is the bot token. Never logged.
	Token string

	// ChatID is the recipient chat.
	ChatID string

	// BaseURL overrides the Bot API endpoint (tests, proxies).
	BaseURL string

	// RetryMax is the number of retries on 5xx/429/network errors. Default: 2.
	RetryMax int
}

// TelegramSender posts alerts through the Telegram Bot API sendMessage call.
type TelegramSender struct {
	endpoint string
	token    string
	chatID   string
	client   *retryablehttp.Client
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramSender returns nil when token or chat id is missing, so the
// result can be handed straight to NewDispatcher to disable alerting.
func NewTelegramSender(cfg TelegramConfig) Sender {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramBaseURL
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	// Request URLs carry the bot token, so retryablehttp's own logging stays off.
	client.Logger = nil

	return &TelegramSender{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.Token + "/sendMessage",
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		client:   client,
	}
}

// Send delivers one alert.
func (s *TelegramSender) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:                s.chatID,
		Text:                  Format(alert),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("encoding telegram message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; never surface it.
		return fmt.Errorf("telegram request failed: %w", redactToken(err, s.endpoint, s.token))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed telegramResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return fmt.Errorf("telegram rejected message: status %d: %s", resp.StatusCode, parsed.Description)
	}
	return nil
}

// Format renders an alert as plain text.
func Format(alert Alert) string {
	var sb strings.Builder
	if alert.Title != "" {
		sb.WriteString("[")
		sb.WriteString(strings.ToUpper(alert.Title))
		sb.WriteString("]\n")
	}
	sb.WriteString(alert.Text)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString("\n")
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(alert.Fields[k])
		}
	}
	if !alert.At.IsZero() {
		sb.WriteString("\nat: ")
		sb.WriteString(alert.At.UTC().Format(time.RFC3339))
	}
	return sb.String()
}

// redactedError carries a sanitized message. Only context errors, whose
// text holds no URL, stay reachable through Unwrap.
type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

func redactToken(err error, endpoint, token string) error {
	msg := strings.ReplaceAll(err.Error(), endpoint, "<telegram endpoint>")
	msg = strings.ReplaceAll(msg, token, "<redacted>")

	var cause error
	switch {
	case errors.Is(err, context.Canceled):
		cause = context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		cause = context.DeadlineExceeded
	}
	return &redactedError{msg: msg, cause: cause}
}
