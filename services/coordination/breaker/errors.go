// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNoAvailableProviders means every candidate was skipped because its
	// breaker was open. No upstream call was made.
	ErrNoAvailableProviders = errors.New("no available providers")

	// ErrAllProvidersFailed means at least one candidate was attempted and
	// every attempt failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrRateLimited can be wrapped by candidates to mark a failure as
	// rate-limit class without relying on message text.
	ErrRateLimited = errors.New("rate limited")
)

// ExhaustedError is returned when no candidate produced a result.
//
// # Description
//
// errors.Is(err, ErrNoAvailableProviders) holds when Attempts is zero,
// errors.Is(err, ErrAllProvidersFailed) otherwise. The last candidate
// error is also in the chain.
type ExhaustedError struct {
	Capability string
	Attempts   int
	Skipped    int
	Last       error
}

func (e *ExhaustedError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("%s: %v (%d skipped)", e.Capability, ErrNoAvailableProviders, e.Skipped)
	}
	return fmt.Sprintf("%s: %v after %d attempt(s): %v", e.Capability, ErrAllProvidersFailed, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Attempts == 0 {
		return []error{ErrNoAvailableProviders}
	}
	if e.Last == nil {
		return []error{ErrAllProvidersFailed}
	}
	return []error{ErrAllProvidersFailed, e.Last}
}

// IsDegraded reports whether err means "service temporarily degraded":
// either no provider was available or every provider failed.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrNoAvailableProviders) || errors.Is(err, ErrAllProvidersFailed)
}

// =============================================================================
// Rate-Limit Classification
// =============================================================================

// statusCoder is implemented by errors that carry an upstream HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"quota",
}

// IsRateLimited classifies err as a rate-limit class failure.
//
// # Description
//
// Checks, in order: ErrRateLimited in the chain, an HTTPStatus() of 429
// anywhere in the chain, then well-known markers in the error text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
