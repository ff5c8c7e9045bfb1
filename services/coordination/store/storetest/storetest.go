// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest provides started store clients for tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/store"
	"github.com/alicebob/miniredis/v2"
)

// New starts an in-process Redis and a store.Client connected to it.
// Both are torn down with t.Cleanup.
func New(t testing.TB) (*store.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := store.New(store.Options{
		URL:         "redis://" + mr.Addr(),
		DialTimeout: time.Second,
	}, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting store client: %v", err)
	}
	if !c.Available() {
		t.Fatalf("store client not available against miniredis at %s", mr.Addr())
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, mr
}

// NewUnavailable returns a started client whose store is unreachable.
func NewUnavailable(t testing.TB) *store.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := store.New(store.Options{
		URL:         "redis://" + addr,
		DialTimeout: 200 * time.Millisecond,
	}, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting store client: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}
