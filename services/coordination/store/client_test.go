// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_StartAvailable(t *testing.T) {
	mr := miniredis.RunT(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	c := New(Options{URL: "redis://" + mr.Addr(), DialTimeout: time.Second}, nil, metrics)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	assert.True(t, c.Available())
	rdb, ok := c.Redis()
	require.True(t, ok)
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreAvailable))
}

func TestClient_StartUnreachableIsDegradedNotError(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := New(Options{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond}, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	assert.False(t, c.Available())
	rdb, ok := c.Redis()
	assert.False(t, ok)
	assert.Nil(t, rdb)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
}

func TestClient_InvalidURL(t *testing.T) {
	c := New(Options{URL: "http://not-redis"}, nil, nil)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Available())
}

func TestClient_HealthLoopRecovers(t *testing.T) {
	mr := miniredis.RunT(t)

	c := New(Options{
		URL:                 "redis://" + mr.Addr(),
		DialTimeout:         200 * time.Millisecond,
		HealthCheckInterval: 20 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())
	require.True(t, c.Available())

	mr.SetError("LOADING server is loading")
	assert.Eventually(t, func() bool { return !c.Available() }, 2*time.Second, 10*time.Millisecond)

	mr.SetError("")
	assert.Eventually(t, c.Available, 2*time.Second, 10*time.Millisecond)
}

func TestClient_StopIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(Options{URL: "redis://" + mr.Addr(), HealthCheckInterval: time.Hour}, nil, nil)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Stop(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))

	assert.False(t, c.Available())
	_, ok := c.Redis()
	assert.False(t, ok)
}

func TestClient_RedisOptions(t *testing.T) {
	c := New(Options{
		URL:          "redis://localhost:6379/3",
		Username:     "svc",
		Password:     "secret",
		TLS:          true,
		PoolSize:     7,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: 2 * time.Second,
	}, nil, nil)

	ropts, err := c.redisOptions()
	require.NoError(t, err)

	assert.Equal(t, 3, ropts.DB)
	assert.Equal(t, "svc", ropts.Username)
	assert.Equal(t, "secret", ropts.Password)
	assert.NotNil(t, ropts.TLSConfig)
	assert.Equal(t, 7, ropts.PoolSize)
	assert.Equal(t, 3*time.Second, ropts.DialTimeout)
	assert.Equal(t, time.Second, ropts.ReadTimeout)
	assert.Equal(t, 2*time.Second, ropts.WriteTimeout)
}
