// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sharedstate/services/coordination/alerting"
	"github.com/AleutianAI/sharedstate/services/coordination/breaker"
	"github.com/AleutianAI/sharedstate/services/coordination/config"
	"github.com/AleutianAI/sharedstate/services/coordination/documents"
	"github.com/AleutianAI/sharedstate/services/coordination/drafts"
	"github.com/AleutianAI/sharedstate/services/coordination/keyspace"
	"github.com/AleutianAI/sharedstate/services/coordination/lock"
	"github.com/AleutianAI/sharedstate/services/coordination/observability"
	"github.com/AleutianAI/sharedstate/services/coordination/origin"
	"github.com/AleutianAI/sharedstate/services/coordination/providers"
	"github.com/AleutianAI/sharedstate/services/coordination/routes"
	"github.com/AleutianAI/sharedstate/services/coordination/snapshot"
	"github.com/AleutianAI/sharedstate/services/coordination/store"
	"github.com/AleutianAI/sharedstate/services/coordination/telemetry"
)

// shutdownTimeout bounds graceful shutdown of every component.
const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func newStoreClient(cfg config.StoreConfig, logger *slog.Logger, metrics *observability.Metrics) *store.Client {
	return store.New(store.Options{
		URL:                 cfg.URL,
		Username:            cfg.Username,
		Password:            cfg.Password,
		TLS:                 cfg.TLS,
		PoolSize:            cfg.PoolSize,
		DialTimeout:         cfg.DialTimeout(),
		ReadTimeout:         cfg.ReadTimeout(),
		WriteTimeout:        cfg.WriteTimeout(),
		HealthCheckInterval: cfg.HealthCheckInterval(),
	}, logger, metrics)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.Log).Slog()
	slog.SetDefault(logger)

	shutdownTracing, err := initTracer(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to setup the OTLP tracer: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	keys := keyspace.New(cfg.Store.KeyPrefix)

	// ===== Shared store =====
	client := newStoreClient(cfg.Store, logger, metrics)
	if err := client.Start(ctx); err != nil {
		return err
	}
	if !client.Available() {
		logger.Warn("shared store unreachable at startup, serving degraded",
			"url_configured", cfg.Store.URL != "")
	}

	// ===== Origin =====
	repo, err := origin.Open(ctx, cfg.Origin, logger)
	if err != nil {
		_ = client.Stop(context.Background())
		return fmt.Errorf("failed to open the %s origin: %w", cfg.Origin.Driver, err)
	}

	// ===== Alerting and failover =====
	redactor, err := alerting.NewRedactor()
	if err != nil {
		_ = repo.Close()
		_ = client.Stop(context.Background())
		return err
	}
	dispatcher := alerting.NewDispatcher(
		alerting.NewTelegramSender(alerting.TelegramConfig{
			Token:   cfg.Alerting.TelegramToken,
			ChatID:  cfg.Alerting.ChatID,
			BaseURL: cfg.Alerting.APIBaseURL,
		}),
		alerting.DispatcherConfig{
			QueueSize:      cfg.Alerting.QueueSize,
			SendsPerMinute: cfg.Alerting.SendsPerMinute,
			Redactor:       redactor,
		}, logger, metrics)
	dispatcher.Start()
	if !cfg.Alerting.Enabled() {
		logger.Info("alerting disabled, breaker trips are logged only")
	}

	executor := breaker.NewExecutor(
		breaker.NewRegistry(breaker.WithMetrics(metrics)),
		breaker.Policy{
			FailureThreshold:  cfg.Failover.FailureThreshold,
			Cooldown:          time.Duration(cfg.Failover.CooldownSeconds) * time.Second,
			RateLimitCooldown: time.Duration(cfg.Failover.RateLimitCooldownSeconds) * time.Second,
		}, dispatcher, logger, metrics)
	providerSet := providers.NewSet(cfg.Providers, os.Getenv, logger)
	logger.Info("providers configured", "providers", providerSet.Names())

	// ===== Documents =====
	cache := snapshot.NewCache(repo, snapshot.Config{}, logger, metrics)
	locker := lock.NewLocker(client, keys, cfg.TTL.Lock(), logger, metrics)
	docs := documents.NewService(locker, repo, cache, cfg.TTL.Lock(), logger)

	// ===== HTTP =====
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("coordinator"))
	routes.SetupRoutes(router, routes.Dependencies{
		Store:     client,
		Origin:    repo,
		Documents: docs,
		Telemetry: telemetry.NewCounters(client, keys, cfg.TTL.Telemetry(), logger, metrics),
		Drafts:    drafts.NewStore(client, keys, cfg.TTL.Draft(), logger),
		Providers: providerSet,
		Executor:  executor,
		Gatherer:  reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("coordinator listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down coordinator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, srv.Shutdown(shutdownCtx))
		dispatcher.Stop(shutdownCtx)
		errs = append(errs, repo.Close())
		errs = append(errs, client.Stop(shutdownCtx))
		return errors.Join(errs...)
	})
	return g.Wait()
}
