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
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sharedstate/services/coordination/config"
	"github.com/AleutianAI/sharedstate/services/coordination/keyspace"
	"github.com/AleutianAI/sharedstate/services/coordination/telemetry"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry <project-id>",
	Short: "Print the telemetry report of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || projectID <= 0 {
			return fmt.Errorf("project id must be a positive integer, got %q", args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Log).Slog()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		// One-shot command, no background health loop.
		cfg.Store.HealthCheckIntervalSeconds = 0
		client := newStoreClient(cfg.Store, logger, nil)
		if err := client.Start(ctx); err != nil {
			return err
		}
		defer client.Stop(context.Background())

		report := telemetry.NewCounters(client, keyspace.New(cfg.Store.KeyPrefix), cfg.TTL.Telemetry(), logger, nil).
			Report(ctx, projectID)
		if !report.Available {
			logger.Warn("shared store unavailable, report shows zeros")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
