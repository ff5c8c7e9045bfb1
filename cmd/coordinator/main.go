// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command coordinator runs the shared-state and resilience layer.
//
// Usage:
//
//	coordinator serve --config coordinator.yaml
//	coordinator telemetry 42 --config coordinator.yaml
//
// Selected config fields can be overridden with COORD_* environment variables,
// for example COORD_REDIS_URL=redis://cache:6379/0.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sharedstate/pkg/logging"
	"github.com/AleutianAI/sharedstate/services/coordination/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "coordinator",
	Short:         "Shared-state and resilience layer for stateless workers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (defaults only when empty)")
	rootCmd.AddCommand(serveCmd, telemetryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Default().Error("coordinator failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from cfg.
func newLogger(cfg config.LogConfig) *logging.Logger {
	format := logging.FormatAuto
	if cfg.JSON != nil {
		format = logging.FormatText
		if *cfg.JSON {
			format = logging.FormatJSON
		}
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Level),
		Format:  format,
		Service: "coordinator",
	})
}
