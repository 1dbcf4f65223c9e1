// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/logging"
	"github.com/subtrack/subtrack/internal/xdg"
)

const serviceName = "subtrack"

// NewRootCmd creates the root command for the subtrack CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtrack",
		Short: "subtrack - subscription tracker backend",
		Long: `subtrack serves the account and session API and imports legacy
client data into PostgreSQL.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewImportLegacyCmd())
	cmd.AddCommand(NewPurgeSessionsCmd())

	return cmd
}

// loadConfig loads and validates the configuration for cmd and installs
// the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		path = xdg.ConfigFile()
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.Setup(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	return cfg, logger, nil
}
