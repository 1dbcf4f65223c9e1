// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	authpg "github.com/subtrack/subtrack/internal/auth/postgres"
	"github.com/subtrack/subtrack/internal/store"
)

// expiredSessionDeleter removes sessions that expired before now.
type expiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewPurgeSessionsCmd creates the purge-sessions subcommand.
func NewPurgeSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete expired refresh sessions",
		Long: `Delete every refresh session whose expiry has passed. serve does this
periodically; this command is for one-off cleanup from cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := store.Connect(ctx, store.PoolConfig{
				URL:             cfg.Database.URL,
				MaxConns:        1,
				ConnectAttempts: cfg.Database.ConnectAttempts,
				ConnectBackoff:  cfg.Database.ConnectBackoff,
			}, logger)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
			}
			defer pool.Close()

			return runPurgeSessions(ctx, cmd, authpg.NewSessionRepository(pool), time.Now().UTC())
		},
	}
}

func runPurgeSessions(ctx context.Context, cmd *cobra.Command, sessions expiredSessionDeleter, now time.Time) error {
	n, err := sessions.DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("SESSION_PURGE_FAILED").With("operation", "delete expired sessions").Wrap(err)
	}
	cmd.Printf("Deleted %d expired session(s)\n", n)
	return nil
}
