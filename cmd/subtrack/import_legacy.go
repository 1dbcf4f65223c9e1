// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/subtrack/subtrack/internal/migration"
	"github.com/subtrack/subtrack/internal/store"
)

// legacyImporter is the part of the migration engine import-legacy uses.
type legacyImporter interface {
	MigrateUserData(ctx context.Context, userID ulid.ULID, payload migration.LegacyPayload) (*migration.Result, error)
}

// NewImportLegacyCmd creates the import-legacy subcommand.
func NewImportLegacyCmd() *cobra.Command {
	var userFlag, fileFlag string

	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Import a legacy client export for one user",
		Long: `Import subscriptions, budget, settings and gamification data exported
by a legacy client into the account of an existing user. The file may be
JSON or YAML; "-" reads standard input. The migration result is printed
as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := ulid.Parse(userFlag)
			if err != nil {
				return oops.Code("INVALID_USER_ID").With("user", userFlag).Wrap(err)
			}

			in, closeIn, err := openInput(cmd, fileFlag)
			if err != nil {
				return err
			}
			defer closeIn()

			payload, err := decodeLegacyPayload(in)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := store.Connect(ctx, store.PoolConfig{
				URL:             cfg.Database.URL,
				MaxConns:        2,
				ConnectAttempts: cfg.Database.ConnectAttempts,
				ConnectBackoff:  cfg.Database.ConnectBackoff,
			}, logger)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
			}
			defer pool.Close()

			a, err := buildApp(ctx, cfg, pool, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(logger)

			return runImportLegacy(ctx, cmd.OutOrStdout(), a.migration, userID, payload)
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "id of the user receiving the data")
	cmd.Flags().StringVar(&fileFlag, "file", "-", "export file to import, or - for stdin")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// runImportLegacy migrates payload and writes the result to out. The
// result is written even when the migration fails.
func runImportLegacy(ctx context.Context, out io.Writer, importer legacyImporter, userID ulid.ULID, payload migration.LegacyPayload) error {
	result, err := importer.MigrateUserData(ctx, userID, payload)
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(encErr)
		}
	}
	return err
}

// decodeLegacyPayload reads a JSON or YAML export. An empty input is an
// empty payload.
func decodeLegacyPayload(r io.Reader) (migration.LegacyPayload, error) {
	var payload migration.LegacyPayload
	if err := yaml.NewDecoder(r).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return migration.LegacyPayload{}, nil
		}
		return migration.LegacyPayload{}, oops.Code("INVALID_PAYLOAD").With("operation", "decode legacy export").Wrap(err)
	}
	return payload, nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, nil, oops.Code("INVALID_PAYLOAD").With("file", path).Wrap(err)
	}
	return f, func() { _ = f.Close() }, nil
}
