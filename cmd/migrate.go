// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/dbopen"
	"github.com/cardinalhq/sessionkeeper/recorddb/migrations"
)

func init() {
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run recorddb migrations",
	Long:  "Apply pending PostgreSQL record store migrations. Not needed for the DynamoDB backend.",
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	pool, err := dbopen.Open(ctx, cfg.RecordDB, "sessionkeeper-migrate")
	if err != nil {
		return err
	}
	defer pool.Close()

	slog.Info("Running recorddb migrations")
	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		return fmt.Errorf("failed to migrate recorddb: %w", err)
	}
	slog.Info("recorddb migrations completed successfully")
	return nil
}
