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

package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/dbopen"
	"github.com/cardinalhq/sessionkeeper/recorddb/migrations"
)

// SetupTestRecordDB creates a clean test recorddb database with migrations
// applied. Returns a connection pool and registers cleanup with t.Cleanup.
// The test is skipped when RECORDDB_HOST is not set.
func SetupTestRecordDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	host := os.Getenv("RECORDDB_HOST")
	if host == "" {
		t.Skip("RECORDDB_HOST not set; skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	dbName := fmt.Sprintf("test_recorddb_%d_%d", time.Now().Unix(), rand.Intn(10000))

	port, _ := strconv.Atoi(getEnvOrDefault("RECORDDB_PORT", "5432"))
	base := config.RecordDBConfig{
		Host:     host,
		Port:     port,
		User:     getEnvOrDefault("RECORDDB_USER", os.Getenv("USER")),
		Password: os.Getenv("RECORDDB_PASSWORD"),
		Database: getEnvOrDefault("RECORDDB_DBNAME", "testing_recorddb"),
		SSLMode:  getEnvOrDefault("RECORDDB_SSLMODE", "disable"),
	}

	basePool, err := dbopen.Open(ctx, base, "sessionkeeper-test")
	if err != nil {
		t.Fatalf("Failed to connect to base database: %v", err)
	}

	if _, err := basePool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		basePool.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	testCfg := base
	testCfg.Database = dbName
	testPool, err := dbopen.Open(ctx, testCfg, "sessionkeeper-test")
	if err != nil {
		basePool.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := migrations.RunMigrationsUp(ctx, testPool); err != nil {
		testPool.Close()
		basePool.Close()
		t.Fatalf("Failed to run recorddb migrations: %v", err)
	}

	t.Cleanup(func() {
		testPool.Close()

		_, err := basePool.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			slog.Error("Failed to drop test database", slog.String("dbName", dbName), slog.Any("error", err))
		}
		basePool.Close()
	})

	return testPool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
