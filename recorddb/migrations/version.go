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

package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LatestVersion is the highest version among the embedded migrations.
func LatestVersion() (uint, error) {
	return latestVersion(migrationFiles)
}

func latestVersion(files fs.ReadDirFS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// "1760400000_records.up.sql"
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		if uint(version) > maxVersion {
			maxVersion = uint(version)
		}
	}
	if maxVersion == 0 {
		return 0, fmt.Errorf("no valid migration files found")
	}
	return maxVersion, nil
}

// CheckVersion fails unless the database is at LatestVersion and clean.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool) error {
	expected, err := LatestVersion()
	if err != nil {
		return err
	}
	current, dirty, err := CurrentVersion(ctx, pool)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("recorddb migration is in dirty state, please fix before proceeding")
	}
	switch {
	case current < expected:
		return fmt.Errorf("recorddb is at version %d, expected %d: run sessionkeeper migrate", current, expected)
	case current > expected:
		return fmt.Errorf("recorddb version %d is newer than expected version %d - you may need to update the application", current, expected)
	}
	return nil
}
