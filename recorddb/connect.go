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

package recorddb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/dbopen"
	"github.com/cardinalhq/sessionkeeper/recorddb/migrations"
)

// ConnectToRecordDB opens a pool and refuses to return it unless the schema
// is at the version this binary was built with.
func ConnectToRecordDB(ctx context.Context, cfg config.RecordDBConfig, appName string) (*pgxpool.Pool, error) {
	pool, err := dbopen.Open(ctx, cfg, appName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recorddb: %w", err)
	}
	if err := migrations.CheckVersion(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recorddb migration version check failed: %w", err)
	}
	return pool, nil
}
