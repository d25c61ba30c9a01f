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

// Package dbopen turns database settings into a pgx connection pool.
package dbopen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/sessionkeeper/config"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// DatabaseURL builds a PostgreSQL URL from cfg. Host and Database are
// required; Port defaults to 5432. A non-empty appName is sent as
// application_name, restricted to alphanumerics, '-' and '_'.
func DatabaseURL(cfg config.RecordDBConfig, appName string) (string, error) {
	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "recorddb.host")
	}
	if cfg.Database == "" {
		missing = append(missing, "recorddb.database")
	}
	if len(missing) > 0 {
		return "", errors.Join(ErrDatabaseNotConfigured,
			fmt.Errorf("missing required setting(s): %s", strings.Join(missing, ", ")))
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   cfg.Host + ":" + strconv.Itoa(port),
		Path:   cfg.Database,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}

	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if appName != "" {
		appName = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') ||
				(r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') ||
				r == '-' || r == '_' {
				return r
			}
			return '_'
		}, appName)
		if len(appName) > 63 {
			appName = appName[:63]
		}
		q.Set("application_name", appName)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Open connects a pool and pings it.
func Open(ctx context.Context, cfg config.RecordDBConfig, appName string) (*pgxpool.Pool, error) {
	connStr, err := DatabaseURL(cfg, appName)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
