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

// Package recorddb is a PostgreSQL record store.
package recorddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/internal/recordstore"
	"github.com/cardinalhq/sessionkeeper/internal/records"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `id, kind, status, source, device_id, workflow_name, error_code, error_message, created_at, updated_at, version`

const getRecord = `SELECT ` + recordColumns + ` FROM records WHERE id = $1`

const upsertRecord = `
INSERT INTO records (id, kind, status, source, device_id, workflow_name, error_code, error_message, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
ON CONFLICT (id) DO UPDATE SET
  kind          = EXCLUDED.kind,
  status        = EXCLUDED.status,
  source        = EXCLUDED.source,
  device_id     = EXCLUDED.device_id,
  workflow_name = EXCLUDED.workflow_name,
  error_code    = EXCLUDED.error_code,
  error_message = EXCLUDED.error_message,
  updated_at    = EXCLUDED.updated_at,
  version       = records.version + 1
RETURNING ` + recordColumns

const replaceRecordIf = `
UPDATE records SET
  kind          = $2,
  status        = $3,
  source        = $4,
  device_id     = $5,
  workflow_name = $6,
  error_code    = $7,
  error_message = $8,
  updated_at    = $9,
  version       = version + 1
WHERE id = $1
  AND version = $10
  AND COALESCE(source->>'connectionStatus', '') = $11
RETURNING ` + recordColumns

// indexColumns maps index attributes onto columns. Only listed attributes
// are ever interpolated into SQL.
var indexColumns = map[string]string{
	"deviceId":     "device_id",
	"workflowName": "workflow_name",
	"status":       "status",
	"kind":         "kind",
}

type Store struct {
	db      DBTX
	indexes map[string]string // index name -> column
	tracer  trace.Tracer
}

var _ recordstore.Store = (*Store)(nil)

func NewStore(db DBTX, indexes []recordstore.Index) (*Store, error) {
	if indexes == nil {
		indexes = recordstore.DefaultIndexes()
	}
	cols := make(map[string]string, len(indexes))
	for _, idx := range indexes {
		col, ok := indexColumns[idx.Attribute]
		if !ok {
			return nil, fmt.Errorf("index %s: attribute %q has no column", idx.Name, idx.Attribute)
		}
		cols[idx.Name] = col
	}
	return &Store{
		db:      db,
		indexes: cols,
		tracer:  otel.Tracer("github.com/cardinalhq/sessionkeeper/recorddb"),
	}, nil
}

func (s *Store) Get(ctx context.Context, id string) (*records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "recorddb.Get", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := scanRecord(s.db.QueryRow(ctx, getRecord, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec *records.Record) (*records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "recorddb.Put", trace.WithAttributes(attribute.String("record.id", rec.ID)))
	defer span.End()

	source, err := encodeSource(rec.Source)
	if err != nil {
		return nil, err
	}
	stored, err := scanRecord(s.db.QueryRow(ctx, upsertRecord,
		rec.ID, string(rec.Kind), string(rec.Status), source,
		rec.DeviceID, rec.WorkflowName, rec.ErrorCode, rec.ErrorMessage,
		rec.CreatedAt, rec.UpdatedAt))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return stored, nil
}

func (s *Store) PutIf(ctx context.Context, rec *records.Record, cond recordstore.Precondition) (*records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "recorddb.PutIf", trace.WithAttributes(
		attribute.String("record.id", rec.ID),
		attribute.Int64("record.version", cond.Version)))
	defer span.End()

	source, err := encodeSource(rec.Source)
	if err != nil {
		return nil, err
	}
	stored, err := scanRecord(s.db.QueryRow(ctx, replaceRecordIf,
		rec.ID, string(rec.Kind), string(rec.Status), source,
		rec.DeviceID, rec.WorkflowName, rec.ErrorCode, rec.ErrorMessage,
		rec.UpdatedAt, cond.Version, string(cond.ConnectionStatus)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, recordstore.ErrConditionFailed
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conditional put record %s: %w", rec.ID, err)
	}
	return stored, nil
}

func (s *Store) Query(ctx context.Context, index, key string) ([]records.Record, error) {
	col, ok := s.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", recordstore.ErrUnknownIndex, index)
	}
	ctx, span := s.tracer.Start(ctx, "recorddb.Query", trace.WithAttributes(attribute.String("index", index)))
	defer span.End()

	sql := `SELECT ` + recordColumns + ` FROM records WHERE ` + col + ` = $1 AND ` + col + ` <> '' ORDER BY id`
	rows, err := s.db.Query(ctx, sql, key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	return out, nil
}

func encodeSource(src *records.Source) (any, error) {
	if src == nil {
		return nil, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}
	return b, nil
}

func scanRecord(row pgx.Row) (*records.Record, error) {
	var (
		rec                  records.Record
		kind, status         string
		source               []byte
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&rec.ID, &kind, &status, &source,
		&rec.DeviceID, &rec.WorkflowName, &rec.ErrorCode, &rec.ErrorMessage,
		&createdAt, &updatedAt, &rec.Version); err != nil {
		return nil, err
	}
	rec.Kind = records.Kind(kind)
	rec.Status = records.Status(status)
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	if source != nil {
		rec.Source = &records.Source{}
		if err := json.Unmarshal(source, rec.Source); err != nil {
			return nil, fmt.Errorf("decode source: %w", err)
		}
	}
	return &rec, nil
}
