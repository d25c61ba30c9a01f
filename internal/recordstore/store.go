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

// Package recordstore is the record access layer: point and index lookups,
// validated saves, and the guarded connection-status transition.
package recordstore

import (
	"context"
	"errors"

	"github.com/cardinalhq/sessionkeeper/internal/records"
)

// ErrConditionFailed is returned by Store.PutIf when the stored record no
// longer matches the precondition.
var ErrConditionFailed = errors.New("record precondition failed")

// ErrUnknownIndex is returned by Store.Query for an index it does not define.
var ErrUnknownIndex = errors.New("unknown index")

// Index names.
const (
	DeviceIndex   = "deviceId-index"
	WorkflowIndex = "workflowName-index"
)

// Index binds an index name to the record attribute it is keyed on.
type Index struct {
	Name      string
	Attribute string
}

// DefaultIndexes lists the secondary indexes every backend provides.
func DefaultIndexes() []Index {
	return []Index{
		{Name: DeviceIndex, Attribute: "deviceId"},
		{Name: WorkflowIndex, Attribute: "workflowName"},
	}
}

// Precondition is what a conditional write expects to find in the store.
type Precondition struct {
	Version          int64
	ConnectionStatus records.ConnectionStatus
}

// Store is the durable record store contract.
type Store interface {
	// Get returns nil, nil when id is absent.
	Get(ctx context.Context, id string) (*records.Record, error)

	// Put upserts rec unconditionally. The store keeps the original CreatedAt
	// of an existing record, sets Version to the stored version plus one, and
	// returns what it stored.
	Put(ctx context.Context, rec *records.Record) (*records.Record, error)

	// PutIf replaces the record only if its stored Version and connection
	// status equal cond; the written Version is cond.Version+1.
	// It returns ErrConditionFailed on mismatch or when the record is absent.
	PutIf(ctx context.Context, rec *records.Record, cond Precondition) (*records.Record, error)

	// Query returns records whose indexed attribute equals key.
	Query(ctx context.Context, index, key string) ([]records.Record, error)
}

// attributeValue reads the string attribute an index is keyed on.
func attributeValue(rec *records.Record, attribute string) string {
	switch attribute {
	case "deviceId":
		return rec.DeviceID
	case "workflowName":
		return rec.WorkflowName
	case "status":
		return string(rec.Status)
	case "kind":
		return string(rec.Kind)
	default:
		return ""
	}
}

func indexAttribute(indexes []Index, name string) (string, bool) {
	for _, idx := range indexes {
		if idx.Name == name {
			return idx.Attribute, true
		}
	}
	return "", false
}
