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

package recordstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cardinalhq/sessionkeeper/internal/records"
)

// MemoryStore is a process-local Store. Records are copied on the way in
// and on the way out.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*records.Record
	indexes []Index
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(indexes []Index) *MemoryStore {
	if indexes == nil {
		indexes = DefaultIndexes()
	}
	return &MemoryStore{
		items:   map[string]*records.Record{},
		indexes: indexes,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, rec *records.Record) (*records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := rec.Clone()
	stored.Version = 1
	if existing, ok := m.items[rec.ID]; ok {
		stored.Version = existing.Version + 1
		stored.CreatedAt = existing.CreatedAt
	}
	m.items[rec.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) PutIf(_ context.Context, rec *records.Record, cond Precondition) (*records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[rec.ID]
	if !ok {
		return nil, ErrConditionFailed
	}
	current, _ := existing.ConnectionStatus()
	if existing.Version != cond.Version || current != cond.ConnectionStatus {
		return nil, ErrConditionFailed
	}
	stored := rec.Clone()
	stored.Version = cond.Version + 1
	m.items[rec.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) Query(_ context.Context, index, key string) ([]records.Record, error) {
	attr, ok := indexAttribute(m.indexes, index)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []records.Record
	for _, rec := range m.items {
		if v := attributeValue(rec, attr); v != "" && v == key {
			out = append(out, *rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
