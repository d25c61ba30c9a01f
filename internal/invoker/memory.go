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

package invoker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StartedExecution is what MemoryEngine remembers about each start.
type StartedExecution struct {
	Target string
	Name   string
	Input  string
}

// MemoryEngine is an in-process Engine that rejects repeated names the way
// Step Functions does. It backs dry runs and tests.
type MemoryEngine struct {
	mu      sync.Mutex
	started []StartedExecution
	names   map[string]bool
	now     func() time.Time
}

var _ Engine = (*MemoryEngine)(nil)

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{names: map[string]bool{}, now: time.Now}
}

func (m *MemoryEngine) StartExecution(_ context.Context, target, name, input string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := target + "\x00" + name
	if m.names[key] {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateExecution, name)
	}
	m.names[key] = true
	m.started = append(m.started, StartedExecution{Target: target, Name: name, Input: input})
	return Handle{ID: fmt.Sprintf("%s:%s", target, name), StartedAt: m.now()}, nil
}

// Started returns every accepted start, in order.
func (m *MemoryEngine) Started() []StartedExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StartedExecution(nil), m.started...)
}
