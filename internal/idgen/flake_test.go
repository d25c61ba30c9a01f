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

package idgen

import (
	"strconv"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonyFlakeGenerator(t *testing.T) {
	gen, err := NewFlakeGenerator()
	require.NoError(t, err)

	id := gen.NextID()
	id2 := gen.NextID()
	assert.Greater(t, id2, id)
	assert.Positive(t, id)

	inst := gen.InstanceID()
	parsed, err := strconv.ParseInt(inst, 36, 64)
	require.NoError(t, err)
	assert.Greater(t, parsed, id2)
}

func TestULIDGenerator(t *testing.T) {
	gen := NewULIDGenerator()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a := gen.Make(now)
	b := gen.Make(now)
	assert.Less(t, a, b, "same-millisecond IDs stay ordered")

	parsed, err := ulid.Parse(a)
	require.NoError(t, err)
	assert.True(t, ulid.Time(parsed.Time()).Equal(now))
}
