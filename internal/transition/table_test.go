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

package transition

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/sessionkeeper/internal/records"
)

func TestDefaultTableValidates(t *testing.T) {
	require.NoError(t, DefaultTable().Validate())
}

// Every listed pair is legal, every unlisted pair with from != to is not,
// and every self-transition is legal.
func TestIsValidTransitionExhaustive(t *testing.T) {
	table := DefaultTable()
	for _, kind := range table.Kinds() {
		listed := mapset.NewSet[Edge](table.Edges(kind)...)
		states := table.States(kind)
		for _, from := range states {
			for _, to := range states {
				got := table.IsValidTransition(kind, from, to)
				switch {
				case from == to:
					assert.True(t, got, "%s: %s -> %s self", kind, from, to)
				case listed.Contains(Edge{From: from, To: to}):
					assert.True(t, got, "%s: %s -> %s listed", kind, from, to)
				default:
					assert.False(t, got, "%s: %s -> %s unlisted", kind, from, to)
				}
			}
		}
	}
}

func TestPeerConnectionTransitions(t *testing.T) {
	table := DefaultTable()
	connecting := State(records.ConnectionConnecting)
	connected := State(records.ConnectionConnected)
	closed := State(records.ConnectionClosed)

	assert.True(t, table.IsValidTransition(KindPeerConnection, connecting, connected))
	assert.False(t, table.IsValidTransition(KindPeerConnection, connected, connecting))
	assert.True(t, table.Terminal(KindPeerConnection, closed))
	assert.False(t, table.Terminal(KindPeerConnection, connected))
	assert.True(t, table.IsValidTransition(KindPeerConnection, closed, closed))
	assert.False(t, table.IsValidTransition(KindPeerConnection, closed, connecting))
}

func TestUnknownKindOrState(t *testing.T) {
	table := DefaultTable()
	assert.False(t, table.IsValidTransition(Kind("device"), "A", "B"))
	assert.True(t, table.IsValidTransition(Kind("device"), "A", "A"))
	assert.False(t, table.IsValidTransition(KindSession, "LIMBO", State(records.SessionRunning)))
	assert.Nil(t, table.Targets(KindSession, "LIMBO"))
}

func TestTerminalStatesHaveNoTargets(t *testing.T) {
	table := DefaultTable()
	for _, kind := range table.Kinds() {
		for _, s := range table.States(kind) {
			if table.Terminal(kind, s) {
				assert.Empty(t, table.Targets(kind, s))
			} else {
				assert.NotEmpty(t, table.Targets(kind, s))
			}
		}
	}
}

func TestValidateRejectsUndeclaredTarget(t *testing.T) {
	bad := Table{
		KindSession: NewMachine(map[State][]State{
			"A": {"B"},
		}),
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared")

	empty := Table{KindJob: Machine{}}
	assert.Error(t, empty.Validate())

	nilEdges := Table{KindJob: Machine{"A": nil}}
	assert.Error(t, nilEdges.Validate())
}

func TestForRecordKind(t *testing.T) {
	k, ok := ForRecordKind(records.KindSession)
	assert.True(t, ok)
	assert.Equal(t, KindSession, k)
	k, ok = ForRecordKind(records.KindJob)
	assert.True(t, ok)
	assert.Equal(t, KindJob, k)
	_, ok = ForRecordKind(records.Kind("x"))
	assert.False(t, ok)
}
