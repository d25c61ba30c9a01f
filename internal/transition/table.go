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

// Package transition holds the static state machines that gate record
// status and peer-connection updates.
package transition

import (
	"fmt"
	"slices"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/sessionkeeper/internal/records"
)

// Kind names one state machine in a Table.
type Kind string

const (
	KindSession        Kind = "session"
	KindJob            Kind = "job"
	KindPeerConnection Kind = "peer-connection"
)

// State is a state name. Top-level statuses and connection sub-states share it.
type State string

// Machine maps each declared state to its outbound edges. A declared state
// with an empty edge set is terminal.
type Machine map[State]mapset.Set[State]

// Table is static configuration: one Machine per Kind.
type Table map[Kind]Machine

// Edge is a single legal (from, to) pair.
type Edge struct {
	From State
	To   State
}

// NewMachine builds a Machine from an adjacency list. States listed with no
// targets are terminal.
func NewMachine(adjacency map[State][]State) Machine {
	m := make(Machine, len(adjacency))
	for from, tos := range adjacency {
		m[from] = mapset.NewThreadUnsafeSet(tos...)
	}
	return m
}

var defaultTable = Table{
	KindPeerConnection: NewMachine(map[State][]State{
		st(records.ConnectionNew):          {st(records.ConnectionConnecting)},
		st(records.ConnectionConnecting):   {st(records.ConnectionConnected), st(records.ConnectionFailed), st(records.ConnectionDisconnected)},
		st(records.ConnectionConnected):    {st(records.ConnectionDisconnected), st(records.ConnectionFailed), st(records.ConnectionClosed)},
		st(records.ConnectionDisconnected): {st(records.ConnectionConnecting), st(records.ConnectionClosed)},
		st(records.ConnectionFailed):       {st(records.ConnectionConnecting), st(records.ConnectionClosed)},
		st(records.ConnectionClosed):       {},
	}),
	KindSession: NewMachine(map[State][]State{
		State(records.SessionPending):  {State(records.SessionRunning), State(records.SessionFailed), State(records.SessionDeleting)},
		State(records.SessionRunning):  {State(records.SessionDeleting), State(records.SessionFailed)},
		State(records.SessionFailed):   {State(records.SessionDeleting)},
		State(records.SessionDeleting): {State(records.SessionDeleted), State(records.SessionFailed)},
		State(records.SessionDeleted):  {},
	}),
	KindJob: NewMachine(map[State][]State{
		State(records.JobQueued):     {State(records.JobRunning), State(records.JobCancelling)},
		State(records.JobRunning):    {State(records.JobSucceeded), State(records.JobFailed), State(records.JobCancelling)},
		State(records.JobCancelling): {State(records.JobCancelled), State(records.JobFailed)},
		State(records.JobSucceeded):  {},
		State(records.JobFailed):     {},
		State(records.JobCancelled):  {},
	}),
}

func init() {
	if err := defaultTable.Validate(); err != nil {
		panic(fmt.Errorf("default transition table is inconsistent: %w", err))
	}
}

func st(s records.ConnectionStatus) State {
	return State(s)
}

// DefaultTable returns the built-in transition table. Callers must not modify it.
func DefaultTable() Table {
	return defaultTable
}

// Validate checks that every state reachable as a target is itself declared,
// which forces terminal states to be listed explicitly rather than omitted.
func (t Table) Validate() error {
	for kind, m := range t {
		if len(m) == 0 {
			return fmt.Errorf("kind %q has no states", kind)
		}
		for from, tos := range m {
			if tos == nil {
				return fmt.Errorf("kind %q: state %q has a nil edge set", kind, from)
			}
			for _, to := range tos.ToSlice() {
				if _, ok := m[to]; !ok {
					return fmt.Errorf("kind %q: edge %s -> %s targets an undeclared state", kind, from, to)
				}
			}
		}
	}
	return nil
}

// IsValidTransition reports whether kind may move from -> to. A no-op
// (from == to) is always accepted.
func (t Table) IsValidTransition(kind Kind, from, to State) bool {
	if from == to {
		return true
	}
	m, ok := t[kind]
	if !ok {
		return false
	}
	edges, ok := m[from]
	if !ok {
		return false
	}
	return edges.Contains(to)
}

// Terminal reports whether state is declared with no outbound edges.
func (t Table) Terminal(kind Kind, state State) bool {
	edges, ok := t[kind][state]
	return ok && edges.Cardinality() == 0
}

// Targets returns the sorted legal destinations from a state.
func (t Table) Targets(kind Kind, from State) []State {
	edges, ok := t[kind][from]
	if !ok {
		return nil
	}
	out := edges.ToSlice()
	slices.Sort(out)
	return out
}

// Edges returns every legal pair for kind, sorted by from then to.
func (t Table) Edges(kind Kind) []Edge {
	var out []Edge
	for from, tos := range t[kind] {
		for _, to := range tos.ToSlice() {
			out = append(out, Edge{From: from, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// States returns the sorted declared states for kind.
func (t Table) States(kind Kind) []State {
	out := make([]State, 0, len(t[kind]))
	for s := range t[kind] {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Kinds returns the sorted kinds in the table.
func (t Table) Kinds() []Kind {
	out := make([]Kind, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ForRecordKind maps a record family to its top-level status machine.
func ForRecordKind(k records.Kind) (Kind, bool) {
	switch k {
	case records.KindSession:
		return KindSession, true
	case records.KindJob:
		return KindJob, true
	default:
		return "", false
	}
}
