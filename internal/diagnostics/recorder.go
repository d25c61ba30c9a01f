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

package diagnostics

import (
	"context"
	"sync"
)

// Point is one metric observed by a Recorder.
type Point struct {
	Name  string
	Value float64
	Unit  Unit
	Dims  []Dimension
}

// Recorder keeps every metric in memory, for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	points []Point
}

func (r *Recorder) PutMetric(_ context.Context, name string, value float64, unit Unit, dims ...Dimension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, Point{Name: name, Value: value, Unit: unit, Dims: append([]Dimension(nil), dims...)})
}

// Points returns a copy of everything recorded so far.
func (r *Recorder) Points() []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.points...)
}

// Count sums the values recorded under name whose dimensions include every
// dimension in match.
func (r *Recorder) Count(name string, match ...Dimension) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, p := range r.points {
		if p.Name != name || !hasAll(p.Dims, match) {
			continue
		}
		total += p.Value
	}
	return total
}

func hasAll(have, want []Dimension) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
