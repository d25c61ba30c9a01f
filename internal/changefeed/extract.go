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

package changefeed

import (
	"context"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
)

// extractor applies the field lookup rule: string form first, then numeric,
// else absent with a MissingField diagnostic naming the field.
type extractor struct {
	sink          diagnostics.Sink
	workflowField string
	alternate     string
}

func lookup(img Image, field string) (string, bool) {
	v, ok := img[field]
	if !ok {
		return "", false
	}
	if v.S != nil {
		return *v.S, true
	}
	if v.N != nil {
		return *v.N, true
	}
	return "", false
}

func (x extractor) field(ctx context.Context, img Image, field string) (string, bool) {
	if v, ok := lookup(img, field); ok {
		return v, true
	}
	// Job records name the execution under a different attribute.
	if field == x.workflowField && x.alternate != "" {
		if v, ok := lookup(img, x.alternate); ok {
			return v, true
		}
	}
	x.sink.PutMetric(ctx, diagnostics.MetricMissingField, 1, diagnostics.UnitCount,
		diagnostics.Dim("field", field))
	return "", false
}
