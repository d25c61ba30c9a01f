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

// Package diagnostics provides fire-and-forget anomaly counters. A sink never
// returns an error to its caller; failures are logged.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Unit follows the CloudWatch unit vocabulary.
type Unit string

const (
	UnitCount        Unit = "Count"
	UnitMilliseconds Unit = "Milliseconds"
	UnitNone         Unit = "None"
)

// Metric names emitted by sessionkeeper.
const (
	MetricMissingField        = "MissingField"
	MetricMissingWorkflowName = "MissingWorkflowName"
	MetricIgnoredTransition   = "IgnoredTransition"
	MetricDuplicateExecution  = "DuplicateExecution"
)

// Dimension is a name/value tag attached to a metric.
type Dimension struct {
	Name  string
	Value string
}

func Dim(name, value string) Dimension {
	return Dimension{Name: name, Value: value}
}

// Sink accepts metrics.
type Sink interface {
	PutMetric(ctx context.Context, name string, value float64, unit Unit, dims ...Dimension)
}

type nopSink struct{}

func (nopSink) PutMetric(context.Context, string, float64, Unit, ...Dimension) {}

// Nop discards every metric.
func Nop() Sink {
	return nopSink{}
}

type fanout []Sink

func (f fanout) PutMetric(ctx context.Context, name string, value float64, unit Unit, dims ...Dimension) {
	for _, s := range f {
		s.PutMetric(ctx, name, value, unit, dims...)
	}
}

// Fanout sends every metric to each non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return Nop()
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// OTelSink records each metric name as an OpenTelemetry float counter.
type OTelSink struct {
	meter    metric.Meter
	prefix   string
	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

func NewOTelSink(prefix string) *OTelSink {
	return &OTelSink{
		meter:    otel.Meter("github.com/cardinalhq/sessionkeeper/internal/diagnostics"),
		prefix:   prefix,
		counters: map[string]metric.Float64Counter{},
	}
}

func (s *OTelSink) counter(name string, unit Unit) (metric.Float64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, nil
	}
	c, err := s.meter.Float64Counter(
		s.prefix+"."+toSnake(name),
		metric.WithUnit(string(unit)),
		metric.WithDescription(fmt.Sprintf("sessionkeeper diagnostic %s", name)),
	)
	if err != nil {
		return nil, err
	}
	s.counters[name] = c
	return c, nil
}

func (s *OTelSink) PutMetric(ctx context.Context, name string, value float64, unit Unit, dims ...Dimension) {
	c, err := s.counter(name, unit)
	if err != nil {
		slog.Warn("Failed to create diagnostic counter", slog.String("metric", name), slog.Any("error", err))
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(dims))
	for _, d := range dims {
		attrs = append(attrs, attribute.String(d.Name, d.Value))
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
