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

// Package invoker starts named workflow executions. It does not
// deduplicate; the engine is relied on to reject or coalesce a repeated name.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/logctx"
)

// ErrDuplicateExecution is returned by an Engine when an execution with the
// same name already exists.
var ErrDuplicateExecution = errors.New("execution already exists")

// Handle identifies a started execution inside the engine.
type Handle struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// Engine is the external workflow engine.
type Engine interface {
	StartExecution(ctx context.Context, target, name, input string) (Handle, error)
}

// Execution is one start request and its outcome.
type Execution struct {
	Name         string `json:"name"`
	Target       string `json:"target"`
	PartitionKey string `json:"partitionKey"`
	Input        string `json:"input"`
	Handle       Handle `json:"handle"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// Invoker builds the execution input and calls the Engine.
type Invoker struct {
	engine            Engine
	partitionKeyField string
	sink              diagnostics.Sink
	marshal           func(any) ([]byte, error)
	tracer            trace.Tracer
}

func New(engine Engine, partitionKeyField string, sink diagnostics.Sink) *Invoker {
	if sink == nil {
		sink = diagnostics.Nop()
	}
	return &Invoker{
		engine:            engine,
		partitionKeyField: partitionKeyField,
		sink:              sink,
		marshal:           json.Marshal,
		tracer:            otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/invoker"),
	}
}

func (i *Invoker) payload(partitionKey string) map[string]string {
	p := map[string]string{"partitionKey": partitionKey}
	if i.partitionKeyField != "" {
		p[i.partitionKeyField] = partitionKey
	}
	return p
}

// Start asks the engine to run target under name. An empty name is a
// NotFound error and the engine is not called. A duplicate name is reported
// through Execution.Duplicate and is not an error.
func (i *Invoker) Start(ctx context.Context, target, name, partitionKey string) (Execution, error) {
	ctx, span := i.tracer.Start(ctx, "Invoker.Start", trace.WithAttributes(
		attribute.String("execution.target", target),
		attribute.String("execution.name", name),
	))
	defer span.End()

	exec := Execution{Name: name, Target: target, PartitionKey: partitionKey}
	if name == "" {
		return exec, errkind.New(errkind.NotFound, "start", "workflow name not found for partition key %q", partitionKey)
	}

	input, err := i.marshal(i.payload(partitionKey))
	if err != nil {
		return exec, errkind.Wrap(errkind.Internal, "start", err, "serialize execution input")
	}
	exec.Input = string(input)

	handle, err := i.engine.StartExecution(ctx, target, name, exec.Input)
	if errors.Is(err, ErrDuplicateExecution) {
		exec.Duplicate = true
		i.sink.PutMetric(ctx, diagnostics.MetricDuplicateExecution, 1, diagnostics.UnitCount,
			diagnostics.Dim("target", target))
		logctx.FromContext(ctx).Info("Execution already started, treating as redelivery",
			slog.String("name", name),
			slog.String("target", target))
		return exec, nil
	}
	if err != nil {
		return exec, errkind.Classify("start", err)
	}
	exec.Handle = handle
	return exec, nil
}
