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
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/invoker"
	"github.com/cardinalhq/sessionkeeper/internal/logctx"
)

// ErrInvariantViolation marks an event whose new image has no partition key.
var ErrInvariantViolation = errors.New("partition key missing from change event")

// Execution is a started (or already running) workflow execution.
type Execution = invoker.Execution

// ErrorPolicy decides how far an event error reaches.
type ErrorPolicy string

const (
	// FailBatch stops at the first event error.
	FailBatch ErrorPolicy = "fail-batch"
	// IsolateEvent records the error and moves on to the next event.
	IsolateEvent ErrorPolicy = "isolate-event"
)

// MissingNamePolicy decides what a trigger without a workflow name does.
type MissingNamePolicy string

const (
	MissingNameFail MissingNamePolicy = "fail"
	MissingNameSkip MissingNamePolicy = "skip"
)

// ParseErrorPolicy validates a configured policy name. Empty means FailBatch.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", FailBatch:
		return FailBatch, nil
	case IsolateEvent:
		return IsolateEvent, nil
	}
	return "", errkind.New(errkind.Validation, "config", "unknown error policy %q", s)
}

// ParseMissingNamePolicy validates a configured policy name. Empty means fail.
func ParseMissingNamePolicy(s string) (MissingNamePolicy, error) {
	switch MissingNamePolicy(s) {
	case "", MissingNameFail:
		return MissingNameFail, nil
	case MissingNameSkip:
		return MissingNameSkip, nil
	}
	return "", errkind.New(errkind.Validation, "config", "unknown missing name policy %q", s)
}

// Config is the static dispatch configuration.
type Config struct {
	PartitionKeyField          string
	WorkflowNameField          string
	AlternateWorkflowNameField string
	StatusField                string
	PrimaryTarget              string
	Triggers                   map[string]string
	ErrorPolicy                ErrorPolicy
	MissingNamePolicy          MissingNamePolicy
}

// DefaultConfig returns the field names used by session and job records.
func DefaultConfig() Config {
	return Config{
		PartitionKeyField:          "id",
		WorkflowNameField:          "workflowName",
		AlternateWorkflowNameField: "workflowExecutionName",
		StatusField:                "status",
		Triggers:                   map[string]string{},
		ErrorPolicy:                FailBatch,
		MissingNamePolicy:          MissingNameFail,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PartitionKeyField == "" {
		c.PartitionKeyField = d.PartitionKeyField
	}
	if c.WorkflowNameField == "" {
		c.WorkflowNameField = d.WorkflowNameField
	}
	if c.StatusField == "" {
		c.StatusField = d.StatusField
	}
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = d.ErrorPolicy
	}
	if c.MissingNamePolicy == "" {
		c.MissingNamePolicy = d.MissingNamePolicy
	}
	if c.Triggers == nil {
		c.Triggers = map[string]string{}
	}
	return c
}

// EventError is the failure of one event within a batch.
type EventError struct {
	Index   int
	EventID string
	Err     error
}

func (e *EventError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("event %d (%s): %v", e.Index, e.EventID, e.Err)
	}
	return fmt.Sprintf("event %d: %v", e.Index, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// BatchError collects the event errors of one Dispatch call.
type BatchError struct {
	Events []*EventError
	// Attempted counts the leading events that were dispatched or failed.
	// Under fail-batch the remainder was never tried.
	Attempted int
	errs      *multierror.Error
}

func (b *BatchError) add(e *EventError) {
	b.Events = append(b.Events, e)
	b.errs = multierror.Append(b.errs, e)
}

func (b *BatchError) Error() string {
	return b.errs.Error()
}

// Unwrap exposes every event error to errors.Is and errors.As.
func (b *BatchError) Unwrap() []error {
	out := make([]error, len(b.Events))
	for i, e := range b.Events {
		out[i] = e
	}
	return out
}

// Starter starts one named execution.
type Starter interface {
	Start(ctx context.Context, target, name, partitionKey string) (invoker.Execution, error)
}

// Dispatcher decides, per event, whether to start a workflow execution.
type Dispatcher struct {
	cfg     Config
	starter Starter
	sink    diagnostics.Sink
	x       extractor
	tracer  trace.Tracer

	events     metric.Int64Counter
	executions metric.Int64Counter
}

func NewDispatcher(cfg Config, starter Starter, sink diagnostics.Sink) (*Dispatcher, error) {
	cfg = cfg.withDefaults()
	if cfg.PrimaryTarget == "" {
		return nil, errkind.New(errkind.Validation, "dispatcher", "primary target is required")
	}
	if sink == nil {
		sink = diagnostics.Nop()
	}

	meter := otel.Meter("github.com/cardinalhq/sessionkeeper/internal/changefeed")
	events, err := meter.Int64Counter(
		"sessionkeeper.changefeed.events",
		metric.WithDescription("Change events seen by the dispatcher, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}
	executions, err := meter.Int64Counter(
		"sessionkeeper.changefeed.executions",
		metric.WithDescription("Workflow executions started by the dispatcher"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}

	return &Dispatcher{
		cfg:     cfg,
		starter: starter,
		sink:    sink,
		x: extractor{
			sink:          sink,
			workflowField: cfg.WorkflowNameField,
			alternate:     cfg.AlternateWorkflowNameField,
		},
		tracer:     otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/changefeed"),
		events:     events,
		executions: executions,
	}, nil
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Dispatch processes a batch in order. The returned executions are in input
// order; filtered events contribute nothing. When any event fails the error
// is a *BatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) ([]Execution, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Dispatch",
		trace.WithAttributes(attribute.Int("batch.size", len(events))))
	defer span.End()

	var (
		out   []Execution
		batch *BatchError
	)
	for i, ev := range events {
		exec, started, err := d.dispatchOne(ctx, ev)
		if err != nil {
			d.events.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
			if batch == nil {
				batch = &BatchError{}
			}
			batch.add(&EventError{Index: i, EventID: ev.ID, Err: err})
			logctx.FromContext(ctx).Error("Failed to dispatch change event",
				slog.Int("index", i),
				slog.String("eventID", ev.ID),
				slog.Any("error", err))
			if d.cfg.ErrorPolicy != IsolateEvent {
				batch.Attempted = i + 1
				break
			}
			batch.Attempted = len(events)
			continue
		}
		if !started {
			d.events.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))
			continue
		}
		d.events.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "triggered")))
		d.executions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("target", exec.Target),
			attribute.Bool("duplicate", exec.Duplicate)))
		out = append(out, exec)
	}

	if batch != nil {
		span.RecordError(batch)
		return out, batch
	}
	return out, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev Event) (Execution, bool, error) {
	if ev.Type == EventRemove {
		return Execution{}, false, nil
	}
	if ev.Type != EventInsert && ev.Type != EventModify {
		return Execution{}, false, errkind.New(errkind.Validation, "dispatch", "unknown event type %q", ev.Type)
	}

	key, ok := d.x.field(ctx, ev.NewImage, d.cfg.PartitionKeyField)
	if !ok {
		return Execution{}, false, errkind.Wrap(errkind.InvariantViolation, "dispatch", ErrInvariantViolation, d.cfg.PartitionKeyField)
	}
	name, _ := d.x.field(ctx, ev.NewImage, d.cfg.WorkflowNameField)

	var target string
	switch ev.Type {
	case EventInsert:
		target = d.cfg.PrimaryTarget
	case EventModify:
		oldStatus, _ := d.x.field(ctx, ev.OldImage, d.cfg.StatusField)
		newStatus, _ := d.x.field(ctx, ev.NewImage, d.cfg.StatusField)
		if oldStatus == newStatus {
			return Execution{}, false, nil
		}
		t, ok := d.cfg.Triggers[newStatus]
		if !ok {
			return Execution{}, false, nil
		}
		target = t
	}

	if name == "" && d.cfg.MissingNamePolicy == MissingNameSkip {
		d.sink.PutMetric(ctx, diagnostics.MetricMissingWorkflowName, 1, diagnostics.UnitCount,
			diagnostics.Dim("target", target))
		logctx.FromContext(ctx).Warn("Skipping trigger without workflow name",
			slog.String("partitionKey", key),
			slog.String("target", target))
		return Execution{}, false, nil
	}

	exec, err := d.starter.Start(ctx, target, name, key)
	if err != nil {
		return Execution{}, false, err
	}
	return exec, true, nil
}
