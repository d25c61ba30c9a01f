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

package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/sessionkeeper/internal/changefeed"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
)

var (
	batchesProcessed metric.Int64Counter
	batchesFailed    metric.Int64Counter
	poisonEvents     metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/sessionkeeper/internal/pubsub")

	var err error
	batchesProcessed, err = meter.Int64Counter(
		"pubsub_batches_processed_total",
		metric.WithDescription("Total number of change event batches dispatched without error"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batchesProcessed counter: %w", err))
	}

	batchesFailed, err = meter.Int64Counter(
		"pubsub_batches_failed_total",
		metric.WithDescription("Total number of change event batches that returned an error"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batchesFailed counter: %w", err))
	}

	poisonEvents, err = meter.Int64Counter(
		"pubsub_poison_events_total",
		metric.WithDescription("Total number of change events skipped after a permanent failure"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create poisonEvents counter: %w", err))
	}
}

// skipPoisonEvent records an event that will never dispatch so the source
// can move past it.
func skipPoisonEvent(ctx context.Context, ll *slog.Logger, source, seq string, err error) {
	kind := errkind.KindOf(err)
	poisonEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", kind.String())))
	ll.Warn("Skipping change event that cannot be dispatched",
		slog.String("sequenceNumber", seq),
		slog.String("kind", kind.String()),
		slog.Any("error", err))
}

// handleMessage parses a stream-shaped JSON body and dispatches it.
func handleMessage(ctx context.Context, source string, msg []byte, d Dispatcher) ([]changefeed.Execution, error) {
	if len(msg) == 0 {
		return nil, errkind.New(errkind.Validation, "handle", "empty message received")
	}

	events, err := changefeed.ParseBatch(msg)
	if err != nil {
		batchesFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("reason", "parse")))
		return nil, err
	}
	return dispatchEvents(ctx, source, events, d)
}

func dispatchEvents(ctx context.Context, source string, events []changefeed.Event, d Dispatcher) ([]changefeed.Execution, error) {
	execs, err := d.Dispatch(ctx, events)
	if err != nil {
		batchesFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("reason", errkind.KindOf(err).String())))
		return execs, err
	}
	batchesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	return execs, nil
}
