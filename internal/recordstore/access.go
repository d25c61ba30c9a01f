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

package recordstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/logctx"
	"github.com/cardinalhq/sessionkeeper/internal/records"
	"github.com/cardinalhq/sessionkeeper/internal/transition"
)

// Access wraps a Store with validation and the guarded transition update.
type Access struct {
	store  Store
	table  transition.Table
	strict bool
	sink   diagnostics.Sink
	now    func() time.Time
	tracer trace.Tracer
}

// AccessOption is a functional option for configuring Access.
type AccessOption func(*Access)

// WithStrictTransitions makes SafeTransitionUpdate return a Conflict error
// for an illegal transition instead of ignoring it.
func WithStrictTransitions(strict bool) AccessOption {
	return func(a *Access) {
		a.strict = strict
	}
}

func WithTransitionTable(t transition.Table) AccessOption {
	return func(a *Access) {
		a.table = t
	}
}

func WithDiagnostics(sink diagnostics.Sink) AccessOption {
	return func(a *Access) {
		a.sink = sink
	}
}

func WithClock(now func() time.Time) AccessOption {
	return func(a *Access) {
		a.now = now
	}
}

func NewAccess(store Store, opts ...AccessOption) *Access {
	a := &Access{
		store:  store,
		table:  transition.DefaultTable(),
		sink:   diagnostics.Nop(),
		now:    time.Now,
		tracer: otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/recordstore"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Save validates rec and upserts it unconditionally. Nothing is written when
// validation fails. The returned record carries the store-managed fields.
func (a *Access) Save(ctx context.Context, rec *records.Record) (*records.Record, error) {
	ctx, span := a.tracer.Start(ctx, "Access.Save")
	defer span.End()

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record.id", rec.ID))

	toStore := rec.Clone()
	now := a.now().UTC()
	if toStore.CreatedAt.IsZero() {
		toStore.CreatedAt = now
	}
	toStore.UpdatedAt = now

	stored, err := a.store.Put(ctx, toStore)
	if err != nil {
		return nil, errkind.Classify("save", err)
	}
	return stored, nil
}

// Load returns nil, nil when id is absent.
func (a *Access) Load(ctx context.Context, id string) (*records.Record, error) {
	ctx, span := a.tracer.Start(ctx, "Access.Load", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, errkind.Classify("load", err)
	}
	return rec, nil
}

// FindByIndex returns the first record whose indexed attribute equals key,
// or nil, nil when nothing matches.
func (a *Access) FindByIndex(ctx context.Context, index, key string) (*records.Record, error) {
	ctx, span := a.tracer.Start(ctx, "Access.FindByIndex", trace.WithAttributes(attribute.String("index", index)))
	defer span.End()

	found, err := a.store.Query(ctx, index, key)
	if err != nil {
		if errors.Is(err, ErrUnknownIndex) {
			return nil, errkind.Wrap(errkind.Validation, "find", err, "")
		}
		return nil, errkind.Classify("find", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	first := found[0]
	return &first, nil
}

// SafeTransitionUpdate moves the record's connection status to target if the
// transition table allows it. An illegal transition is ignored (false, nil)
// unless strict mode is on, in which case it is a Conflict. The write is
// conditional on the version and status that were read; losing that race is
// always a Conflict.
func (a *Access) SafeTransitionUpdate(ctx context.Context, id string, target records.ConnectionStatus) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "Access.SafeTransitionUpdate", trace.WithAttributes(
		attribute.String("record.id", id),
		attribute.String("target", string(target)),
	))
	defer span.End()
	logger := logctx.FromContext(ctx).With(slog.String("recordID", id), slog.String("target", string(target)))

	if err := records.ValidateConnectionStatus(target); err != nil {
		return false, err
	}

	current, err := a.Load(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, errkind.New(errkind.NotFound, "transition", "record %q not found", id)
	}
	from, ok := current.ConnectionStatus()
	if !ok {
		return false, errkind.New(errkind.InvalidState, "transition", "record %q has no source connection", id)
	}

	if !a.table.IsValidTransition(transition.KindPeerConnection, transition.State(from), transition.State(target)) {
		a.sink.PutMetric(ctx, diagnostics.MetricIgnoredTransition, 1, diagnostics.UnitCount,
			diagnostics.Dim("from", string(from)),
			diagnostics.Dim("to", string(target)))
		if a.strict {
			return false, errkind.New(errkind.Conflict, "transition", "illegal transition %s -> %s for record %q", from, target, id)
		}
		logger.Info("Ignoring illegal connection transition", slog.String("from", string(from)))
		return false, nil
	}

	next := current.Clone()
	next.Source.ConnectionStatus = target
	next.UpdatedAt = a.now().UTC()

	_, err = a.store.PutIf(ctx, next, Precondition{
		Version:          current.Version,
		ConnectionStatus: from,
	})
	if errors.Is(err, ErrConditionFailed) {
		logger.Warn("Concurrent update detected, transition rejected",
			slog.String("from", string(from)),
			slog.Int64("version", current.Version))
		return false, errkind.Wrap(errkind.Conflict, "transition", err, "record changed since it was read")
	}
	if err != nil {
		return false, errkind.Classify("transition", err)
	}
	logger.Debug("Applied connection transition", slog.String("from", string(from)))
	return true, nil
}
