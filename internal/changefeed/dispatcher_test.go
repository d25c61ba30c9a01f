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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/invoker"
)

const primary = "primary-workflow"

func newTestDispatcher(t *testing.T, mutate func(*Config)) (*Dispatcher, *invoker.MemoryEngine, *diagnostics.Recorder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PrimaryTarget = primary
	cfg.Triggers = map[string]string{"DELETING": "delete-workflow"}
	if mutate != nil {
		mutate(&cfg)
	}
	engine := invoker.NewMemoryEngine()
	sink := &diagnostics.Recorder{}
	d, err := NewDispatcher(cfg, invoker.New(engine, cfg.PartitionKeyField, sink), sink)
	require.NoError(t, err)
	return d, engine, sink
}

func insert(id, name string) Event {
	return Event{ID: "ev-" + id, Type: EventInsert, NewImage: Image{
		"id":           String(id),
		"workflowName": String(name),
		"status":       String("CREATING"),
	}}
}

func modify(id, name, from, to string) Event {
	return Event{
		ID:       "ev-" + id,
		Type:     EventModify,
		OldImage: Image{"id": String(id), "workflowName": String(name), "status": String(from)},
		NewImage: Image{"id": String(id), "workflowName": String(name), "status": String(to)},
	}
}

func TestDispatchInsertTriggersPrimary(t *testing.T) {
	d, engine, _ := newTestDispatcher(t, nil)

	execs, err := d.Dispatch(context.Background(), []Event{insert("K1", "W1")})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "W1", execs[0].Name)
	assert.Equal(t, primary, execs[0].Target)
	assert.Equal(t, "K1", execs[0].PartitionKey)
	assert.Len(t, engine.Started(), 1)
}

func TestDispatchModify(t *testing.T) {
	tests := []struct {
		name       string
		from, to   string
		wantTarget string
	}{
		{"same status is skipped", "RUNNING", "RUNNING", ""},
		{"trigger status", "RUNNING", "DELETING", "delete-workflow"},
		{"non-trigger status", "CREATING", "RUNNING", ""},
		{"status appears", "", "DELETING", "delete-workflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDispatcher(t, nil)
			execs, err := d.Dispatch(context.Background(), []Event{modify("K1", "W1", tt.from, tt.to)})
			require.NoError(t, err)
			if tt.wantTarget == "" {
				assert.Empty(t, execs)
				return
			}
			require.Len(t, execs, 1)
			assert.Equal(t, tt.wantTarget, execs[0].Target)
			assert.Equal(t, "W1", execs[0].Name)
		})
	}
}

func TestDispatchRemoveIsSkipped(t *testing.T) {
	d, engine, sink := newTestDispatcher(t, nil)

	execs, err := d.Dispatch(context.Background(), []Event{{Type: EventRemove, OldImage: Image{"id": String("K1")}}})
	require.NoError(t, err)
	assert.Empty(t, execs)
	assert.Empty(t, engine.Started())
	assert.Empty(t, sink.Points())
}

func TestDispatchNumericFallback(t *testing.T) {
	d, _, sink := newTestDispatcher(t, nil)

	ev := Event{Type: EventInsert, NewImage: Image{
		"id":           Number("42"),
		"workflowName": String("W42"),
	}}
	execs, err := d.Dispatch(context.Background(), []Event{ev})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "42", execs[0].PartitionKey)
	assert.Zero(t, sink.Count(diagnostics.MetricMissingField))
}

func TestDispatchAlternateWorkflowNameField(t *testing.T) {
	d, _, sink := newTestDispatcher(t, nil)

	ev := Event{Type: EventInsert, NewImage: Image{
		"id":                    String("job-1"),
		"workflowExecutionName": String("job-exec-1"),
	}}
	execs, err := d.Dispatch(context.Background(), []Event{ev})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "job-exec-1", execs[0].Name)
	assert.Zero(t, sink.Count(diagnostics.MetricMissingField))
}

func TestDispatchMissingPartitionKeyFailsBatch(t *testing.T) {
	d, engine, sink := newTestDispatcher(t, nil)

	bad := Event{ID: "ev-bad", Type: EventInsert, NewImage: Image{"workflowName": String("W2")}}
	execs, err := d.Dispatch(context.Background(), []Event{insert("K1", "W1"), bad, insert("K3", "W3")})
	require.Error(t, err)

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, 1, batch.Events[0].Index)
	assert.Equal(t, "ev-bad", batch.Events[0].EventID)
	assert.Equal(t, 2, batch.Attempted)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, errkind.InvariantViolation, errkind.KindOf(err))

	require.Len(t, execs, 1, "executions before the failing event are returned")
	assert.Equal(t, "W1", execs[0].Name)
	assert.Len(t, engine.Started(), 1, "events after the failure are not processed")
	assert.Equal(t, float64(1), sink.Count(diagnostics.MetricMissingField, diagnostics.Dim("field", "id")))
}

func TestDispatchMissingPartitionKeyIsolated(t *testing.T) {
	d, _, _ := newTestDispatcher(t, func(c *Config) { c.ErrorPolicy = IsolateEvent })

	bad := Event{ID: "ev-bad", Type: EventInsert, NewImage: Image{"workflowName": String("W2")}}
	execs, err := d.Dispatch(context.Background(), []Event{insert("K1", "W1"), bad, insert("K3", "W3")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	require.Len(t, execs, 2)
	assert.Equal(t, "W1", execs[0].Name)
	assert.Equal(t, "W3", execs[1].Name)
}

func TestDispatchIsolateCollectsEveryError(t *testing.T) {
	d, _, _ := newTestDispatcher(t, func(c *Config) { c.ErrorPolicy = IsolateEvent })

	noKey := Event{Type: EventInsert, NewImage: Image{"workflowName": String("W")}}
	noName := Event{Type: EventInsert, NewImage: Image{"id": String("K9")}}
	execs, err := d.Dispatch(context.Background(), []Event{noKey, insert("K1", "W1"), noName})
	require.Len(t, execs, 1)

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	require.Len(t, batch.Events, 2)
	assert.Equal(t, 3, batch.Attempted)
	assert.Equal(t, 0, batch.Events[0].Index)
	assert.Equal(t, 2, batch.Events[1].Index)
	assert.True(t, errkind.Is(batch.Events[1].Err, errkind.NotFound))
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestDispatchMissingWorkflowName(t *testing.T) {
	ev := Event{Type: EventModify,
		OldImage: Image{"id": String("K1"), "status": String("RUNNING")},
		NewImage: Image{"id": String("K1"), "status": String("DELETING")},
	}

	t.Run("fail", func(t *testing.T) {
		d, engine, sink := newTestDispatcher(t, nil)
		execs, err := d.Dispatch(context.Background(), []Event{ev})
		require.Error(t, err)
		assert.True(t, errkind.Is(err, errkind.NotFound))
		assert.Empty(t, execs)
		assert.Empty(t, engine.Started())
		assert.Equal(t, float64(1), sink.Count(diagnostics.MetricMissingField, diagnostics.Dim("field", "workflowName")))
	})

	t.Run("skip", func(t *testing.T) {
		d, engine, sink := newTestDispatcher(t, func(c *Config) { c.MissingNamePolicy = MissingNameSkip })
		execs, err := d.Dispatch(context.Background(), []Event{ev})
		require.NoError(t, err)
		assert.Empty(t, execs)
		assert.Empty(t, engine.Started())
		assert.Equal(t, float64(1), sink.Count(diagnostics.MetricMissingWorkflowName))
	})
}

func TestDispatchDuplicateIsNotAnError(t *testing.T) {
	d, engine, sink := newTestDispatcher(t, nil)

	execs, err := d.Dispatch(context.Background(), []Event{insert("K1", "W1"), insert("K1", "W1")})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.False(t, execs[0].Duplicate)
	assert.True(t, execs[1].Duplicate)
	assert.Len(t, engine.Started(), 1)
	assert.Equal(t, float64(1), sink.Count(diagnostics.MetricDuplicateExecution))
}

type failingStarter struct{ err error }

func (f failingStarter) Start(context.Context, string, string, string) (invoker.Execution, error) {
	return invoker.Execution{}, f.err
}

func TestDispatchPropagatesStarterErrors(t *testing.T) {
	boom := errkind.Wrap(errkind.TransientExternal, "start", errors.New("throttled"), "")
	cfg := DefaultConfig()
	cfg.PrimaryTarget = primary
	d, err := NewDispatcher(cfg, failingStarter{err: boom}, nil)
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), []Event{insert("K1", "W1")})
	require.Error(t, err)
	assert.Equal(t, errkind.TransientExternal, errkind.KindOf(err))
}

func TestNewDispatcherRequiresPrimaryTarget(t *testing.T) {
	_, err := NewDispatcher(Config{}, failingStarter{}, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Validation))
}

func TestDispatcherDefaults(t *testing.T) {
	d, err := NewDispatcher(Config{PrimaryTarget: primary}, failingStarter{}, nil)
	require.NoError(t, err)
	cfg := d.Config()
	assert.Equal(t, "id", cfg.PartitionKeyField)
	assert.Equal(t, "workflowName", cfg.WorkflowNameField)
	assert.Equal(t, "status", cfg.StatusField)
	assert.Equal(t, FailBatch, cfg.ErrorPolicy)
	assert.Equal(t, MissingNameFail, cfg.MissingNamePolicy)
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseErrorPolicy("isolate-event")
	require.NoError(t, err)
	assert.Equal(t, IsolateEvent, p)
	p, err = ParseErrorPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailBatch, p)
	_, err = ParseErrorPolicy("retry")
	assert.True(t, errkind.Is(err, errkind.Validation))

	m, err := ParseMissingNamePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, MissingNameSkip, m)
	_, err = ParseMissingNamePolicy("ignore")
	assert.Error(t, err)
}
