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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/changefeed"
	"github.com/cardinalhq/sessionkeeper/internal/invoker"
)

const insertBody = `{"Records":[{"eventID":"e1","eventName":"INSERT","dynamodb":{"NewImage":{"id":{"S":"K1"},"workflowName":{"S":"W1"}}}}]}`

// fakeDispatcher records every batch and fails while errs has entries.
type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]changefeed.Event
	errs    []error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, events []changefeed.Event) ([]changefeed.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	out := make([]changefeed.Execution, 0, len(events))
	for _, ev := range events {
		out = append(out, changefeed.Execution{Name: ev.ID})
	}
	return out, nil
}

func (f *fakeDispatcher) Batches() [][]changefeed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]changefeed.Event(nil), f.batches...)
}

func newRealDispatcher(t *testing.T, policy changefeed.ErrorPolicy) *changefeed.Dispatcher {
	t.Helper()
	d, _ := newDispatcherWithEngine(t, policy)
	return d
}

func newDispatcherWithEngine(t *testing.T, policy changefeed.ErrorPolicy) (*changefeed.Dispatcher, *invoker.MemoryEngine) {
	t.Helper()
	cfg := changefeed.DefaultConfig()
	cfg.PrimaryTarget = "primary"
	cfg.ErrorPolicy = policy
	engine := invoker.NewMemoryEngine()
	d, err := changefeed.NewDispatcher(cfg, invoker.New(engine, cfg.PartitionKeyField, nil), nil)
	require.NoError(t, err)
	return d, engine
}

func TestHandleMessage(t *testing.T) {
	d := &fakeDispatcher{}
	execs, err := handleMessage(context.Background(), "test", []byte(insertBody), d)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "e1", execs[0].Name)

	_, err = handleMessage(context.Background(), "test", nil, d)
	assert.Error(t, err)
	_, err = handleMessage(context.Background(), "test", []byte("garbage"), d)
	assert.Error(t, err)
	assert.Len(t, d.Batches(), 1)
}

func TestNewBackend(t *testing.T) {
	d := &fakeDispatcher{}
	src := config.SourceConfig{StreamARN: "arn:stream", QueueURL: "https://sqs/queue"}

	b, err := NewBackend(BackendTypeHTTP, Deps{Source: src, Dispatcher: d})
	require.NoError(t, err)
	assert.Equal(t, "http", b.GetName())

	b, err = NewBackend(BackendTypeStreams, Deps{Source: src, Dispatcher: d, Streams: &fakeStreams{}})
	require.NoError(t, err)
	assert.Equal(t, "streams", b.GetName())

	b, err = NewBackend(BackendTypeSQS, Deps{Source: src, Dispatcher: d, SQS: &fakeSQS{}})
	require.NoError(t, err)
	assert.Equal(t, "sqs", b.GetName())

	_, err = NewBackend(BackendTypeSQS, Deps{Source: src, Dispatcher: d})
	assert.Error(t, err)
	_, err = NewBackend("kafka", Deps{Source: src, Dispatcher: d})
	assert.Error(t, err)
	_, err = NewBackend(BackendTypeHTTP, Deps{Source: src})
	assert.Error(t, err)
}

func TestServicesRequireTheirSourceSettings(t *testing.T) {
	_, err := NewStreamsService(&fakeStreams{}, config.SourceConfig{}, &fakeDispatcher{}, nil)
	assert.Error(t, err)
	_, err = NewSQSService(&fakeSQS{}, config.SourceConfig{}, &fakeDispatcher{}, nil)
	assert.Error(t, err)
}

var errDispatch = errors.New("dispatch failed")
