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
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/records"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newSession(status records.ConnectionStatus) *records.Record {
	return &records.Record{
		ID:           uuid.NewString(),
		Kind:         records.KindSession,
		Status:       records.SessionRunning,
		Source:       &records.Source{PeerID: "peer-1", ConnectionStatus: status},
		DeviceID:     "device-" + uuid.NewString(),
		WorkflowName: "wf-" + uuid.NewString(),
	}
}

func seed(t *testing.T, a *Access, rec *records.Record) *records.Record {
	t.Helper()
	stored, err := a.Save(context.Background(), rec)
	require.NoError(t, err)
	return stored
}

func withoutManaged(r *records.Record) records.Record {
	c := *r.Clone()
	c.CreatedAt = time.Time{}
	c.UpdatedAt = time.Time{}
	c.Version = 0
	return c
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil), WithClock(fixedClock()))

	rec := newSession(records.ConnectionNew)
	rec.ErrorCode = "E42"
	rec.ErrorMessage = "peer went away"

	stored, err := a.Save(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.False(t, stored.CreatedAt.IsZero())

	loaded, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, withoutManaged(rec), withoutManaged(loaded))
}

func TestSaveKeepsCreatedAtAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAccess(NewMemoryStore(nil), WithClock(func() time.Time { return now }))

	rec := newSession(records.ConnectionNew)
	first := seed(t, a, rec)

	now = now.Add(time.Hour)
	again := rec.Clone()
	again.CreatedAt = time.Time{}
	second, err := a.Save(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, now, second.UpdatedAt)
	assert.Equal(t, first.Version+1, second.Version)
}

func TestSaveRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	a := NewAccess(store)

	rec := newSession(records.ConnectionNew)
	rec.Status = "EXPLODING"
	_, err := a.Save(ctx, rec)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Validation))

	loaded, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded, "nothing may be written on validation failure")

	_, err = a.Save(ctx, &records.Record{Kind: records.KindSession})
	assert.True(t, errkind.Is(err, errkind.Validation))
}

func TestLoadAbsentIsNotAnError(t *testing.T) {
	a := NewAccess(NewMemoryStore(nil))
	rec, err := a.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFindByIndex(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil))
	rec := seed(t, a, newSession(records.ConnectionNew))

	found, err := a.FindByIndex(ctx, DeviceIndex, rec.DeviceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)

	found, err = a.FindByIndex(ctx, WorkflowIndex, rec.WorkflowName)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)

	found, err = a.FindByIndex(ctx, DeviceIndex, "no-such-device")
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = a.FindByIndex(ctx, "bogus-index", "x")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Validation))
}

func TestSafeTransitionUpdateAppliesLegalTransition(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil))
	rec := seed(t, a, newSession(records.ConnectionConnecting))

	applied, err := a.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionConnected)
	require.NoError(t, err)
	assert.True(t, applied)

	loaded, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	status, ok := loaded.ConnectionStatus()
	require.True(t, ok)
	assert.Equal(t, records.ConnectionConnected, status)
	assert.Equal(t, rec.Version+1, loaded.Version)
}

func TestSafeTransitionUpdateIgnoresIllegalTransition(t *testing.T) {
	ctx := context.Background()
	sink := &diagnostics.Recorder{}
	a := NewAccess(NewMemoryStore(nil), WithDiagnostics(sink))
	rec := seed(t, a, newSession(records.ConnectionConnected))

	before, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)

	applied, err := a.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionConnecting)
	require.NoError(t, err)
	assert.False(t, applied)

	after, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "record must be unchanged, timestamps and version included")
	assert.Equal(t, float64(1), sink.Count(diagnostics.MetricIgnoredTransition,
		diagnostics.Dim("from", "CONNECTED"), diagnostics.Dim("to", "CONNECTING")))
}

func TestSafeTransitionUpdateStrictMode(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil), WithStrictTransitions(true))
	rec := seed(t, a, newSession(records.ConnectionConnected))

	applied, err := a.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionConnecting)
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, errkind.Is(err, errkind.Conflict))

	loaded, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, loaded.Version)
}

func TestSafeTransitionUpdateNoOpIsLegal(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil), WithStrictTransitions(true))
	rec := seed(t, a, newSession(records.ConnectionClosed))

	applied, err := a.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionClosed)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestSafeTransitionUpdateNotFound(t *testing.T) {
	a := NewAccess(NewMemoryStore(nil))
	_, err := a.SafeTransitionUpdate(context.Background(), "nope", records.ConnectionConnected)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestSafeTransitionUpdateWithoutSource(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil))
	rec := newSession(records.ConnectionNew)
	rec.Source = nil
	seed(t, a, rec)

	_, err := a.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionConnecting)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidState))
}

func TestSafeTransitionUpdateRejectsUnknownTarget(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil))
	rec := seed(t, a, newSession(records.ConnectionNew))

	_, err := a.SafeTransitionUpdate(ctx, rec.ID, "WARP")
	assert.True(t, errkind.Is(err, errkind.Validation))
}

// racingStore lets a second writer slip in between the read and the write.
type racingStore struct {
	*MemoryStore
	once   sync.Once
	interp func()
}

func (r *racingStore) PutIf(ctx context.Context, rec *records.Record, cond Precondition) (*records.Record, error) {
	r.once.Do(r.interp)
	return r.MemoryStore.PutIf(ctx, rec, cond)
}

func TestSafeTransitionUpdateRejectsStaleWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore(nil)
	store := &racingStore{MemoryStore: mem}
	a := NewAccess(store)
	rec := seed(t, a, newSession(records.ConnectionConnecting))

	store.interp = func() {
		// Another caller moves CONNECTING -> FAILED first.
		other := NewAccess(mem)
		applied, err := other.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionFailed)
		require.NoError(t, err)
		require.True(t, applied)
	}

	applied, err := a.SafeTransitionUpdate(ctx, rec.ID, records.ConnectionConnected)
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, errkind.Is(err, errkind.Conflict))
	assert.ErrorIs(t, err, ErrConditionFailed)

	loaded, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	status, _ := loaded.ConnectionStatus()
	assert.Equal(t, records.ConnectionFailed, status, "the first writer's effect must survive")
}

func TestSafeTransitionUpdateConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	a := NewAccess(NewMemoryStore(nil))
	rec := seed(t, a, newSession(records.ConnectionConnecting))

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount, conflictCount := 0, 0
	for i := range writers {
		wg.Add(1)
		target := records.ConnectionConnected
		if i%2 == 1 {
			target = records.ConnectionFailed
		}
		go func() {
			defer wg.Done()
			applied, err := a.SafeTransitionUpdate(ctx, rec.ID, target)
			mu.Lock()
			defer mu.Unlock()
			if applied {
				appliedCount++
			}
			if errkind.Is(err, errkind.Conflict) {
				conflictCount++
			}
		}()
	}
	wg.Wait()

	loaded, err := a.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, appliedCount, 1)
	assert.Equal(t, rec.Version+int64(appliedCount), loaded.Version, "every applied write bumps the version exactly once")
	assert.LessOrEqual(t, appliedCount+conflictCount, writers)
}

type failingStore struct {
	MemoryStore
	err error
}

func (f *failingStore) Get(context.Context, string) (*records.Record, error) {
	return nil, f.err
}

func TestLoadPropagatesStoreErrors(t *testing.T) {
	a := NewAccess(&failingStore{err: errors.New("socket closed")})
	_, err := a.Load(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))

	_, err = a.SafeTransitionUpdate(context.Background(), "x", records.ConnectionConnected)
	require.Error(t, err)
}
