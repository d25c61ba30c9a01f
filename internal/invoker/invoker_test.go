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

package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
)

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) StartExecution(ctx context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sfn.StartExecutionOutput)
	return out, args.Error(1)
}

func TestStartBuildsPayloadAndName(t *testing.T) {
	engine := NewMemoryEngine()
	inv := New(engine, "sessionId", nil)

	exec, err := inv.Start(context.Background(), "primary-workflow", "W1", "K1")
	require.NoError(t, err)
	assert.Equal(t, "W1", exec.Name)
	assert.Equal(t, "primary-workflow", exec.Target)
	assert.False(t, exec.Duplicate)
	assert.NotEmpty(t, exec.Handle.ID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(exec.Input), &payload))
	assert.Equal(t, map[string]string{"sessionId": "K1", "partitionKey": "K1"}, payload)

	started := engine.Started()
	require.Len(t, started, 1)
	assert.Equal(t, "W1", started[0].Name)
}

func TestStartWithoutNameIsNotFound(t *testing.T) {
	engine := NewMemoryEngine()
	inv := New(engine, "id", nil)

	_, err := inv.Start(context.Background(), "primary", "", "K1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.NotFound))
	assert.Empty(t, engine.Started(), "engine must not be called without a name")
}

func TestStartDuplicateIsTolerated(t *testing.T) {
	sink := &diagnostics.Recorder{}
	inv := New(NewMemoryEngine(), "id", sink)

	_, err := inv.Start(context.Background(), "primary", "W1", "K1")
	require.NoError(t, err)
	exec, err := inv.Start(context.Background(), "primary", "W1", "K1")
	require.NoError(t, err)
	assert.True(t, exec.Duplicate)
	assert.Equal(t, float64(1), sink.Count(diagnostics.MetricDuplicateExecution))
}

func TestStartSerializationFailureIsFatal(t *testing.T) {
	engine := NewMemoryEngine()
	inv := New(engine, "id", nil)
	inv.marshal = func(any) ([]byte, error) { return nil, errors.New("cannot encode") }

	_, err := inv.Start(context.Background(), "primary", "W1", "K1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot encode")
	assert.Empty(t, engine.Started())
}

func TestStartPropagatesEngineErrors(t *testing.T) {
	starter := &mockStarter{}
	starter.On("StartExecution", mock.Anything, mock.Anything).
		Return(nil, &types.InvalidArn{Message: aws.String("bad arn")}).Once()

	inv := New(NewSFNEngine(starter), "id", nil)
	_, err := inv.Start(context.Background(), "not-an-arn", "W1", "K1")
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
	starter.AssertExpectations(t)
}

func TestSFNEngine(t *testing.T) {
	started := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	starter := &mockStarter{}
	starter.On("StartExecution", mock.Anything, mock.MatchedBy(func(in *sfn.StartExecutionInput) bool {
		return aws.ToString(in.StateMachineArn) == "arn:aws:states:us-east-2:123:stateMachine:delete" &&
			aws.ToString(in.Name) == "W1" &&
			aws.ToString(in.Input) == `{"id":"K1"}`
	})).Return(&sfn.StartExecutionOutput{
		ExecutionArn: aws.String("arn:aws:states:us-east-2:123:execution:delete:W1"),
		StartDate:    aws.Time(started),
	}, nil).Once()
	starter.On("StartExecution", mock.Anything, mock.Anything).
		Return(nil, &types.ExecutionAlreadyExists{Message: aws.String("exists")}).Once()

	engine := NewSFNEngine(starter)
	h, err := engine.StartExecution(context.Background(), "arn:aws:states:us-east-2:123:stateMachine:delete", "W1", `{"id":"K1"}`)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:states:us-east-2:123:execution:delete:W1", h.ID)
	assert.Equal(t, started, h.StartedAt)

	_, err = engine.StartExecution(context.Background(), "arn:aws:states:us-east-2:123:stateMachine:delete", "W1", `{"id":"K2"}`)
	assert.ErrorIs(t, err, ErrDuplicateExecution)
	starter.AssertExpectations(t)
}

func TestSFNEngineThrottlingIsTransient(t *testing.T) {
	starter := &mockStarter{}
	starter.On("StartExecution", mock.Anything, mock.Anything).
		Return(nil, &types.ExecutionLimitExceeded{Message: aws.String("too many")}).Once()

	inv := New(NewSFNEngine(starter), "id", nil)
	_, err := inv.Start(context.Background(), "arn", "W1", "K1")
	require.Error(t, err)
	assert.Equal(t, errkind.TransientExternal, errkind.KindOf(err))
}
