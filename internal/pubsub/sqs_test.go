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
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/sessionkeeper/config"
)

type fakeSQS struct {
	mu       sync.Mutex
	pending  []types.Message
	deleted  []string
	receives int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives++
	msgs := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		// Long poll with nothing to deliver.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func TestSQSDeletesOnlyDispatchedMessages(t *testing.T) {
	client := &fakeSQS{}
	svc, err := NewSQSService(client, config.SourceConfig{QueueURL: "https://sqs/queue", MaxConcurrent: 2},
		newRealDispatcher(t, "fail-batch"), nil)
	require.NoError(t, err)

	missingKey := `{"Records":[{"eventName":"INSERT","dynamodb":{"NewImage":{"workflowName":{"S":"W9"}}}}]}`
	svc.processMessages(context.Background(), []types.Message{
		message("good", insertBody),
		message("bad", missingKey),
		message("garbage", "{"),
		{MessageId: aws.String("nil-body"), ReceiptHandle: aws.String("rh-nil-body")},
	})

	assert.Equal(t, []string{"rh-good"}, client.Deleted())
}

func TestSQSRunStopsOnCancel(t *testing.T) {
	client := &fakeSQS{pending: []types.Message{message("m1", insertBody)}}
	d := &fakeDispatcher{}
	svc, err := NewSQSService(client, config.SourceConfig{QueueURL: "https://sqs/queue"}, d, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(client.Deleted()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, d.Batches(), 1)
}
