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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/config"
)

// SQSAPI is the subset of the SQS client the service calls.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSService struct {
	tracer        trace.Tracer
	client        SQSAPI
	queueURL      string
	maxConcurrent int
	dispatcher    Dispatcher
	health        Readiness

	waitSeconds    int32
	receiveBackoff time.Duration
	messageTimeout time.Duration
}

// Ensure SQSService implements Backend interface
var _ Backend = (*SQSService)(nil)

func NewSQSService(client SQSAPI, cfg config.SourceConfig, d Dispatcher, health Readiness) (*SQSService, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("source.queue_url is required for the sqs source")
	}
	if health == nil {
		health = nopReadiness{}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &SQSService{
		tracer:         otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/pubsub/sqs"),
		client:         client,
		queueURL:       cfg.QueueURL,
		maxConcurrent:  maxConcurrent,
		dispatcher:     d,
		health:         health,
		waitSeconds:    20,
		receiveBackoff: 5 * time.Second,
		messageTimeout: 30 * time.Second,
	}, nil
}

func (ps *SQSService) Run(doneCtx context.Context) error {
	slog.Info("Starting SQS change feed source", slog.String("queueURL", ps.queueURL))
	ps.health.SetReady(true)
	ps.pollSQS(doneCtx)
	slog.Info("Shutting down SQS change feed source")
	return nil
}

func (ps *SQSService) pollSQS(doneCtx context.Context) {
	for {
		select {
		case <-doneCtx.Done():
			slog.Info("SQS polling loop stopped")
			return
		default:
		}

		result, err := ps.client.ReceiveMessage(doneCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(ps.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     ps.waitSeconds,
		})
		if err != nil {
			if doneCtx.Err() != nil {
				return
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-doneCtx.Done():
				return
			case <-time.After(ps.receiveBackoff):
			}
			continue
		}

		if len(result.Messages) == 0 {
			continue
		}

		ps.processMessages(doneCtx, result.Messages)
	}
}

// processMessages dispatches each message on its own goroutine, bounded by
// maxConcurrent, and deletes only the messages whose batch dispatched cleanly.
func (ps *SQSService) processMessages(doneCtx context.Context, messages []types.Message) {
	sem := make(chan struct{}, ps.maxConcurrent)
	var wg sync.WaitGroup
	var succeeded atomic.Int32

	for _, message := range messages {
		select {
		case <-doneCtx.Done():
			slog.Info("Context cancelled, stopping message processing")
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(msg types.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			if ps.processMessage(doneCtx, msg) {
				succeeded.Add(1)
			}
		}(message)
	}

	wg.Wait()
	slog.Debug("Batch processing completed",
		slog.Int("total_messages", len(messages)),
		slog.Int("successful_messages", int(succeeded.Load())))
}

func (ps *SQSService) processMessage(doneCtx context.Context, msg types.Message) bool {
	messageID := aws.ToString(msg.MessageId)
	if msg.Body == nil {
		slog.Warn("Received SQS message with nil body", slog.String("messageId", messageID))
		return false
	}

	msgCtx, cancel := context.WithTimeout(doneCtx, ps.messageTimeout)
	defer cancel()
	msgCtx, span := ps.tracer.Start(msgCtx, "SQSService.processMessage",
		trace.WithAttributes(attribute.String("messaging.message.id", messageID)))
	defer span.End()

	execs, err := handleMessage(msgCtx, string(BackendTypeSQS), []byte(*msg.Body), ps.dispatcher)
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to dispatch change events, leaving message in SQS for retry",
			slog.Any("error", err),
			slog.String("messageId", messageID),
			slog.Int("started", len(execs)))
		return false
	}

	// The delete outlives doneCtx so a processed message is not redelivered
	// just because shutdown started.
	deleteCtx, deleteCancel := context.WithTimeout(context.WithoutCancel(msgCtx), 5*time.Second)
	defer deleteCancel()

	_, err = ps.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(ps.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		slog.Error("Failed to delete SQS message after dispatch",
			slog.Any("error", err),
			slog.String("messageId", messageID))
		return false
	}
	slog.Debug("Processed and deleted SQS message",
		slog.String("messageId", messageID),
		slog.Int("started", len(execs)))
	return true
}

func (ps *SQSService) GetName() string {
	return string(BackendTypeSQS)
}
