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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/changefeed"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
)

// StreamsAPI is the subset of the DynamoDB Streams client the service calls.
type StreamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

const readyShards = "stream_shards_discovered"

// StreamsService reads every shard of one stream. Each shard is read by one
// goroutine, so events of one partition key are dispatched in order. A child
// shard is not read until its parent has been drained.
type StreamsService struct {
	tracer     trace.Tracer
	client     StreamsAPI
	dispatcher Dispatcher
	health     Readiness

	streamARN          string
	iteratorType       types.ShardIteratorType
	pollInterval       time.Duration
	rediscoverInterval time.Duration
	limit              int32

	mu     sync.Mutex
	shards map[string]chan struct{} // closed when the shard is drained
}

var _ Backend = (*StreamsService)(nil)

func NewStreamsService(client StreamsAPI, cfg config.SourceConfig, d Dispatcher, health Readiness) (*StreamsService, error) {
	if cfg.StreamARN == "" {
		return nil, errors.New("source.stream_arn is required for the streams source")
	}
	if health == nil {
		health = nopReadiness{}
	}
	iterType := types.ShardIteratorTypeLatest
	if strings.EqualFold(cfg.IteratorType, string(types.ShardIteratorTypeTrimHorizon)) {
		iterType = types.ShardIteratorTypeTrimHorizon
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	rediscover := cfg.RediscoverInterval
	if rediscover <= 0 {
		rediscover = time.Minute
	}
	return &StreamsService{
		tracer:             otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/pubsub/streams"),
		client:             client,
		dispatcher:         d,
		health:             health,
		streamARN:          cfg.StreamARN,
		iteratorType:       iterType,
		pollInterval:       poll,
		rediscoverInterval: rediscover,
		limit:              cfg.BatchLimit,
		shards:             map[string]chan struct{}{},
	}, nil
}

func (s *StreamsService) GetName() string {
	return string(BackendTypeStreams)
}

func (s *StreamsService) Run(ctx context.Context) error {
	slog.Info("Starting DynamoDB Streams change feed source", slog.String("streamARN", s.streamARN))
	s.health.SetReady(true)
	s.health.SetReadyCondition(readyShards, false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		first := true
		ticker := time.NewTicker(s.rediscoverInterval)
		defer ticker.Stop()
		for {
			shards, err := s.describe(gctx)
			if err != nil {
				slog.Error("Failed to describe stream", slog.Any("error", err))
			} else {
				iterType := s.iteratorType
				if !first {
					// Shards that appear later are children of a split; read them from the start.
					iterType = types.ShardIteratorTypeTrimHorizon
				}
				for _, shard := range shards {
					s.startShard(gctx, g, shard, iterType)
				}
				if first {
					s.health.SetReadyCondition(readyShards, true)
				}
				first = false
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	slog.Info("Shutting down DynamoDB Streams change feed source")
	return err
}

func (s *StreamsService) describe(ctx context.Context) ([]types.Shard, error) {
	var (
		shards []types.Shard
		start  *string
	)
	for {
		out, err := s.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(s.streamARN),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return nil, fmt.Errorf("describe stream: %w", err)
		}
		if out.StreamDescription == nil {
			return shards, nil
		}
		shards = append(shards, out.StreamDescription.Shards...)
		start = out.StreamDescription.LastEvaluatedShardId
		if start == nil {
			return shards, nil
		}
	}
}

// startShard launches a reader for a shard not seen before.
func (s *StreamsService) startShard(ctx context.Context, g *errgroup.Group, shard types.Shard, iterType types.ShardIteratorType) {
	id := aws.ToString(shard.ShardId)
	s.mu.Lock()
	if _, ok := s.shards[id]; ok {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.shards[id] = done
	parent := s.shards[aws.ToString(shard.ParentShardId)]
	s.mu.Unlock()

	g.Go(func() error {
		defer close(done)
		if parent != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-parent:
			}
		}
		s.readShard(ctx, id, iterType)
		return nil
	})
}

func (s *StreamsService) iterator(ctx context.Context, shardID string, iterType types.ShardIteratorType, afterSeq string) (*string, error) {
	in := &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(s.streamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: iterType,
	}
	if afterSeq != "" {
		in.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
		in.SequenceNumber = aws.String(afterSeq)
	}
	out, err := s.client.GetShardIterator(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get shard iterator: %w", err)
	}
	return out.ShardIterator, nil
}

// readShard returns when the shard is drained or ctx is done. The iterator
// only moves past a record once it dispatched or failed permanently.
func (s *StreamsService) readShard(ctx context.Context, shardID string, iterType types.ShardIteratorType) {
	ll := slog.With(slog.String("shardID", shardID))
	ll.Info("Reading stream shard")

	var (
		iter    *string
		lastSeq string
	)
	for ctx.Err() == nil {
		if iter == nil {
			var err error
			if iter, err = s.iterator(ctx, shardID, iterType, lastSeq); err != nil {
				if isTrimmed(err) {
					ll.Warn("Shard trimmed, starting from horizon", slog.Any("error", err))
					lastSeq, iterType = "", types.ShardIteratorTypeTrimHorizon
				} else {
					ll.Error("Failed to get shard iterator", slog.Any("error", err))
				}
				s.sleep(ctx)
				continue
			}
			if iter == nil {
				ll.Info("Stream shard drained")
				return
			}
		}

		in := &dynamodbstreams.GetRecordsInput{ShardIterator: iter}
		if s.limit > 0 {
			in.Limit = aws.Int32(s.limit)
		}
		out, err := s.client.GetRecords(ctx, in)
		if err != nil {
			var expired *types.ExpiredIteratorException
			if errors.As(err, &expired) {
				iter = nil
				continue
			}
			if ctx.Err() == nil {
				ll.Error("Failed to get stream records", slog.Any("error", err))
			}
			s.sleep(ctx)
			continue
		}

		if len(out.Records) > 0 {
			settled, err := s.dispatch(ctx, shardID, out.Records)
			if err != nil {
				ll.Error("Failed to dispatch stream batch, retrying after poll interval",
					slog.Any("error", err),
					slog.Int("records", len(out.Records)))
				s.sleep(ctx)
				continue
			}
			if settled < len(out.Records) {
				// Records after the settled prefix were never tried; read them again.
				if seq := sequenceNumber(out.Records[settled-1]); seq != "" {
					lastSeq, iter = seq, nil
					continue
				}
			}
			if seq := sequenceNumber(out.Records[len(out.Records)-1]); seq != "" {
				lastSeq = seq
			}
		}

		if out.NextShardIterator == nil {
			ll.Info("Stream shard drained")
			return
		}
		iter = out.NextShardIterator
		if len(out.Records) == 0 {
			s.sleep(ctx)
		}
	}
}

// dispatch returns how many leading records are settled: dispatched, or
// failed in a way no retry can fix. A non-nil error means the whole page
// must be read again.
func (s *StreamsService) dispatch(ctx context.Context, shardID string, recs []types.Record) (int, error) {
	ctx, span := s.tracer.Start(ctx, "StreamsService.dispatch", trace.WithAttributes(
		attribute.String("stream.shard_id", shardID),
		attribute.Int("stream.records", len(recs)),
	))
	defer span.End()

	ll := slog.With(slog.String("shardID", shardID))
	events := make([]changefeed.Event, 0, len(recs))
	origin := make([]int, 0, len(recs))
	for i, r := range recs {
		ev, err := changefeed.FromStreamRecord(r)
		if err != nil {
			skipPoisonEvent(ctx, ll, string(BackendTypeStreams), sequenceNumber(r), err)
			continue
		}
		events = append(events, ev)
		origin = append(origin, i)
	}
	if len(events) == 0 {
		return len(recs), nil
	}

	_, err := dispatchEvents(ctx, string(BackendTypeStreams), events, s.dispatcher)
	if err == nil {
		return len(recs), nil
	}
	span.RecordError(err)

	var batch *changefeed.BatchError
	if !errors.As(err, &batch) {
		if errkind.KindOf(err).Retryable() {
			return 0, err
		}
		skipPoisonEvent(ctx, ll, string(BackendTypeStreams), sequenceNumber(recs[len(recs)-1]), err)
		return len(recs), nil
	}
	for _, e := range batch.Events {
		if errkind.KindOf(e.Err).Retryable() {
			return 0, err
		}
	}
	for _, e := range batch.Events {
		skipPoisonEvent(ctx, ll, string(BackendTypeStreams), events[e.Index].SequenceNumber, e.Err)
	}
	if batch.Attempted <= 0 || batch.Attempted >= len(events) {
		return len(recs), nil
	}
	return origin[batch.Attempted-1] + 1, nil
}

func sequenceNumber(r types.Record) string {
	if r.Dynamodb == nil {
		return ""
	}
	return aws.ToString(r.Dynamodb.SequenceNumber)
}

func (s *StreamsService) sleep(ctx context.Context) {
	t := time.NewTimer(s.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func isTrimmed(err error) bool {
	var trimmed *types.TrimmedDataAccessException
	return errors.As(err, &trimmed)
}
