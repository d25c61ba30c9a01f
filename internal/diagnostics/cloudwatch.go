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

package diagnostics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricPutter is the subset of the CloudWatch client used here.
type MetricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink publishes each metric with a single PutMetricData call.
type CloudWatchSink struct {
	client    MetricPutter
	namespace string
	timeout   time.Duration
	now       func() time.Time
}

func NewCloudWatchSink(client MetricPutter, namespace string) *CloudWatchSink {
	return &CloudWatchSink{
		client:    client,
		namespace: namespace,
		timeout:   5 * time.Second,
		now:       time.Now,
	}
}

func (s *CloudWatchSink) PutMetric(ctx context.Context, name string, value float64, unit Unit, dims ...Dimension) {
	cwDims := make([]types.Dimension, 0, len(dims))
	for _, d := range dims {
		cwDims = append(cwDims, types.Dimension{
			Name:  aws.String(d.Name),
			Value: aws.String(d.Value),
		})
	}

	// The caller's context may already be near its deadline; the metric is
	// best effort and gets its own bound.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	_, err := s.client.PutMetricData(putCtx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       types.StandardUnit(unit),
				Dimensions: cwDims,
				Timestamp:  aws.Time(s.now()),
			},
		},
	})
	if err != nil {
		slog.Warn("Failed to publish diagnostic metric",
			slog.String("namespace", s.namespace),
			slog.String("metric", name),
			slog.Any("error", err))
	}
}
