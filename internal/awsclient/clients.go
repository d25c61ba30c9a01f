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

package awsclient

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ----------------------------------------------------------------
// per-call overrides shared by every client getter
// ----------------------------------------------------------------
type clientConfig struct {
	RoleARN string
	Region  string
}

// ClientOption is a functional option for the client getters.
type ClientOption func(*clientConfig)

// WithClientRole assumes roleARN for this client (empty = manager default).
func WithClientRole(roleARN string) ClientOption {
	return func(c *clientConfig) {
		if roleARN != "" {
			c.RoleARN = roleARN
		}
	}
}

// WithClientRegion overrides the region for this client (empty = manager default).
func WithClientRegion(region string) ClientOption {
	return func(c *clientConfig) {
		if region != "" {
			c.Region = region
		}
	}
}

func (m *Manager) configFor(opts []ClientOption) aws.Config {
	cc := clientConfig{Region: m.baseCfg.Region, RoleARN: m.roleARN}
	for _, o := range opts {
		o(&cc)
	}
	cfg := m.baseCfg.Copy()
	cfg.Region = cc.Region
	cfg.Credentials = m.credentialsFor(cc.Region, cc.RoleARN)
	return cfg
}

func (m *Manager) baseEndpoint() *string {
	if m.endpoint == "" {
		return nil
	}
	return aws.String(m.endpoint)
}

func (m *Manager) GetDynamoDB(opts ...ClientOption) *dynamodb.Client {
	return dynamodb.NewFromConfig(m.configFor(opts), func(o *dynamodb.Options) {
		o.BaseEndpoint = m.baseEndpoint()
	})
}

func (m *Manager) GetDynamoDBStreams(opts ...ClientOption) *dynamodbstreams.Client {
	return dynamodbstreams.NewFromConfig(m.configFor(opts), func(o *dynamodbstreams.Options) {
		o.BaseEndpoint = m.baseEndpoint()
	})
}

func (m *Manager) GetSFN(opts ...ClientOption) *sfn.Client {
	return sfn.NewFromConfig(m.configFor(opts), func(o *sfn.Options) {
		o.BaseEndpoint = m.baseEndpoint()
	})
}

func (m *Manager) GetCloudWatch(opts ...ClientOption) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(m.configFor(opts), func(o *cloudwatch.Options) {
		o.BaseEndpoint = m.baseEndpoint()
	})
}

func (m *Manager) GetSQS(opts ...ClientOption) *sqs.Client {
	return sqs.NewFromConfig(m.configFor(opts), func(o *sqs.Options) {
		o.BaseEndpoint = m.baseEndpoint()
	})
}
