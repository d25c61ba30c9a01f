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
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOptions(t *testing.T) {
	m := newManager(aws.Config{Region: "us-west-2"},
		WithRegion("us-east-2"),
		WithEndpoint("http://localhost:8000"),
		WithStaticCredentials("AKID", "SECRET"),
		WithAssumeRoleSessionName("test"),
	)
	assert.Equal(t, "us-east-2", m.Region())
	assert.Equal(t, "test", m.sessionName)
	assert.Equal(t, "http://localhost:8000", aws.ToString(m.baseEndpoint()))

	creds, err := m.baseCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
}

func TestCredentialsAreCachedPerRoleAndRegion(t *testing.T) {
	m := newManager(aws.Config{Region: "us-east-2"}, WithStaticCredentials("AKID", "SECRET"))

	base := m.credentialsFor("us-east-2", "")
	assert.Same(t, m.baseCfg.Credentials, base)

	role := m.credentialsFor("us-east-2", "arn:aws:iam::123:role/r")
	again := m.credentialsFor("us-east-2", "arn:aws:iam::123:role/r")
	assert.Same(t, role, again)
	assert.NotSame(t, base, role)
	assert.Len(t, m.providers, 2)
}

func TestConfigForAppliesOverrides(t *testing.T) {
	m := newManager(aws.Config{Region: "us-east-2"}, WithRole("arn:aws:iam::123:role/default"))

	cfg := m.configFor([]ClientOption{WithClientRegion("eu-west-1")})
	assert.Equal(t, "eu-west-1", cfg.Region)
	_, ok := m.providers[roleKey{Region: "eu-west-1", RoleARN: "arn:aws:iam::123:role/default"}]
	assert.True(t, ok)

	// Empty overrides keep the manager defaults.
	cfg = m.configFor([]ClientOption{WithClientRole(""), WithClientRegion("")})
	assert.Equal(t, "us-east-2", cfg.Region)
	_, ok = m.providers[roleKey{Region: "us-east-2", RoleARN: "arn:aws:iam::123:role/default"}]
	assert.True(t, ok)

	assert.NotNil(t, m.GetDynamoDB())
	assert.NotNil(t, m.GetDynamoDBStreams())
	assert.NotNil(t, m.GetSFN())
	assert.NotNil(t, m.GetCloudWatch())
	assert.NotNil(t, m.GetSQS())
	assert.Nil(t, m.baseEndpoint())
}
