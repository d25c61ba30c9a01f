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
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

type roleKey struct {
	Region  string
	RoleARN string
}

type Manager struct {
	baseCfg     aws.Config
	stsClient   *sts.Client
	sessionName string
	region      string
	roleARN     string
	endpoint    string
	staticKey   string
	staticSec   string

	sync.RWMutex
	providers map[roleKey]aws.CredentialsProvider
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

func WithAssumeRoleSessionName(name string) ManagerOption {
	return func(mgr *Manager) {
		mgr.sessionName = name
	}
}

// WithRegion overrides the region found by the default credential chain.
func WithRegion(region string) ManagerOption {
	return func(mgr *Manager) {
		mgr.region = region
	}
}

// WithRole makes every client assume roleARN unless the call overrides it.
func WithRole(roleARN string) ManagerOption {
	return func(mgr *Manager) {
		mgr.roleARN = roleARN
	}
}

// WithEndpoint points every client at a custom endpoint (eg DynamoDB Local,
// LocalStack).
func WithEndpoint(url string) ManagerOption {
	return func(mgr *Manager) {
		mgr.endpoint = url
	}
}

// WithStaticCredentials replaces the default credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) ManagerOption {
	return func(mgr *Manager) {
		mgr.staticKey = accessKeyID
		mgr.staticSec = secretAccessKey
	}
}

// NewManager initializes AWS config + a single STS client.
func NewManager(ctx context.Context, opts ...ManagerOption) (*Manager, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newManager(cfg, opts...), nil
}

func newManager(cfg aws.Config, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		sessionName: "sessionkeeper",
		providers:   make(map[roleKey]aws.CredentialsProvider),
	}
	for _, opt := range opts {
		opt(mgr)
	}

	if mgr.region != "" {
		cfg.Region = mgr.region
	}
	if mgr.staticKey != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(mgr.staticKey, mgr.staticSec, ""))
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	mgr.baseCfg = cfg
	mgr.stsClient = sts.NewFromConfig(cfg)
	return mgr
}

// Region is the effective default region.
func (m *Manager) Region() string {
	return m.baseCfg.Region
}

// credentialsFor returns a cached provider per region and role.
func (m *Manager) credentialsFor(region, roleARN string) aws.CredentialsProvider {
	key := roleKey{Region: region, RoleARN: roleARN}
	m.RLock()
	provider, ok := m.providers[key]
	m.RUnlock()
	if ok {
		return provider
	}

	m.Lock()
	defer m.Unlock()
	if provider, ok = m.providers[key]; ok {
		return provider
	}
	if roleARN == "" {
		provider = m.baseCfg.Credentials
	} else {
		p := stscreds.NewAssumeRoleProvider(m.stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = m.sessionName
		})
		provider = aws.NewCredentialsCache(p)
	}
	m.providers[key] = provider
	return provider
}
