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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/awsclient"
	"github.com/cardinalhq/sessionkeeper/internal/changefeed"
	"github.com/cardinalhq/sessionkeeper/internal/diagnostics"
	"github.com/cardinalhq/sessionkeeper/internal/invoker"
	"github.com/cardinalhq/sessionkeeper/internal/recordstore"
	"github.com/cardinalhq/sessionkeeper/recorddb"
)

func newAWSManager(ctx context.Context, cfg *config.Config) (*awsclient.Manager, error) {
	opts := []awsclient.ManagerOption{
		awsclient.WithRegion(cfg.AWS.Region),
		awsclient.WithRole(cfg.AWS.RoleARN),
		awsclient.WithEndpoint(cfg.AWS.Endpoint),
	}
	if cfg.AWS.SessionName != "" {
		opts = append(opts, awsclient.WithAssumeRoleSessionName(cfg.AWS.SessionName))
	}
	if cfg.AWS.AccessKeyID != "" {
		opts = append(opts, awsclient.WithStaticCredentials(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey))
	}
	mgr, err := awsclient.NewManager(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS manager: %w", err)
	}
	return mgr, nil
}

// newSink always records to OpenTelemetry and adds CloudWatch when a
// namespace is configured.
func newSink(cfg *config.Config, mgr *awsclient.Manager) diagnostics.Sink {
	sinks := []diagnostics.Sink{diagnostics.NewOTelSink(cfg.Diagnostics.OTelPrefix)}
	if ns := cfg.Diagnostics.CloudWatchNamespace; ns != "" && mgr != nil {
		sinks = append(sinks, diagnostics.NewCloudWatchSink(mgr.GetCloudWatch(), ns))
	}
	return diagnostics.Fanout(sinks...)
}

// newStore opens the configured record store backend. The returned closer
// releases any connection pool and is never nil.
func newStore(ctx context.Context, cfg *config.Config, mgr *awsclient.Manager, appName string) (recordstore.Store, func(), error) {
	nop := func() {}
	switch cfg.Store.Backend {
	case config.StoreDynamoDB:
		if mgr == nil {
			return nil, nop, fmt.Errorf("dynamodb store requires AWS credentials")
		}
		return recordstore.NewDynamoStore(mgr.GetDynamoDB(), cfg.Store.Table, nil), nop, nil
	case config.StorePostgres:
		pool, err := recorddb.ConnectToRecordDB(ctx, cfg.RecordDB, appName)
		if err != nil {
			return nil, nop, err
		}
		store, err := recorddb.NewStore(pool, nil)
		if err != nil {
			pool.Close()
			return nil, nop, err
		}
		return store, pool.Close, nil
	case config.StoreMemory:
		slog.Warn("Using in-memory record store; records do not survive restart")
		return recordstore.NewMemoryStore(nil), nop, nil
	default:
		return nil, nop, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func newAccess(store recordstore.Store, cfg *config.Config, sink diagnostics.Sink) *recordstore.Access {
	return recordstore.NewAccess(store,
		recordstore.WithStrictTransitions(cfg.Transition.Strict),
		recordstore.WithDiagnostics(sink))
}

// dispatcherConfig converts the loaded settings, validating both policies.
func dispatcherConfig(dc config.DispatchConfig) (changefeed.Config, error) {
	errPolicy, err := changefeed.ParseErrorPolicy(dc.ErrorPolicy)
	if err != nil {
		return changefeed.Config{}, err
	}
	namePolicy, err := changefeed.ParseMissingNamePolicy(dc.MissingNamePolicy)
	if err != nil {
		return changefeed.Config{}, err
	}
	return changefeed.Config{
		PartitionKeyField:          dc.PartitionKeyField,
		WorkflowNameField:          dc.WorkflowNameField,
		AlternateWorkflowNameField: dc.AlternateWorkflowNameField,
		StatusField:                dc.StatusField,
		PrimaryTarget:              dc.PrimaryTarget,
		Triggers:                   dc.Triggers,
		ErrorPolicy:                errPolicy,
		MissingNamePolicy:          namePolicy,
	}, nil
}

// newEngine returns Step Functions, or an in-process engine for dry runs.
func newEngine(cfg *config.Config, mgr *awsclient.Manager) (invoker.Engine, error) {
	if cfg.Dispatch.DryRun {
		slog.Warn("Dry run: executions are recorded in memory and not started")
		return invoker.NewMemoryEngine(), nil
	}
	if mgr == nil {
		return nil, fmt.Errorf("step functions engine requires AWS credentials")
	}
	return invoker.NewSFNEngine(mgr.GetSFN()), nil
}

func newDispatcher(cfg *config.Config, engine invoker.Engine, sink diagnostics.Sink) (*changefeed.Dispatcher, error) {
	dcfg, err := dispatcherConfig(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	inv := invoker.New(engine, dcfg.PartitionKeyField, sink)
	return changefeed.NewDispatcher(dcfg, inv, sink)
}
