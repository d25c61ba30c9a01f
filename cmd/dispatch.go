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

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/awsclient"
	"github.com/cardinalhq/sessionkeeper/internal/debugging"
	"github.com/cardinalhq/sessionkeeper/internal/healthcheck"
	"github.com/cardinalhq/sessionkeeper/internal/pubsub"
)

func init() {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Start workflow executions from record change events",
	}
	rootCmd.AddCommand(cmd)

	cmd.AddCommand(dispatchCommand(pubsub.BackendTypeStreams, config.ServiceTypeDispatchStreams,
		"poll the record table's DynamoDB stream"))
	cmd.AddCommand(dispatchCommand(pubsub.BackendTypeSQS, config.ServiceTypeDispatchSQS,
		"long-poll an SQS queue carrying stream batches"))
	cmd.AddCommand(dispatchCommand(pubsub.BackendTypeHTTP, config.ServiceTypeDispatchHTTP,
		"accept stream batches on POST /events"))
}

func dispatchCommand(backend pubsub.BackendType, servicename, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(backend),
		Short: short,
		RunE: func(_ *cobra.Command, _ []string) error {
			addlAttrs := attribute.NewSet(
				attribute.String("action", "dispatch-"+string(backend)),
			)
			doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runDispatch(doneCtx, cfg, backend)
		},
	}
}

func runDispatch(ctx context.Context, cfg *config.Config, backend pubsub.BackendType) error {
	mgr, err := newAWSManager(ctx, cfg)
	if err != nil {
		return err
	}
	sink := newSink(cfg, mgr)

	engine, err := newEngine(cfg, mgr)
	if err != nil {
		return err
	}
	dispatcher, err := newDispatcher(cfg, engine, sink)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	health := healthcheck.NewServer(cfg.Health.Port)
	deps := pubsub.Deps{
		Source:     cfg.Source,
		Dispatcher: dispatcher,
		Health:     health,
	}
	switch backend {
	case pubsub.BackendTypeStreams:
		deps.Streams = mgr.GetDynamoDBStreams()
	case pubsub.BackendTypeSQS:
		deps.SQS = mgr.GetSQS(
			awsclient.WithClientRegion(cfg.Source.QueueRegion),
			awsclient.WithClientRole(cfg.Source.QueueRoleARN),
		)
	}
	service, err := pubsub.NewBackend(backend, deps)
	if err != nil {
		return fmt.Errorf("failed to create %s source: %w", backend, err)
	}

	slog.Info("Starting dispatcher",
		slog.String("source", service.GetName()),
		slog.String("primaryTarget", cfg.Dispatch.PrimaryTarget),
		slog.Int("triggers", len(cfg.Dispatch.Triggers)),
		slog.Bool("dryRun", cfg.Dispatch.DryRun))

	if _, err := debugging.RunPprof(ctx, cfg.Debug.PprofPort); err != nil {
		slog.Warn("pprof disabled", slog.Any("error", err))
	}

	health.SetStatus(healthcheck.StatusHealthy)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.Start(gctx) })
	g.Go(func() error {
		if err := service.Run(gctx); err != nil {
			health.SetStatus(healthcheck.StatusUnhealthy)
			return err
		}
		return nil
	})
	return g.Wait()
}
