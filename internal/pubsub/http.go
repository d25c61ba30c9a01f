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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/changefeed"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/idgen"
	"github.com/cardinalhq/sessionkeeper/internal/logctx"
)

// HTTPService dispatches each POST /events body synchronously and answers
// with the executions it started.
type HTTPService struct {
	port       int
	bodyLimit  int64
	dispatcher Dispatcher
	health     Readiness
	ids        idgen.IDGenerator
	tracer     trace.Tracer
}

var _ Backend = (*HTTPService)(nil)

type dispatchResponse struct {
	BatchID      string                 `json:"batchId"`
	Executions   []changefeed.Execution `json:"executions"`
	Error        string                 `json:"error,omitempty"`
	Kind         string                 `json:"kind,omitempty"`
	FailedEvents []int                  `json:"failedEvents,omitempty"`
}

func NewHTTPService(cfg config.SourceConfig, d Dispatcher, health Readiness) *HTTPService {
	if health == nil {
		health = nopReadiness{}
	}
	limit := cfg.BodyLimitByte
	if limit <= 0 {
		limit = config.DefaultBodyLimitBytes
	}
	port := cfg.HTTPPort
	if port <= 0 {
		port = 8080
	}
	return &HTTPService{
		port:       port,
		bodyLimit:  limit,
		dispatcher: d,
		health:     health,
		ids:        idgen.NewULIDGenerator(),
		tracer:     otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/pubsub/http"),
	}
}

func (ps *HTTPService) GetName() string {
	return string(BackendTypeHTTP)
}

func (ps *HTTPService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", ps.handleEvents)
	return mux
}

func (ps *HTTPService) Run(doneCtx context.Context) error {
	slog.Info("Starting HTTP change feed source", slog.Int("port", ps.port))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", ps.port),
		Handler:           ps.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	ps.health.SetReady(true)

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("http change feed source: %w", err)
		}
		return nil
	case <-doneCtx.Done():
	}

	slog.Info("Shutting down HTTP change feed source")
	ps.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (ps *HTTPService) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	batchID := ps.ids.Make(time.Now())
	ctx, span := ps.tracer.Start(r.Context(), "HTTPService.handleEvents",
		trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()
	ctx = logctx.WithLogger(ctx, slog.Default().With(slog.String("batchID", batchID)))

	r.Body = http.MaxBytesReader(w, r.Body, ps.bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	execs, err := handleMessage(ctx, string(BackendTypeHTTP), body, ps.dispatcher)
	resp := dispatchResponse{BatchID: batchID, Executions: execs}
	if resp.Executions == nil {
		resp.Executions = []changefeed.Execution{}
	}
	status := http.StatusOK
	if err != nil {
		span.RecordError(err)
		kind := errkind.KindOf(err)
		status = errkind.HTTPStatus(kind)
		resp.Error = err.Error()
		resp.Kind = kind.String()
		var batch *changefeed.BatchError
		if errors.As(err, &batch) {
			for _, e := range batch.Events {
				resp.FailedEvents = append(resp.FailedEvents, e.Index)
			}
		}
		logctx.FromContext(ctx).Warn("Change event batch failed",
			slog.Any("error", err),
			slog.Int("status", status))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode dispatch response", slog.Any("error", err))
	}
}
