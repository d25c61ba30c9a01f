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

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy    bool            `json:"healthy"`
	Status     string          `json:"status"`
	Conditions map[string]bool `json:"conditions,omitempty"`
}

const DefaultPort = 8090

// Server answers /healthz, /readyz and /livez for one process.
type Server struct {
	port   int
	status atomic.Int32
	ready  atomic.Bool

	mu         sync.RWMutex
	conditions map[string]bool

	// server is set once in NewServer and never reassigned.
	server *http.Server
}

func NewServer(port int) *Server {
	if port <= 0 || port > 65535 {
		port = DefaultPort
	}
	s := &Server{port: port, conditions: map[string]bool{}}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Port() int { return s.port }

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

// SetReadyCondition gates readiness on a named condition, such as one stream
// shard having been discovered.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.mu.Lock()
	s.conditions[name] = ready
	s.mu.Unlock()
	slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
}

func (s *Server) ClearReadyCondition(name string) {
	s.mu.Lock()
	delete(s.conditions, name)
	s.mu.Unlock()
}

func (s *Server) snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.conditions) == 0 {
		return nil
	}
	out := make(map[string]bool, len(s.conditions))
	for k, v := range s.conditions {
		out[k] = v
	}
	return out
}

func (s *Server) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	for _, ok := range s.snapshot() {
		if !ok {
			return false
		}
	}
	return true
}

// Handler serves the three health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.write(w, s.GetStatus() == StatusHealthy, nil)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		s.write(w, s.IsReady(), s.snapshot())
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		s.write(w, s.GetStatus() != StatusUnhealthy, nil)
	})
	return mux
}

func (s *Server) write(w http.ResponseWriter, ok bool, conditions map[string]bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	resp := Response{Healthy: ok, Status: s.GetStatus().String(), Conditions: conditions}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

// Start serves until ctx is done or Stop is called, then shuts down.
// A stopped server cannot be started again.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("Starting health check server", slog.Int("port", s.port))

	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-errc:
		if ok && err != nil {
			return fmt.Errorf("health check server: %w", err)
		}
		return nil
	}
}

func (s *Server) Stop() error {
	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
