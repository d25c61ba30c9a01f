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

// Package pubsub feeds change events from a stream, a queue or HTTP into
// a changefeed.Dispatcher.
package pubsub

import (
	"context"

	"github.com/cardinalhq/sessionkeeper/internal/changefeed"
)

// Service defines the interface for pubsub services
type Service interface {
	Run(ctx context.Context) error
}

// BackendType represents supported change feed sources
type BackendType string

const (
	BackendTypeStreams BackendType = "streams"
	BackendTypeSQS     BackendType = "sqs"
	BackendTypeHTTP    BackendType = "http"
)

// Backend defines the interface for different pubsub backends
type Backend interface {
	Service
	GetName() string
}

// Dispatcher is the part of changefeed.Dispatcher the sources need.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []changefeed.Event) ([]changefeed.Execution, error)
}

// Readiness is the part of healthcheck.Server the sources report to.
type Readiness interface {
	SetReady(ready bool)
	SetReadyCondition(name string, ready bool)
}

type nopReadiness struct{}

func (nopReadiness) SetReady(bool)                  {}
func (nopReadiness) SetReadyCondition(string, bool) {}
