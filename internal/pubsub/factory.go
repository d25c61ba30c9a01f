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
	"fmt"

	"github.com/cardinalhq/sessionkeeper/config"
)

// Deps are the collaborators a backend may need. Only the client for the
// chosen backend has to be set.
type Deps struct {
	Source     config.SourceConfig
	Dispatcher Dispatcher
	Health     Readiness
	Streams    StreamsAPI
	SQS        SQSAPI
}

// NewBackend creates a new Backend implementation based on the specified type
func NewBackend(backendType BackendType, deps Deps) (Backend, error) {
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	switch backendType {
	case BackendTypeStreams:
		if deps.Streams == nil {
			return nil, fmt.Errorf("streams backend requires a DynamoDB Streams client")
		}
		return NewStreamsService(deps.Streams, deps.Source, deps.Dispatcher, deps.Health)
	case BackendTypeSQS:
		if deps.SQS == nil {
			return nil, fmt.Errorf("sqs backend requires an SQS client")
		}
		return NewSQSService(deps.SQS, deps.Source, deps.Dispatcher, deps.Health)
	case BackendTypeHTTP:
		return NewHTTPService(deps.Source, deps.Dispatcher, deps.Health), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}
