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

package invoker

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

// ExecutionStarter is the subset of the Step Functions client SFNEngine needs.
type ExecutionStarter interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// SFNEngine starts AWS Step Functions executions. The target is a state
// machine ARN.
type SFNEngine struct {
	client ExecutionStarter
}

var _ Engine = (*SFNEngine)(nil)

func NewSFNEngine(client ExecutionStarter) *SFNEngine {
	return &SFNEngine{client: client}
}

func (e *SFNEngine) StartExecution(ctx context.Context, target, name, input string) (Handle, error) {
	out, err := e.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(target),
		Name:            aws.String(name),
		Input:           aws.String(input),
	})
	if err != nil {
		var exists *types.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateExecution, name)
		}
		return Handle{}, fmt.Errorf("start execution %s on %s: %w", name, target, err)
	}
	h := Handle{ID: aws.ToString(out.ExecutionArn)}
	if out.StartDate != nil {
		h.StartedAt = *out.StartDate
	}
	return h, nil
}
