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

// Package errkind defines the closed set of error kinds surfaced by
// sessionkeeper and the single mapping from kind to HTTP status.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

// Kind is a closed enumeration. Do not add kinds without extending HTTPStatus.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	InvalidState
	Conflict
	InvariantViolation
	TransientExternal
)

var kindNames = map[Kind]string{
	Internal:           "internal",
	Validation:         "validation",
	NotFound:           "not_found",
	InvalidState:       "invalid_state",
	Conflict:           "conflict",
	InvariantViolation: "invariant_violation",
	TransientExternal:  "transient_external",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Retryable reports whether an operation failing with k may succeed when
// repeated unchanged.
func (k Kind) Retryable() bool {
	return k == TransientExternal || k == Internal
}

// Kinds returns every defined kind, in declaration order.
func Kinds() []Kind {
	return []Kind{Internal, Validation, NotFound, InvalidState, Conflict, InvariantViolation, TransientExternal}
}

// HTTPStatus maps a kind to the status code reported to HTTP callers.
// Unknown values map to 500.
func HTTPStatus(k Kind) int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusUnprocessableEntity
	case Conflict:
		return http.StatusConflict
	case TransientExternal:
		return http.StatusServiceUnavailable
	case InvariantViolation, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Kind alongside the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err. A nil err yields nil.
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or Internal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

var transientCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"LimitExceededException":                 true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalServerError":                    true,
	"InternalFailure":                        true,
	"InternalServerException":                true,
	"TransactionConflictException":           true,
	"ExecutionLimitExceeded":                 true,
}

// Classify maps an upstream error onto a Kind by its API error code rather
// than by client library type. Errors that already carry a Kind are returned
// unchanged. A nil err yields nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(TransientExternal, op, err, "")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case transientCodes[code]:
			return Wrap(TransientExternal, op, err, "")
		case code == "ConditionalCheckFailedException":
			return Wrap(Conflict, op, err, "")
		case code == "ResourceNotFoundException":
			return Wrap(NotFound, op, err, "")
		case code == "ValidationException":
			return Wrap(Validation, op, err, "")
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return Wrap(TransientExternal, op, err, "")
		}
	}
	return Wrap(Internal, op, err, "")
}
