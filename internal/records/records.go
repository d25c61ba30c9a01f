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

// Package records holds the session and job record shapes shared by the
// record store and the change feed dispatcher.
package records

import (
	"slices"
	"time"

	"github.com/cardinalhq/sessionkeeper/internal/errkind"
)

// Kind identifies the record family.
type Kind string

const (
	KindSession Kind = "session"
	KindJob     Kind = "job"
)

// Status is the top-level lifecycle status of a record.
type Status string

const (
	SessionPending  Status = "PENDING"
	SessionRunning  Status = "RUNNING"
	SessionDeleting Status = "DELETING"
	SessionDeleted  Status = "DELETED"
	SessionFailed   Status = "FAILED"

	JobQueued     Status = "QUEUED"
	JobRunning    Status = "RUNNING"
	JobCancelling Status = "CANCELLING"
	JobCancelled  Status = "CANCELLED"
	JobSucceeded  Status = "SUCCEEDED"
	JobFailed     Status = "FAILED"
)

// ConnectionStatus is the peer-connection sub-state carried in Source.
type ConnectionStatus string

const (
	ConnectionNew          ConnectionStatus = "NEW"
	ConnectionConnecting   ConnectionStatus = "CONNECTING"
	ConnectionConnected    ConnectionStatus = "CONNECTED"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionFailed       ConnectionStatus = "FAILED"
	ConnectionClosed       ConnectionStatus = "CLOSED"
)

var statusesByKind = map[Kind]map[Status]bool{
	KindSession: {
		SessionPending:  true,
		SessionRunning:  true,
		SessionDeleting: true,
		SessionDeleted:  true,
		SessionFailed:   true,
	},
	KindJob: {
		JobQueued:     true,
		JobRunning:    true,
		JobCancelling: true,
		JobCancelled:  true,
		JobSucceeded:  true,
		JobFailed:     true,
	},
}

var connectionStatuses = map[ConnectionStatus]bool{
	ConnectionNew:          true,
	ConnectionConnecting:   true,
	ConnectionConnected:    true,
	ConnectionDisconnected: true,
	ConnectionFailed:       true,
	ConnectionClosed:       true,
}

// Source describes the peer that feeds a session.
type Source struct {
	PeerID           string           `json:"peerId,omitempty" dynamodbav:"peerId,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus" dynamodbav:"connectionStatus"`
}

// Record is a session- or job-shaped entry keyed by ID.
// CreatedAt, UpdatedAt and Version are managed by the store layer.
type Record struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Kind         Kind      `json:"kind" dynamodbav:"kind"`
	Status       Status    `json:"status,omitempty" dynamodbav:"status,omitempty"`
	Source       *Source   `json:"source,omitempty" dynamodbav:"source,omitempty"`
	DeviceID     string    `json:"deviceId,omitempty" dynamodbav:"deviceId,omitempty"`
	WorkflowName string    `json:"workflowName,omitempty" dynamodbav:"workflowName,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty" dynamodbav:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
	Version      int64     `json:"version" dynamodbav:"version"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Source != nil {
		src := *r.Source
		c.Source = &src
	}
	return &c
}

// ConnectionStatus returns the nested sub-state, and false when the record
// has no Source at all.
func (r *Record) ConnectionStatus() (ConnectionStatus, bool) {
	if r == nil || r.Source == nil {
		return "", false
	}
	return r.Source.ConnectionStatus, true
}

// ValidateStatus rejects a status outside the kind's enumeration.
// An empty status is accepted since status is optional.
func ValidateStatus(kind Kind, status Status) error {
	known, ok := statusesByKind[kind]
	if !ok {
		return errkind.New(errkind.Validation, "validate", "unknown record kind %q", kind)
	}
	if status == "" {
		return nil
	}
	if !known[status] {
		return errkind.New(errkind.Validation, "validate", "status %q is not valid for kind %q (want one of %v)", status, kind, Statuses(kind))
	}
	return nil
}

// ValidateConnectionStatus rejects an unknown peer-connection sub-state.
func ValidateConnectionStatus(status ConnectionStatus) error {
	if !connectionStatuses[status] {
		return errkind.New(errkind.Validation, "validate", "connection status %q is not valid", status)
	}
	return nil
}

// Validate checks the identifier and every enumerated field of the record.
func (r *Record) Validate() error {
	if r == nil {
		return errkind.New(errkind.Validation, "validate", "record is nil")
	}
	if r.ID == "" {
		return errkind.New(errkind.Validation, "validate", "record id is required")
	}
	if err := ValidateStatus(r.Kind, r.Status); err != nil {
		return err
	}
	if r.Source != nil {
		if err := ValidateConnectionStatus(r.Source.ConnectionStatus); err != nil {
			return err
		}
	}
	return nil
}

// Statuses returns the sorted known statuses for kind.
func Statuses(kind Kind) []Status {
	known := statusesByKind[kind]
	out := make([]Status, 0, len(known))
	for s := range known {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
