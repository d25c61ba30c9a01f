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

// Package changefeed turns record-store mutation events into workflow
// executions.
//
// Events arrive at least once and are ordered only within a shard. A batch
// is processed synchronously on the calling goroutine; concurrency comes from
// running one Dispatch per shard or message.
package changefeed

import "strings"

// EventType tags a mutation.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventModify EventType = "MODIFY"
	EventRemove EventType = "REMOVE"
)

// ParseEventType accepts the stream's upper-case names and lower-case aliases.
func ParseEventType(s string) (EventType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT":
		return EventInsert, true
	case "MODIFY":
		return EventModify, true
	case "REMOVE":
		return EventRemove, true
	default:
		return "", false
	}
}

// TaggedValue is a string or numeric attribute. Numbers keep their decimal
// string form, as the stream delivers them.
type TaggedValue struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
}

// String builds a string-tagged value.
func String(s string) TaggedValue {
	return TaggedValue{S: &s}
}

// Number builds a numeric-tagged value.
func Number(n string) TaggedValue {
	return TaggedValue{N: &n}
}

// Image is a record snapshot from the stream.
type Image map[string]TaggedValue

// Event is one mutation notification.
type Event struct {
	ID             string
	Type           EventType
	OldImage       Image
	NewImage       Image
	SequenceNumber string
}
