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

package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cardinalhq/sessionkeeper/internal/errkind"
)

// streamRecord is the stream record shape used by Lambda, EventBridge Pipes
// and SQS forwarding.
type streamRecord struct {
	EventID   string `json:"eventID"`
	EventName string `json:"eventName"`
	DynamoDB  struct {
		NewImage       Image  `json:"NewImage"`
		OldImage       Image  `json:"OldImage"`
		SequenceNumber string `json:"SequenceNumber"`
	} `json:"dynamodb"`
}

// ParseBatch decodes {"Records":[...]}, a bare array of records, or a single
// record. Malformed input is a Validation error.
func ParseBatch(raw []byte) ([]Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errkind.New(errkind.Validation, "parse", "empty event batch")
	}

	var recs []streamRecord
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, errkind.Wrap(errkind.Validation, "parse", err, "decode record array")
		}
	case '{':
		var envelope struct {
			Records *[]streamRecord `json:"Records"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, errkind.Wrap(errkind.Validation, "parse", err, "decode event batch")
		}
		if envelope.Records != nil {
			recs = *envelope.Records
			break
		}
		var one streamRecord
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, errkind.Wrap(errkind.Validation, "parse", err, "decode record")
		}
		recs = []streamRecord{one}
	default:
		return nil, errkind.New(errkind.Validation, "parse", "event batch is not a JSON object or array")
	}

	out := make([]Event, 0, len(recs))
	for i, r := range recs {
		typ, ok := ParseEventType(r.EventName)
		if !ok {
			return nil, errkind.Wrap(errkind.Validation, "parse",
				fmt.Errorf("record %d: unknown eventName %q", i, r.EventName), "")
		}
		out = append(out, Event{
			ID:             r.EventID,
			Type:           typ,
			OldImage:       r.DynamoDB.OldImage,
			NewImage:       r.DynamoDB.NewImage,
			SequenceNumber: r.DynamoDB.SequenceNumber,
		})
	}
	return out, nil
}
