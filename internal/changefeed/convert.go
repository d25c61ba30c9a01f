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
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"github.com/cardinalhq/sessionkeeper/internal/errkind"
)

// FromAttributeValues converts a DynamoDB item. Only S and N members are
// kept; everything else is dropped and reads as absent.
func FromAttributeValues(item map[string]ddbtypes.AttributeValue) Image {
	if item == nil {
		return nil
	}
	img := make(Image, len(item))
	for k, v := range item {
		switch tv := v.(type) {
		case *ddbtypes.AttributeValueMemberS:
			img[k] = String(tv.Value)
		case *ddbtypes.AttributeValueMemberN:
			img[k] = Number(tv.Value)
		}
	}
	return img
}

// FromStreamImage converts a stream image via its DynamoDB form.
func FromStreamImage(item map[string]streamtypes.AttributeValue) (Image, error) {
	if item == nil {
		return nil, nil
	}
	converted, err := attributevalue.FromDynamoDBStreamsMap(item)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "convert", err, "convert stream image")
	}
	return FromAttributeValues(converted), nil
}

// FromStreamRecord converts a record returned by GetRecords.
func FromStreamRecord(r streamtypes.Record) (Event, error) {
	typ, ok := ParseEventType(string(r.EventName))
	if !ok {
		return Event{}, errkind.New(errkind.Validation, "convert", "unknown event name %q", r.EventName)
	}
	ev := Event{ID: aws.ToString(r.EventID), Type: typ}
	if r.Dynamodb == nil {
		return ev, nil
	}
	var err error
	if ev.NewImage, err = FromStreamImage(r.Dynamodb.NewImage); err != nil {
		return Event{}, err
	}
	if ev.OldImage, err = FromStreamImage(r.Dynamodb.OldImage); err != nil {
		return Event{}, err
	}
	ev.SequenceNumber = aws.ToString(r.Dynamodb.SequenceNumber)
	return ev, nil
}
