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

package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/sessionkeeper/internal/records"
)

// DynamoAPI is the subset of the DynamoDB client DynamoStore needs.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps records in a DynamoDB table keyed by "id".
type DynamoStore struct {
	client  DynamoAPI
	table   string
	indexes []Index
	tracer  trace.Tracer
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client DynamoAPI, table string, indexes []Index) *DynamoStore {
	if indexes == nil {
		indexes = DefaultIndexes()
	}
	return &DynamoStore{
		client:  client,
		table:   table,
		indexes: indexes,
		tracer:  otel.Tracer("github.com/cardinalhq/sessionkeeper/internal/recordstore"),
	}
}

func keyFor(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "DynamoStore.Get", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyFor(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec records.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", id, err)
	}
	return &rec, nil
}

type dynamoField struct {
	name    string
	value   any
	present bool
}

func mutableFields(rec *records.Record) []dynamoField {
	return []dynamoField{
		{"kind", rec.Kind, true},
		{"status", rec.Status, rec.Status != ""},
		{"source", rec.Source, rec.Source != nil},
		{"deviceId", rec.DeviceID, rec.DeviceID != ""},
		{"workflowName", rec.WorkflowName, rec.WorkflowName != ""},
		{"errorCode", rec.ErrorCode, rec.ErrorCode != ""},
		{"errorMessage", rec.ErrorMessage, rec.ErrorMessage != ""},
		{"updatedAt", rec.UpdatedAt, true},
	}
}

// Put is an UpdateItem rather than a PutItem so the version increment and
// the createdAt preservation happen atomically in the table.
func (s *DynamoStore) Put(ctx context.Context, rec *records.Record) (*records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "DynamoStore.Put", trace.WithAttributes(attribute.String("record.id", rec.ID)))
	defer span.End()

	update := expression.Set(
		expression.Name("version"),
		expression.Plus(expression.IfNotExists(expression.Name("version"), expression.Value(0)), expression.Value(1)),
	)
	update = update.Set(
		expression.Name("createdAt"),
		expression.IfNotExists(expression.Name("createdAt"), expression.Value(rec.CreatedAt)),
	)
	for _, f := range mutableFields(rec) {
		if f.present {
			update = update.Set(expression.Name(f.name), expression.Value(f.value))
		} else {
			update = update.Remove(expression.Name(f.name))
		}
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("build update for %s: %w", rec.ID, err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyFor(rec.ID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("update item %s: %w", rec.ID, err)
	}
	var stored records.Record
	if err := attributevalue.UnmarshalMap(out.Attributes, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal stored item %s: %w", rec.ID, err)
	}
	return &stored, nil
}

func preconditionExpression(cond Precondition) expression.ConditionBuilder {
	exists := expression.AttributeExists(expression.Name("id"))

	version := expression.Name("version").Equal(expression.Value(cond.Version))
	if cond.Version == 0 {
		version = expression.Or(expression.AttributeNotExists(expression.Name("version")), version)
	}

	var connection expression.ConditionBuilder
	if cond.ConnectionStatus == "" {
		connection = expression.AttributeNotExists(expression.Name("source.connectionStatus"))
	} else {
		connection = expression.Name("source.connectionStatus").Equal(expression.Value(cond.ConnectionStatus))
	}

	return expression.And(exists, version, connection)
}

func (s *DynamoStore) PutIf(ctx context.Context, rec *records.Record, cond Precondition) (*records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "DynamoStore.PutIf", trace.WithAttributes(
		attribute.String("record.id", rec.ID),
		attribute.Int64("record.expected_version", cond.Version),
	))
	defer span.End()

	stored := rec.Clone()
	stored.Version = cond.Version + 1

	item, err := attributevalue.MarshalMap(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	expr, err := expression.NewBuilder().WithCondition(preconditionExpression(cond)).Build()
	if err != nil {
		return nil, fmt.Errorf("build condition for %s: %w", rec.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("conditional put %s: %w", rec.ID, err)
	}
	return stored, nil
}

func (s *DynamoStore) Query(ctx context.Context, index, key string) ([]records.Record, error) {
	ctx, span := s.tracer.Start(ctx, "DynamoStore.Query", trace.WithAttributes(attribute.String("index", index)))
	defer span.End()

	attr, ok := indexAttribute(s.indexes, index)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(attr).Equal(expression.Value(key))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition for %s: %w", index, err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var out []records.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		var batch []records.Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal query page for %s: %w", index, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}
