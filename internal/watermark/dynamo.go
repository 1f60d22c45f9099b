package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nholik/gameserver-sentinel/internal/provider"
)

const serviceName = "dynamodb"

// dynamoAPI is the subset of DynamoDB operations used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ dynamoAPI = (*dynamodb.Client)(nil)

// DynamoStore keeps the watermark in a DynamoDB table whose partition key
// attribute is named "key".
type DynamoStore struct {
	api   dynamoAPI
	table string
}

// NewDynamoStore returns a store backed by table.
func NewDynamoStore(cfg aws.Config, table string) *DynamoStore {
	return &DynamoStore{api: dynamodb.NewFromConfig(cfg), table: table}
}

// Get reads the watermark with a strongly consistent read.
func (s *DynamoStore) Get(ctx context.Context) (Watermark, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Watermark{}, false, provider.Wrap(serviceName, "GetItem", err)
	}
	if len(out.Item) == 0 {
		return Watermark{}, false, nil
	}

	var w Watermark
	if err := attributevalue.UnmarshalMap(out.Item, &w); err != nil {
		return Watermark{}, false, fmt.Errorf("decode watermark item: %w", err)
	}
	return w, true, nil
}

// Put writes the watermark, replacing any existing record.
func (s *DynamoStore) Put(ctx context.Context, ts time.Time) error {
	return s.put(ctx, ts, nil)
}

// Create writes the watermark only if the key is absent.
func (s *DynamoStore) Create(ctx context.Context, ts time.Time) error {
	return s.put(ctx, ts, &conditionalWrite{
		expression: "attribute_not_exists(#k)",
		names:      map[string]string{"#k": "key"},
	})
}

// Delete removes the watermark. Deleting an absent record is not an error.
func (s *DynamoStore) Delete(ctx context.Context) error {
	return s.delete(ctx, nil)
}

// DeleteIf removes the watermark only if its value still equals expected.Value.
func (s *DynamoStore) DeleteIf(ctx context.Context, expected Watermark) error {
	return s.delete(ctx, &conditionalWrite{
		expression: "#v = :v",
		names:      map[string]string{"#v": "value"},
		values: map[string]ddbtypes.AttributeValue{
			":v": &ddbtypes.AttributeValueMemberS{Value: expected.Value},
		},
	})
}

type conditionalWrite struct {
	expression string
	names      map[string]string
	values     map[string]ddbtypes.AttributeValue
}

func (s *DynamoStore) put(ctx context.Context, ts time.Time, cond *conditionalWrite) error {
	item, err := attributevalue.MarshalMap(New(ts))
	if err != nil {
		return fmt.Errorf("encode watermark item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}
	if cond != nil {
		input.ConditionExpression = aws.String(cond.expression)
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
	}

	if _, err := s.api.PutItem(ctx, input); err != nil {
		return conditionalError("PutItem", err)
	}
	return nil
}

func (s *DynamoStore) delete(ctx context.Context, cond *conditionalWrite) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(),
	}
	if cond != nil {
		input.ConditionExpression = aws.String(cond.expression)
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
	}

	if _, err := s.api.DeleteItem(ctx, input); err != nil {
		return conditionalError("DeleteItem", err)
	}
	return nil
}

func conditionalError(op string, err error) error {
	var failed *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return ErrConflict
	}
	return provider.Wrap(serviceName, op, err)
}

func itemKey() map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"key": &ddbtypes.AttributeValueMemberS{Value: Key},
	}
}
