package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixMsg = "MSG#"
	skSeen      = "SEEN#"
)

// dynamodbAPI is the minimal DynamoDB interface required by SeenTable.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SeenTable is a durable seen-set of processed message identities in a
// DynamoDB table. Marking uses a conditional put, so concurrent pollers
// sharing the table never both claim the same message.
type SeenTable struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewSeenTable creates a SeenTable on tableName.
func NewSeenTable(api dynamodbAPI, tableName string) (*SeenTable, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &SeenTable{api: api, tableName: tableName, now: time.Now}, nil
}

// msgPK returns the partition key for a message identity.
func msgPK(id string) string {
	return pkPrefixMsg + id
}

// Seen reports whether id was already marked.
func (s *SeenTable) Seen(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, errors.New("repository: Seen: id is required")
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: msgPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skSeen},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: Seen get item: %w", err)
	}
	return out != nil && len(out.Item) > 0, nil
}

// MarkSeen records id. added is false when another writer recorded it first.
func (s *SeenTable) MarkSeen(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, errors.New("repository: MarkSeen: id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: msgPK(id)},
			"SK":        &types.AttributeValueMemberS{Value: skSeen},
			"messageId": &types.AttributeValueMemberS{Value: id},
			"seenAt":    &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("repository: MarkSeen: %w", err)
	}
	return true, nil
}

// Close is a no-op; every mark is already durable.
func (s *SeenTable) Close() error {
	return nil
}
