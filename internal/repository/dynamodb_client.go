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

	"ai-tutor/internal/domain"
)

const (
	skPrefixEntry = "ENTRY#"
	skMeta        = "META#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL

	// Fixed width so sort keys order the same lexically and chronologically.
	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store is satisfied by every conversation backend.
type Store interface {
	Load(ctx context.Context, sessionID string) (domain.Conversation, error)
	Append(ctx context.Context, sessionID string, entry domain.ConversationEntry) error
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*Memory)(nil)
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversations in a DynamoDB table so several front-end
// instances (or Lambda invocations) share one transcript per session.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// entrySK orders entries by creation time; the entry id breaks ties.
func entrySK(ts time.Time, entryID string) string {
	return skPrefixEntry + ts.UTC().Format(sortTimeLayout) + "#" + entryID
}

func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// Load queries all ENTRY# items of a session in chronological order, following
// pagination until the partition is exhausted.
func (c *Client) Load(ctx context.Context, sessionID string) (domain.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Conversation{}, errors.New("repository: Load: session id must not be empty")
	}

	conv := domain.Conversation{ID: sessionID}
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: Load query: %w", err)
		}
		for _, item := range out.Items {
			entry, err := itemToEntry(item)
			if err != nil {
				return domain.Conversation{}, fmt.Errorf("repository: Load unmarshal: %w", err)
			}
			conv.Entries = append(conv.Entries, entry)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return conv, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Append writes the entry and bumps the session metadata in one transaction.
// The entry put is conditional, so an entry is never overwritten.
func (c *Client) Append(ctx context.Context, sessionID string, entry domain.ConversationEntry) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("repository: Append: session id must not be empty")
	}
	if entry.ID == "" {
		return errors.New("repository: Append: entry id must not be empty")
	}
	now := c.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                entryItem(sessionID, entry, now),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET sessionId = :sid, lastActivity = :now, #ttl = :ttl ADD entries :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":sid": &types.AttributeValueMemberS{Value: sessionID},
						":now": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(now))},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func entryItem(sessionID string, entry domain.ConversationEntry, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: entrySK(entry.CreatedAt, entry.ID)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"entryId":   &types.AttributeValueMemberS{Value: entry.ID},
		"text":      &types.AttributeValueMemberS{Value: entry.Text},
		"isUser":    &types.AttributeValueMemberBOOL{Value: entry.IsUser},
		"createdAt": &types.AttributeValueMemberS{Value: entry.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(now))},
	}
}

// itemToEntry converts a DynamoDB attribute map to a ConversationEntry.
func itemToEntry(item map[string]types.AttributeValue) (domain.ConversationEntry, error) {
	id, err := strAttr(item, "entryId")
	if err != nil {
		return domain.ConversationEntry{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.ConversationEntry{}, err
	}
	isUser, err := boolAttr(item, "isUser")
	if err != nil {
		return domain.ConversationEntry{}, err
	}
	entry := domain.ConversationEntry{ID: id, Text: text, IsUser: isUser}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.ConversationEntry{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
		}
		entry.CreatedAt = ts
	}
	return entry, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}
