package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"ai-tutor/internal/domain"
)

type fakeDynamo struct {
	queryOuts   []*dynamodb.QueryOutput
	queryErr    error
	txErr       error
	queryInputs []*dynamodb.QueryInput
	lastTxInput *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeEntryItem(id, text string, isUser bool) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":        &types.AttributeValueMemberS{Value: "ENTRY#x#" + id},
		"entryId":   &types.AttributeValueMemberS{Value: id},
		"text":      &types.AttributeValueMemberS{Value: text},
		"isUser":    &types.AttributeValueMemberBOOL{Value: isUser},
		"createdAt": &types.AttributeValueMemberS{Value: "2026-02-27T11:00:00.5Z"},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestLoad_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeEntryItem("e1", "What is Go?", true),
			makeEntryItem("e2", "<p class=\"mb-2\">A language.</p>", false),
		},
	}}}
	c := mustNewClient(t, db)

	conv, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", conv.ID)
	require.Len(t, conv.Entries, 2)
	require.Equal(t, "e1", conv.Entries[0].ID)
	require.True(t, conv.Entries[0].IsUser)
	require.False(t, conv.Entries[1].IsUser)
	require.Equal(t, time.Date(2026, 2, 27, 11, 0, 0, 500000000, time.UTC), conv.Entries[0].CreatedAt)
}

func TestLoad_QueryShape(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	_, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)

	in := db.queryInputs[0]
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.Equal(t, "SESSION#abc", in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ENTRY#", in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value)
	require.True(t, *in.ScanIndexForward)
	require.True(t, *in.ConsistentRead)
}

func TestLoad_FollowsPagination(t *testing.T) {
	lastKey := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{makeEntryItem("e1", "one", true)}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{makeEntryItem("e2", "two", false)}},
	}}
	c := mustNewClient(t, db)

	conv, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, conv.Entries, 2)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
}

func TestLoad_EmptySession(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	conv, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Empty(t, conv.Entries)
}

func TestLoad_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "Load query")

	_, err = c.Load(context.Background(), " ")
	require.ErrorContains(t, err, "session id")

	item := makeEntryItem("e1", "x", true)
	delete(item, "text")
	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err = c.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "text")

	item = makeEntryItem("e1", "x", true)
	item["isUser"] = &types.AttributeValueMemberS{Value: "yes"}
	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err = c.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "not a bool")

	item = makeEntryItem("e1", "x", true)
	item["createdAt"] = &types.AttributeValueMemberS{Value: "yesterday"}
	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err = c.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "createdAt")
}

func TestAppend_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	created := time.Date(2026, 2, 27, 11, 59, 0, 0, time.UTC)

	err := c.Append(context.Background(), "abc", domain.ConversationEntry{ID: "e1", Text: "hi", IsUser: true, CreatedAt: created})
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *put.ConditionExpression)
	require.Equal(t, "SESSION#abc", put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ENTRY#2026-02-27T11:59:00.000000000Z#e1", put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "hi", put.Item["text"].(*types.AttributeValueMemberS).Value)
	require.True(t, put.Item["isUser"].(*types.AttributeValueMemberBOOL).Value)

	update := db.lastTxInput.TransactItems[1].Update
	require.Equal(t, "META#", update.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *update.UpdateExpression, "ADD entries :one")
	require.Equal(t, "ttl", update.ExpressionAttributeNames["#ttl"])
}

func TestAppend_DefaultsCreatedAt(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.Append(context.Background(), "abc", domain.ConversationEntry{ID: "e1", Text: "hi"}))
	sk := db.lastTxInput.TransactItems[0].Put.Item["SK"].(*types.AttributeValueMemberS).Value
	require.Equal(t, "ENTRY#2026-02-27T12:00:00.000000000Z#e1", sk)
}

func TestAppend_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("transaction canceled")})
	err := c.Append(context.Background(), "abc", domain.ConversationEntry{ID: "e1"})
	require.ErrorContains(t, err, "Append")

	err = c.Append(context.Background(), "", domain.ConversationEntry{ID: "e1"})
	require.ErrorContains(t, err, "session id")

	err = c.Append(context.Background(), "abc", domain.ConversationEntry{})
	require.ErrorContains(t, err, "entry id")
}

func TestEntrySK_SortsChronologically(t *testing.T) {
	whole := entrySK(time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC), "a")
	fraction := entrySK(time.Date(2026, 2, 25, 10, 0, 0, 100, time.UTC), "a")
	require.Less(t, whole, fraction)
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#my-session", sessionPK("my-session"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
