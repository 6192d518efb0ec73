package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"interview-agent/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func withEventID(t *testing.T, id string) {
	t.Helper()
	prev := newEventID
	newEventID = func() string { return id }
	t.Cleanup(func() { newEventID = prev })
}

func sAttr(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func nAttr(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#42", sessionPK("42"))
}

func TestEventSK_SortsChronologically(t *testing.T) {
	a := eventSK(fixedNow, "b")
	b := eventSK(fixedNow.Add(time.Millisecond), "a")
	require.True(t, strings.HasPrefix(a, skPrefixEvent))
	require.Less(t, a, b)
}

func TestNewEvent_Fields(t *testing.T) {
	withEventID(t, "evt-1")
	ev := NewEvent("42", "acme", domain.EventStageTransition, fixedNow)
	require.Equal(t, "SESSION#42", ev.PK)
	require.Equal(t, "EVENT#2025-03-01T12:00:00Z#evt-1", ev.SK)
	require.Equal(t, "evt-1", ev.EventID)
	require.Equal(t, domain.EventStageTransition, ev.Type)
	require.Equal(t, fixedNow.Add(ttlDuration).Unix(), ev.TTL)
}

func TestNewSessionMeta_Fields(t *testing.T) {
	meta := NewSessionMeta("42", "acme", domain.SessionStatusActive, fixedNow)
	require.Equal(t, "SESSION#42", meta.PK)
	require.Equal(t, skMeta, meta.SK)
	require.Equal(t, "2025-03-01T12:00:00Z", meta.LastActivity)
	require.Equal(t, domain.SessionStatusActive, meta.Status)
}

func TestPutEvent_HappyPath(t *testing.T) {
	withEventID(t, "evt-1")
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	ev := NewEvent("42", "acme", domain.EventStageTransition, fixedNow)
	ev.FromStage = "intro"
	ev.ToStage = "q1"
	ev.DurationSeconds = 12.5
	require.NoError(t, c.PutEvent(context.Background(), ev))

	in := db.lastPutInput
	require.Equal(t, "test-table", *in.TableName)
	require.Contains(t, *in.ConditionExpression, "attribute_not_exists")
	require.Equal(t, sAttr("intro"), in.Item["fromStage"])
	require.Equal(t, nAttr("12.5"), in.Item["durationSeconds"])
	require.NotContains(t, in.Item, "endReason")
}

func TestPutEvent_MissingKeys(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.PutEvent(context.Background(), domain.SessionEvent{PK: "SESSION#1"}))
}

func TestPutEvent_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("boom")})
	err := c.PutEvent(context.Background(), NewEvent("42", "", domain.EventSessionStarted, fixedNow))
	require.ErrorContains(t, err, "PutEvent")
}

func TestListEvents_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"PK": sAttr("SESSION#42"), "SK": sAttr("EVENT#1"), "type": sAttr("session_started")},
		{"PK": sAttr("SESSION#42"), "SK": sAttr("EVENT#2"), "type": sAttr("session_ended"), "endReason": sAttr("completed"), "completedStages": nAttr("3"), "durationSeconds": nAttr("95")},
	}}}
	c := mustNewClient(t, db)

	events, err := c.ListEvents(context.Background(), "42", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventSessionStarted, events[0].Type)
	require.Equal(t, "completed", events[1].EndReason)
	require.Equal(t, 3, events[1].CompletedStages)
	require.InDelta(t, 95.0, events[1].DurationSeconds, 0.001)

	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.lastQueryIn.KeyConditionExpression)
	require.True(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, int32(10), *db.lastQueryIn.Limit)
}

func TestListEvents_NoLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	events, err := c.ListEvents(context.Background(), "42", 0)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Nil(t, db.lastQueryIn.Limit)
}

func TestListEvents_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"PK": sAttr("SESSION#42"), "SK": sAttr("EVENT#1")},
	}}}
	c := mustNewClient(t, db)
	_, err := c.ListEvents(context.Background(), "42", 0)
	require.ErrorContains(t, err, "type")
}

func TestListEvents_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("throttled")})
	_, err := c.ListEvents(context.Background(), "42", 0)
	require.ErrorContains(t, err, "throttled")
}

func TestGetSessionMeta_Found(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":              sAttr("SESSION#42"),
		"SK":              sAttr(skMeta),
		"status":          sAttr(domain.SessionStatusEnded),
		"completedStages": nAttr("2"),
		"totalStages":     nAttr("3"),
		"durationSeconds": nAttr("120"),
		"endReason":       sAttr("participant_inactive"),
	}}}
	c := mustNewClient(t, db)

	meta, found, err := c.GetSessionMeta(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.SessionStatusEnded, meta.Status)
	require.Equal(t, 2, meta.CompletedStages)
	require.Equal(t, 3, meta.TotalStages)
	require.Equal(t, int64(120), meta.DurationSeconds)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetSessionMeta_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, found, err := c.GetSessionMeta(context.Background(), "42")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetSessionMeta_Malformed(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":              sAttr("SESSION#42"),
		"status":          sAttr("ended"),
		"completedStages": sAttr("two"),
	}}}
	c := mustNewClient(t, db)
	_, _, err := c.GetSessionMeta(context.Background(), "42")
	require.Error(t, err)
}

func TestGetSessionMeta_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.GetSessionMeta(context.Background(), "42")
	require.Error(t, err)
}

func TestUpsertMeta(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	meta := NewSessionMeta("42", "acme", domain.SessionStatusActive, fixedNow)
	require.NoError(t, c.UpsertMeta(context.Background(), meta))
	require.Nil(t, db.lastPutInput.ConditionExpression)
	require.Equal(t, sAttr("active"), db.lastPutInput.Item["status"])

	require.Error(t, c.UpsertMeta(context.Background(), domain.SessionMeta{}))
}

func TestSaveSessionEnd_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	ev := NewEvent("42", "acme", domain.EventSessionEnded, fixedNow)
	meta := NewSessionMeta("42", "acme", domain.SessionStatusEnded, fixedNow)
	meta.TranscriptLocation = "s3://b/acme/42/full_transcript.json"
	require.NoError(t, c.SaveSessionEnd(context.Background(), ev, meta))

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Put.ConditionExpression)
	require.Equal(t, sAttr("session_ended"), items[0].Put.Item["type"])
	require.Equal(t, sAttr("s3://b/acme/42/full_transcript.json"), items[1].Put.Item["transcriptLocation"])
}

func TestSaveSessionEnd_Validation(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	ev := NewEvent("42", "acme", domain.EventSessionEnded, fixedNow)
	require.Error(t, c.SaveSessionEnd(context.Background(), domain.SessionEvent{}, NewSessionMeta("42", "", "ended", fixedNow)))
	require.Error(t, c.SaveSessionEnd(context.Background(), ev, domain.SessionMeta{}))
}

func TestSaveSessionEnd_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("conflict")})
	err := c.SaveSessionEnd(context.Background(),
		NewEvent("42", "acme", domain.EventSessionEnded, fixedNow),
		NewSessionMeta("42", "acme", domain.SessionStatusEnded, fixedNow))
	require.ErrorContains(t, err, "conflict")
}
