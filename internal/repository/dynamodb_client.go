// Package repository stores the session event log and per-session summary in
// DynamoDB.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"interview-agent/internal/domain"
)

const (
	skPrefixEvent = "EVENT#"
	skMeta        = "META#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

var newEventID = func() string { return uuid.NewString() }

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for session events.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// eventSK sorts chronologically; the id suffix keeps same-instant events apart.
func eventSK(ts time.Time, id string) string {
	return skPrefixEvent + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// ListEvents returns up to limit events for a session, oldest first.
func (c *Client) ListEvents(ctx context.Context, sessionID string, limit int) ([]domain.SessionEvent, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEvent},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListEvents query: %w", err)
	}

	events := make([]domain.SessionEvent, 0, len(out.Items))
	for _, item := range out.Items {
		ev, err := itemToEvent(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListEvents unmarshal: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetSessionMeta returns the summary item; found is false when none exists.
func (c *Client) GetSessionMeta(ctx context.Context, sessionID string) (meta domain.SessionMeta, found bool, err error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionMeta{}, false, fmt.Errorf("repository: GetSessionMeta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionMeta{}, false, nil
	}
	meta, err = itemToMeta(out.Item)
	if err != nil {
		return domain.SessionMeta{}, false, fmt.Errorf("repository: GetSessionMeta decode: %w", err)
	}
	return meta, true, nil
}

// PutEvent appends an event. Re-putting the same event key fails.
func (c *Client) PutEvent(ctx context.Context, ev domain.SessionEvent) error {
	if ev.PK == "" || ev.SK == "" {
		return errors.New("repository: PutEvent: PK and SK are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                eventItem(ev),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: PutEvent: %w", err)
	}
	return nil
}

// UpsertMeta writes or replaces the session summary item.
func (c *Client) UpsertMeta(ctx context.Context, meta domain.SessionMeta) error {
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: UpsertMeta: PK and SK are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(meta),
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertMeta: %w", err)
	}
	return nil
}

// SaveSessionEnd writes the end event and the final summary in one transaction.
func (c *Client) SaveSessionEnd(ctx context.Context, ev domain.SessionEvent, meta domain.SessionMeta) error {
	if ev.PK == "" || ev.SK == "" {
		return errors.New("repository: SaveSessionEnd: event PK and SK are required")
	}
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveSessionEnd: meta PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                eventItem(ev),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(meta),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSessionEnd: %w", err)
	}
	return nil
}

// NewEvent constructs an event with PK/SK/TTL set from the session id and now.
func NewEvent(sessionID, tenantID string, typ domain.EventType, now time.Time) domain.SessionEvent {
	id := newEventID()
	return domain.SessionEvent{
		PK:         sessionPK(sessionID),
		SK:         eventSK(now, id),
		EventID:    id,
		SessionID:  sessionID,
		TenantID:   tenantID,
		Type:       typ,
		OccurredAt: now.UTC().Format(time.RFC3339Nano),
		TTL:        ttlValue(now),
	}
}

// NewSessionMeta constructs the summary item for a session.
func NewSessionMeta(sessionID, tenantID, status string, now time.Time) domain.SessionMeta {
	return domain.SessionMeta{
		PK:           sessionPK(sessionID),
		SK:           skMeta,
		SessionID:    sessionID,
		TenantID:     tenantID,
		Status:       status,
		LastActivity: now.UTC().Format(time.RFC3339),
		TTL:          ttlValue(now),
	}
}

func itemToEvent(item map[string]types.AttributeValue) (domain.SessionEvent, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.SessionEvent{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.SessionEvent{}, err
	}
	typ, err := strAttr(item, "type")
	if err != nil {
		return domain.SessionEvent{}, err
	}
	ev := domain.SessionEvent{PK: pk, SK: sk, Type: domain.EventType(typ)}
	ev.EventID = optStr(item, "eventId")
	ev.SessionID = optStr(item, "sessionId")
	ev.TenantID = optStr(item, "tenantId")
	ev.FromStage = optStr(item, "fromStage")
	ev.ToStage = optStr(item, "toStage")
	ev.Participant = optStr(item, "participant")
	ev.EndReason = optStr(item, "endReason")
	ev.OccurredAt = optStr(item, "occurredAt")
	if _, ok := item["durationSeconds"]; ok {
		d, err := floatAttr(item, "durationSeconds")
		if err != nil {
			return domain.SessionEvent{}, err
		}
		ev.DurationSeconds = d
	}
	if _, ok := item["completedStages"]; ok {
		n, err := intAttr(item, "completedStages")
		if err != nil {
			return domain.SessionEvent{}, err
		}
		ev.CompletedStages = n
	}
	return ev, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.SessionMeta, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	meta := domain.SessionMeta{
		PK:                 pk,
		SK:                 skMeta,
		SessionID:          optStr(item, "sessionId"),
		TenantID:           optStr(item, "tenantId"),
		Participant:        optStr(item, "participant"),
		Status:             status,
		EndReason:          optStr(item, "endReason"),
		TranscriptLocation: optStr(item, "transcriptLocation"),
		LastActivity:       optStr(item, "lastActivity"),
	}
	if _, ok := item["completedStages"]; ok {
		if meta.CompletedStages, err = intAttr(item, "completedStages"); err != nil {
			return domain.SessionMeta{}, err
		}
	}
	if _, ok := item["totalStages"]; ok {
		if meta.TotalStages, err = intAttr(item, "totalStages"); err != nil {
			return domain.SessionMeta{}, err
		}
	}
	if _, ok := item["durationSeconds"]; ok {
		d, err := intAttr(item, "durationSeconds")
		if err != nil {
			return domain.SessionMeta{}, err
		}
		meta.DurationSeconds = int64(d)
	}
	return meta, nil
}

func eventItem(ev domain.SessionEvent) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: ev.PK},
		"SK":              &types.AttributeValueMemberS{Value: ev.SK},
		"eventId":         &types.AttributeValueMemberS{Value: ev.EventID},
		"sessionId":       &types.AttributeValueMemberS{Value: ev.SessionID},
		"tenantId":        &types.AttributeValueMemberS{Value: ev.TenantID},
		"type":            &types.AttributeValueMemberS{Value: string(ev.Type)},
		"occurredAt":      &types.AttributeValueMemberS{Value: ev.OccurredAt},
		"durationSeconds": &types.AttributeValueMemberN{Value: strconv.FormatFloat(ev.DurationSeconds, 'f', -1, 64)},
		"completedStages": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ev.CompletedStages)},
		"ttl":             &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ev.TTL)},
	}
	putOptional(item, "fromStage", ev.FromStage)
	putOptional(item, "toStage", ev.ToStage)
	putOptional(item, "participant", ev.Participant)
	putOptional(item, "endReason", ev.EndReason)
	return item
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: meta.PK},
		"SK":              &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId":       &types.AttributeValueMemberS{Value: meta.SessionID},
		"tenantId":        &types.AttributeValueMemberS{Value: meta.TenantID},
		"status":          &types.AttributeValueMemberS{Value: meta.Status},
		"lastActivity":    &types.AttributeValueMemberS{Value: meta.LastActivity},
		"completedStages": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.CompletedStages)},
		"totalStages":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TotalStages)},
		"durationSeconds": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.DurationSeconds)},
		"ttl":             &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TTL)},
	}
	putOptional(item, "participant", meta.Participant)
	putOptional(item, "endReason", meta.EndReason)
	putOptional(item, "transcriptLocation", meta.TranscriptLocation)
	return item
}

// putOptional skips empty strings so sparse attributes stay absent.
func putOptional(item map[string]types.AttributeValue, key, value string) {
	if value != "" {
		item[key] = &types.AttributeValueMemberS{Value: value}
	}
}

func optStr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
