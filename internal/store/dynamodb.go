// This file implements a DynamoDB-backed record store using a single-table layout.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	skTarget      = "TARGET"
	skMoodPrefix  = "MOOD#"
	skInbound     = "INBOUND"
	pkUserPrefix  = "USER#"
	pkEventPrefix = "EVENT#"
	// sortableTimeLayout is fixed width so sort keys order chronologically.
	sortableTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDBStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore keeps all records of a user under partition key USER#<id>.
type DynamoDBStore struct {
	api      dynamodbAPI
	table    string
	dedupTTL time.Duration

	mu       sync.Mutex
	lastMood time.Time // keeps mood sort keys strictly increasing within this process
}

// NewDynamoDBStore loads the default AWS configuration and creates a store for the configured table.
func NewDynamoDBStore(ctx context.Context, opts ...Option) (*DynamoDBStore, error) {
	cfg := applyOpts(opts)
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("DynamoDBStore failed to load AWS config", "error", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoDBStoreFromAPI(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.DedupTTL)
}

// NewDynamoDBStoreFromAPI wraps an existing DynamoDB API implementation.
func NewDynamoDBStoreFromAPI(api dynamodbAPI, table string, dedupTTL time.Duration) (*DynamoDBStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamodb table name must not be empty")
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	slog.Debug("DynamoDBStore created", "table", table)
	return &DynamoDBStore{api: api, table: table, dedupTTL: dedupTTL}, nil
}

func userPK(userID string) string {
	return pkUserPrefix + userID
}

func moodSK(ts time.Time) string {
	return skMoodPrefix + ts.UTC().Format(sortableTimeLayout) + "#" + uuid.NewString()
}

func (s *DynamoDBStore) nextMoodTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastMood) {
		now = s.lastMood.Add(time.Nanosecond)
	}
	s.lastMood = now
	return now
}

// SaveTarget replaces the user's target item.
func (s *DynamoDBStore) SaveTarget(ctx context.Context, userID, text string) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK":        &types.AttributeValueMemberS{Value: skTarget},
			"userId":    &types.AttributeValueMemberS{Value: userID},
			"text":      &types.AttributeValueMemberS{Value: text},
			"updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		slog.Error("DynamoDBStore SaveTarget failed", "error", err, "userID", userID)
		return persistErr("SaveTarget", userID, err)
	}
	slog.Debug("DynamoDBStore SaveTarget succeeded", "userID", userID)
	return nil
}

// GetTarget returns the user's target or nil if none was saved.
func (s *DynamoDBStore) GetTarget(ctx context.Context, userID string) (*models.TargetRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skTarget},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		slog.Error("DynamoDBStore GetTarget failed", "error", err, "userID", userID)
		return nil, persistErr("GetTarget", userID, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	text, err := strAttr(out.Item, "text")
	if err != nil {
		return nil, persistErr("GetTarget", userID, err)
	}
	rec := &models.TargetRecord{UserID: userID, Text: text}
	if updated, err := strAttr(out.Item, "updatedAt"); err == nil {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	}
	return rec, nil
}

// AppendMood writes one mood item with a unique, time-ordered sort key.
func (s *DynamoDBStore) AppendMood(ctx context.Context, userID, text, date string) error {
	now := s.nextMoodTime()
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK":        &types.AttributeValueMemberS{Value: moodSK(now)},
			"userId":    &types.AttributeValueMemberS{Value: userID},
			"moodText":  &types.AttributeValueMemberS{Value: text},
			"date":      &types.AttributeValueMemberS{Value: date},
			"createdAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		slog.Error("DynamoDBStore AppendMood failed", "error", err, "userID", userID)
		return persistErr("AppendMood", userID, err)
	}
	slog.Debug("DynamoDBStore AppendMood succeeded", "userID", userID, "date", date)
	return nil
}

// ListMoods queries MOOD# items newest first and returns them in chronological order.
func (s *DynamoDBStore) ListMoods(ctx context.Context, userID string, limit int) ([]models.MoodLogEntry, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skMoodPrefix},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	var entries []models.MoodLogEntry
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			slog.Error("DynamoDBStore ListMoods query failed", "error", err, "userID", userID)
			return nil, persistErr("ListMoods", userID, err)
		}
		for _, item := range out.Items {
			e, err := itemToMood(userID, item)
			if err != nil {
				return nil, persistErr("ListMoods", userID, err)
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(entries) >= limit) {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// RecordInbound writes EVENT#<id> once; a failed condition means the event was seen before.
func (s *DynamoDBStore) RecordInbound(ctx context.Context, eventID, userID string) (bool, error) {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: pkEventPrefix + eventID},
			"SK":     &types.AttributeValueMemberS{Value: skInbound},
			"userId": &types.AttributeValueMemberS{Value: userID},
			"ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(s.dedupTTL).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return false, nil
	}
	if err != nil {
		slog.Error("DynamoDBStore RecordInbound failed", "error", err, "eventID", eventID)
		return false, persistErr("RecordInbound", userID, err)
	}
	return true, nil
}

// ForgetInbound deletes the inbound marker item for eventID.
func (s *DynamoDBStore) ForgetInbound(ctx context.Context, eventID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkEventPrefix + eventID},
			"SK": &types.AttributeValueMemberS{Value: skInbound},
		},
	})
	if err != nil {
		slog.Error("DynamoDBStore ForgetInbound failed", "error", err, "eventID", eventID)
		return persistErr("ForgetInbound", "", err)
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (s *DynamoDBStore) Close() error { return nil }

func itemToMood(userID string, item map[string]types.AttributeValue) (models.MoodLogEntry, error) {
	text, err := strAttr(item, "moodText")
	if err != nil {
		return models.MoodLogEntry{}, err
	}
	date, err := strAttr(item, "date")
	if err != nil {
		return models.MoodLogEntry{}, err
	}
	e := models.MoodLogEntry{UserID: userID, MoodText: text, Date: date}
	if created, err := strAttr(item, "createdAt"); err == nil {
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	}
	return e, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}
