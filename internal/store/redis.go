// This file implements a Redis-backed record store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix is the key prefix used when none is configured.
	DefaultRedisPrefix = "lifestation:"
	// DefaultDedupTTL is how long inbound event ids are remembered by expiring backends.
	DefaultDedupTTL = 24 * time.Hour
)

// RedisStore keeps targets as string keys and each user's mood log as a list.
// Every write is a single Redis command, so it lands entirely or not at all.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	dedupTTL time.Duration
}

// NewRedisStore connects to the redis:// URL in the options and verifies the connection.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	cfg := applyOpts(opts)
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("RedisStore invalid URL", "error", err)
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		slog.Error("RedisStore ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisStore connected", "addr", redisOpts.Addr, "db", redisOpts.DB)

	return NewRedisStoreFromClient(client, cfg.RedisPrefix, cfg.DedupTTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, dedupTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &RedisStore{client: client, prefix: prefix, dedupTTL: dedupTTL}
}

func (s *RedisStore) targetKey(userID string) string {
	return s.prefix + "target:" + userID
}

func (s *RedisStore) moodsKey(userID string) string {
	return s.prefix + "moods:" + userID
}

func (s *RedisStore) inboundKey(eventID string) string {
	return s.prefix + "inbound:" + eventID
}

// SaveTarget replaces the user's target.
func (s *RedisStore) SaveTarget(ctx context.Context, userID, text string) error {
	data, err := json.Marshal(models.TargetRecord{UserID: userID, Text: text, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return persistErr("SaveTarget", userID, fmt.Errorf("marshal target: %w", err))
	}
	if err := s.client.Set(ctx, s.targetKey(userID), data, 0).Err(); err != nil {
		slog.Error("RedisStore SaveTarget failed", "error", err, "userID", userID)
		return persistErr("SaveTarget", userID, err)
	}
	slog.Debug("RedisStore SaveTarget succeeded", "userID", userID)
	return nil
}

// GetTarget returns the user's target or nil if none was saved.
func (s *RedisStore) GetTarget(ctx context.Context, userID string) (*models.TargetRecord, error) {
	data, err := s.client.Get(ctx, s.targetKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetTarget failed", "error", err, "userID", userID)
		return nil, persistErr("GetTarget", userID, err)
	}
	var rec models.TargetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Error("RedisStore GetTarget decode failed", "error", err, "userID", userID)
		return nil, persistErr("GetTarget", userID, fmt.Errorf("unmarshal target: %w", err))
	}
	return &rec, nil
}

// AppendMood pushes one entry onto the user's mood list.
func (s *RedisStore) AppendMood(ctx context.Context, userID, text, date string) error {
	data, err := json.Marshal(models.MoodLogEntry{UserID: userID, MoodText: text, Date: date, CreatedAt: time.Now().UTC()})
	if err != nil {
		return persistErr("AppendMood", userID, fmt.Errorf("marshal mood: %w", err))
	}
	if err := s.client.RPush(ctx, s.moodsKey(userID), data).Err(); err != nil {
		slog.Error("RedisStore AppendMood failed", "error", err, "userID", userID)
		return persistErr("AppendMood", userID, err)
	}
	slog.Debug("RedisStore AppendMood succeeded", "userID", userID, "date", date)
	return nil
}

// ListMoods returns the tail of the user's mood list.
func (s *RedisStore) ListMoods(ctx context.Context, userID string, limit int) ([]models.MoodLogEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, s.moodsKey(userID), start, -1).Result()
	if err != nil {
		slog.Error("RedisStore ListMoods failed", "error", err, "userID", userID)
		return nil, persistErr("ListMoods", userID, err)
	}

	entries := make([]models.MoodLogEntry, 0, len(raw))
	for _, item := range raw {
		var e models.MoodLogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			slog.Error("RedisStore ListMoods decode failed", "error", err, "userID", userID)
			return nil, persistErr("ListMoods", userID, fmt.Errorf("unmarshal mood: %w", err))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RecordInbound remembers eventID for the dedup TTL.
func (s *RedisStore) RecordInbound(ctx context.Context, eventID, userID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.inboundKey(eventID), userID, s.dedupTTL).Result()
	if err != nil {
		slog.Error("RedisStore RecordInbound failed", "error", err, "eventID", eventID)
		return false, persistErr("RecordInbound", userID, err)
	}
	return ok, nil
}

func (s *RedisStore) ForgetInbound(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.inboundKey(eventID)).Err(); err != nil {
		slog.Error("RedisStore ForgetInbound failed", "error", err, "eventID", eventID)
		return persistErr("ForgetInbound", "", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
