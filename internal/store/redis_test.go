package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:", time.Hour)

	t.Cleanup(func() {
		_ = s.Close()
	})
	return mr, s
}

func TestRedisStore(t *testing.T) {
	_, s := setupMiniredis(t)
	exerciseRecordStore(t, s)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTarget(ctx, "alice", "Finish report"))
	require.NoError(t, s.AppendMood(ctx, "alice", "Happy", "2025-03-01"))
	require.NoError(t, s.AppendMood(ctx, "alice", "Tired", "2025-03-01"))

	require.True(t, mr.Exists("test:target:alice"))
	items, err := mr.List("test:moods:alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Contains(t, items[0], `"mood_text":"Happy"`)
}

func TestRedisStoreDedupExpires(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()

	ok, err := s.RecordInbound(ctx, "evt-9", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Hour)

	ok, err = s.RecordInbound(ctx, "evt-9", "alice")
	require.NoError(t, err)
	require.True(t, ok, "expired event id should be accepted again")
}

func TestRedisStoreReportsPersistenceError(t *testing.T) {
	mr, s := setupMiniredis(t)
	mr.Close()

	err := s.AppendMood(context.Background(), "alice", "Happy", "2025-03-01")
	require.ErrorIs(t, err, ErrPersistence)

	_, err = s.GetTarget(context.Background(), "alice")
	require.ErrorIs(t, err, ErrPersistence)
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), WithRedisURL("not-a-url"))
	require.Error(t, err)
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), WithRedisURL("redis://"+mr.Addr()), WithRedisPrefix("ls:"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveTarget(context.Background(), "bob", "Walk"))
	require.True(t, mr.Exists("ls:target:bob"))
}
