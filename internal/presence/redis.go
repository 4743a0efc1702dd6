package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"realtime-chat/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "online:"

// RedisStore keeps one key per online user, "online:<user id>" holding the
// username, and lets Redis expire it.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func presenceKey(userID string) string {
	return keyPrefix + userID
}

func (s *RedisStore) MarkOnline(ctx context.Context, userID, username string) error {
	if err := s.rdb.Set(ctx, presenceKey(userID), username, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", userID, err)
	}
	return nil
}

// Refresh relies on EXPIRE being a no-op for missing keys.
func (s *RedisStore) Refresh(ctx context.Context, userID string) error {
	if err := s.rdb.Expire(ctx, presenceKey(userID), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence for %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) MarkOffline(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to mark %s offline: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence for %s: %w", userID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) ListOnline(ctx context.Context) ([]models.OnlineUser, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence keys: %w", err)
	}

	users := make([]models.OnlineUser, 0, len(keys))
	if len(keys) == 0 {
		return users, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read presence entries: %w", err)
	}

	for i, v := range values {
		// A key can expire between SCAN and MGET.
		username, ok := v.(string)
		if !ok {
			continue
		}
		users = append(users, models.OnlineUser{
			UserID:   strings.TrimPrefix(keys[i], keyPrefix),
			Username: username,
		})
	}

	sortOnline(users)
	return users, nil
}
