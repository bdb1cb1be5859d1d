package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/vault-service/internal/domain"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "session:user:"
)

// RedisStore keeps sessions in Redis with a per-user index set.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, identity domain.SessionIdentity, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	id := newSessionID()
	userKey := userIndexKey(identity.UserID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+id, payload, ttl)
	pipe.SAdd(ctx, userKey, id)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.SessionIdentity, error) {
	var identity domain.SessionIdentity
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return identity, ErrNotFound
	}
	if err != nil {
		return identity, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal(raw, &identity); err != nil {
		return identity, fmt.Errorf("decode session: %w", err)
	}
	return identity, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	identity, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.SRem(ctx, userIndexKey(identity.UserID), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID int64) error {
	userKey := userIndexKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, userKey)
	return s.client.Del(ctx, keys...).Err()
}

func userIndexKey(userID int64) string {
	return userKeyPrefix + strconv.FormatInt(userID, 10)
}
