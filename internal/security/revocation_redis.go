package security

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocationSet shares the token deny-list across instances. Redis key
// expiry enforces the bounded TTL.
type RedisRevocationSet struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRevocationSet(client redis.UniversalClient, prefix string) *RedisRevocationSet {
	if prefix == "" {
		prefix = "revoked_token"
	}
	return &RedisRevocationSet{client: client, prefix: prefix}
}

func (s *RedisRevocationSet) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if s.client == nil || tokenID == "" || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(tokenID), "1", ttl).Err()
}

func (s *RedisRevocationSet) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisRevocationSet) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}
