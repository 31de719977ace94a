package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps artifacts as plain Redis strings with a TTL.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 存储；ttl <= 0 时默认 24 小时
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "artifact:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: logger.With(zap.String("component", "artifact_store"))}
}

func (s *RedisStore) Put(ctx context.Context, data []byte, mime string) (string, error) {
	ref := Ref(data, mime)
	key, _, _ := parseRef(ref)

	// SETNX keeps the first copy and only refreshes its TTL.
	ok, err := s.client.SetNX(ctx, s.prefix+key, data, s.ttl).Result()
	if err != nil {
		s.logger.Error("artifact put failed", zap.String("ref", ref), zap.Error(err))
		return "", fmt.Errorf("artifact put failed: %w", err)
	}
	if !ok {
		if err := s.client.Expire(ctx, s.prefix+key, s.ttl).Err(); err != nil {
			s.logger.Warn("artifact ttl refresh failed", zap.String("ref", ref), zap.Error(err))
		}
	}
	return ref, nil
}

func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, string, error) {
	key, ext, err := parseRef(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("artifact get failed: %w", err)
	}
	return data, MIMEFromExtension(ext), nil
}
