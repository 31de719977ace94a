package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per (identity, day) under usage:{identity}:{day}.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ UsageStore = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 用量存储；ttl 默认 8 天，覆盖一周的闲置淘汰窗口
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "usage:"
	}
	if ttl <= 0 {
		ttl = 8 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(identity, day string) string {
	return s.prefix + identity + ":" + day
}

func (s *RedisStore) Load(ctx context.Context, identity, day string) (*UsageRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(identity, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &UsageRecord{Identity: identity, Day: day}
	if rec.Count, err = strconv.Atoi(fields["count"]); err != nil {
		return nil, fmt.Errorf("load usage: bad count %q: %w", fields["count"], err)
	}
	rec.LastReset = unixNano(fields["last_reset"])
	rec.BlockedUntil = unixNano(fields["blocked_until"])
	rec.LastTouched = unixNano(fields["last_touched"])
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *UsageRecord) error {
	key := s.key(rec.Identity, rec.Day)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"count", rec.Count,
			"last_reset", nanoString(rec.LastReset),
			"blocked_until", nanoString(rec.BlockedUntil),
			"last_touched", nanoString(rec.LastTouched),
		)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

func nanoString(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func unixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
