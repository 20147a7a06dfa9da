package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "lvl"

// RedisStore keeps one JSON document per conversation plus a sorted set
// indexing conversation ids by updated_at.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Default is "lvl".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL expires conversations after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) convKey(id string) string { return s.prefix + ":conversation:" + id }
func (s *RedisStore) indexKey() string         { return s.prefix + ":conversations" }

func (s *RedisStore) Save(ctx context.Context, c *Conversation) error {
	if c == nil || c.ID == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.convKey(c.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.UpdatedAt.UnixMilli()), Member: c.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	data, err := s.client.Get(ctx, s.convKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.convKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.convKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]*Conversation, 0, len(vals))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// expired document still in the index
			stale = append(stale, ids[i])
			continue
		}
		var c Conversation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("unmarshal conversation %s: %w", ids[i], err)
		}
		out = append(out, &c)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(), stale...)
	}
	sortByUpdated(out)
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	keys := []string{s.indexKey()}
	for _, id := range ids {
		keys = append(keys, s.convKey(id))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}
