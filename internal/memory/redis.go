package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps conversation state and the turn log in Redis.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	stateTTL  time.Duration
	retention int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithStateTTL expires conversation state after ttl. Zero disables expiry.
func WithStateTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.stateTTL = ttl }
}

// WithKeyPrefix sets the Redis key namespace. Default is "studybuddy".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTurnRetention caps the turn log per learner.
func WithTurnRetention(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.retention = n
		}
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    "studybuddy",
		retention: DefaultTurnRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL parses a redis:// URL and verifies connectivity.
func NewRedisStoreFromURL(ctx context.Context, rawURL string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

func (s *RedisStore) Mode() string { return "redis" }

func (s *RedisStore) stateKey(key string) string { return s.prefix + ":state:" + key }
func (s *RedisStore) turnsKey(userID string) string { return s.prefix + ":turns:" + userID }

func (s *RedisStore) LoadState(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.stateKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return blob, nil
}

func (s *RedisStore) SaveState(ctx context.Context, key string, blob []byte) error {
	if err := s.client.Set(ctx, s.stateKey(key), blob, s.stateTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteState(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.stateKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// SaveTurn appends to the learner's list and trims it in one pipeline.
func (s *RedisStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := s.turnsKey(record.UserID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.retention), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentContext(ctx context.Context, userID string, limit int) ([]TurnRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.turnsKey(userID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]TurnRecord, 0, len(raw))
	for _, item := range raw {
		var r TurnRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
