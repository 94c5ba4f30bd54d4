package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key phase events are appended to.
const DefaultStream = "defiflow:events"

// RedisStream appends events to a Redis stream, capped at roughly maxLen
// entries.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	owned  bool
}

// NewRedisStream wraps an existing client.
func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64) (*RedisStream, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}, nil
}

// DialRedisStream connects to addr and verifies the connection.
func DialRedisStream(ctx context.Context, addr, password string, db int, stream string, maxLen int64) (*RedisStream, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	s, err := NewRedisStream(client, stream, maxLen)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Name implements Sink.
func (s *RedisStream) Name() string { return "redis:" + s.stream }

// Publish implements Sink.
func (s *RedisStream) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"data":  string(data),
			"phase": event.Phase,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	return nil
}

// Close closes the client if this sink opened it.
func (s *RedisStream) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
