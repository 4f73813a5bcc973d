// Package redisbus submits service calls by appending them to a Redis stream.
// A host-side consumer group reads the stream and executes the calls.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/homenavi/llm-service-bridge/internal/servicecall"
)

const (
	DefaultStream = "homenavi:llmbridge:service_calls"
	// DefaultMaxLen caps the stream so unconsumed calls do not grow without bound.
	DefaultMaxLen = 10000
)

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type Bus struct {
	rdb    streamAdder
	stream string
	maxLen int64
}

func New(rdb streamAdder, stream string, maxLen int64) *Bus {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Bus{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (b *Bus) Dispatch(ctx context.Context, domain, action string, payload map[string]any, blocking bool) error {
	env := servicecall.NewEnvelope(domain, action, payload, blocking)
	data, err := json.Marshal(env.ServiceData)
	if err != nil {
		return fmt.Errorf("encode service data: %w", err)
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"request_id":   env.RequestID,
			"domain":       env.Domain,
			"service":      env.Service,
			"service_data": string(data),
			"blocking":     env.Blocking,
			"issued_at":    env.IssuedAt.UnixMilli(),
		},
	}).Err()
}
