package queue

import (
	"context"
	"strings"
)

// NewQueue creates a redis-backed queue when configured, otherwise in-memory.
func NewQueue(ctx context.Context, redisAddr string) (Queue, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return NewInMemoryQueue(), nil
	}
	return NewRedisQueue(ctx, redisAddr)
}
