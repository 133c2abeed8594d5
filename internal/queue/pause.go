package queue

import (
	"context"
	"fmt"
	"time"
)

const pausedKeyName = "paused"

// PauseFlag is the queue-wide pause switch shared by every worker process.
type PauseFlag interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
}

type pauseStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	QueueKey(name string) string
}

// RedisPauseFlag stores the pause switch under cr:queue:paused.
type RedisPauseFlag struct {
	store pauseStore
}

// NewRedisPauseFlag builds a pause flag on the redis client.
func NewRedisPauseFlag(store pauseStore) (*RedisPauseFlag, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client required for pause flag")
	}
	return &RedisPauseFlag{store: store}, nil
}

func (f *RedisPauseFlag) key() string {
	return f.store.QueueKey(pausedKeyName)
}

func (f *RedisPauseFlag) Pause(ctx context.Context) error {
	return f.store.Set(ctx, f.key(), "1", 0)
}

func (f *RedisPauseFlag) Resume(ctx context.Context) error {
	return f.store.Del(ctx, f.key())
}

func (f *RedisPauseFlag) IsPaused(ctx context.Context) (bool, error) {
	return f.store.Exists(ctx, f.key())
}
