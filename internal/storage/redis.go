package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChangesChannel carries the key of every write made through a RedisStore.
const ChangesChannel = "cart:changes"

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store whose keys expire ttl after the last write.
// A zero ttl keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return v, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	r.publish(ctx, key)
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	r.publish(ctx, key)
	return nil
}

// Update applies fn inside a WATCH/MULTI transaction and retries when
// another client wrote the key in between.
func (r *RedisStore) Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		found := true
		if errors.Is(err, redis.Nil) {
			found = false
		} else if err != nil {
			return fmt.Errorf("redis get failed: %w", err)
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			r.publish(ctx, key)
			return nil
		case errors.Is(err, ErrSkipWrite):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("redis update %s: %w", key, ErrConflict)
}

// Watch subscribes to ChangesChannel and calls fn for every write to key,
// including writes made by other processes.
func (r *RedisStore) Watch(ctx context.Context, key string, fn func()) error {
	sub := r.client.Subscribe(ctx, ChangesChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == key {
				fn()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publish is best effort; a lost notification only delays other watchers.
func (r *RedisStore) publish(ctx context.Context, key string) {
	_ = r.client.Publish(ctx, ChangesChannel, key).Err()
}
