package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix = "room:"

	// Abandoned rooms fall out of Redis on their own.
	roomExpiration = 12 * time.Hour

	// casAttempts bounds the optimistic retry loop on write contention.
	casAttempts = 16
)

// RedisStore keeps each room as one JSON document at room:<id>. Atomicity
// comes from WATCH + transactional writes: a concurrent change to the key
// between read and write fails the transaction and the operation re-reads
// and retries.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (rs *RedisStore) loadDoc(ctx context.Context, roomID string) (any, error) {
	data, err := rs.client.Get(ctx, roomKeyPrefix+roomID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return doc, nil
}

func (rs *RedisStore) Read(ctx context.Context, roomID, path string) (json.RawMessage, error) {
	doc, err := rs.loadDoc(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return marshalNode(docGet(doc, path))
}

func (rs *RedisStore) Write(ctx context.Context, roomID, path string, v any) error {
	return rs.MultiUpdate(ctx, roomID, map[string]any{path: v})
}

func (rs *RedisStore) MultiUpdate(ctx context.Context, roomID string, updates map[string]any) error {
	return rs.transact(ctx, roomID, func(doc any) (any, error) {
		return applyDocUpdates(doc, updates)
	})
}

func (rs *RedisStore) CompareAndSwap(ctx context.Context, roomID, path string, fn func(old json.RawMessage) (any, error)) error {
	return rs.transact(ctx, roomID, func(doc any) (any, error) {
		old, err := marshalNode(docGet(doc, path))
		if err != nil {
			return nil, err
		}
		next, err := fn(old)
		if err != nil {
			return nil, err
		}
		jv, err := toJSONValue(next)
		if err != nil {
			return nil, err
		}
		return docSet(doc, path, jv), nil
	})
}

func (rs *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	return rs.client.Del(ctx, roomKeyPrefix+roomID).Err()
}

// transact applies mutate to the freshest document under WATCH, retrying on
// contention. An error from mutate aborts without retrying: application-level
// CAS losers must surface their conflict, not spin.
func (rs *RedisStore) transact(ctx context.Context, roomID string, mutate func(doc any) (any, error)) error {
	key := roomKeyPrefix + roomID
	var abort error

	for i := 0; i < casAttempts; i++ {
		abort = nil
		err := rs.client.Watch(ctx, func(tx *redis.Tx) error {
			var doc any
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				if uerr := json.Unmarshal(data, &doc); uerr != nil {
					return fmt.Errorf("unmarshal room %s: %w", roomID, uerr)
				}
			}

			next, err := mutate(doc)
			if err != nil {
				abort = err
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
					return nil
				}
				out, merr := json.Marshal(next)
				if merr != nil {
					return merr
				}
				pipe.Set(ctx, key, out, roomExpiration)
				return nil
			})
			return err
		}, key)

		if abort != nil {
			return abort
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // someone else wrote the key, re-read and retry
		}
		return err
	}
	return fmt.Errorf("room %s: transaction contention, gave up after %d attempts", roomID, casAttempts)
}
