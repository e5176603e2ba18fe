package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFallback 以redis hash为后端的降级存储，
// 每个实体种类一个key，field为记录id
type RedisFallback struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisFallback 连接redis并测试连通性
func NewRedisFallback(addr, password string, db int) (*RedisFallback, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.TODO()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisFallback{client: client, keyPrefix: "spl:fallback:"}, nil
}

func (r *RedisFallback) key(kind Kind) string {
	return r.keyPrefix + string(kind)
}

func (r *RedisFallback) Get(ctx context.Context, kind Kind, id string) (*Record, bool, error) {
	raw, err := r.client.HGet(ctx, r.key(kind), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode fallback record %s/%s: %w", kind, id, err)
	}
	return &rec, true, nil
}

func (r *RedisFallback) Put(ctx context.Context, kind Kind, id string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode fallback record: %w", err)
	}
	return r.client.HSet(ctx, r.key(kind), id, raw).Err()
}

func (r *RedisFallback) LoadAll(ctx context.Context, kind Kind) (map[string]Record, error) {
	all, err := r.client.HGetAll(ctx, r.key(kind)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(all))
	for id, raw := range all {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode fallback record %s/%s: %w", kind, id, err)
		}
		out[id] = rec
	}
	return out, nil
}

func (r *RedisFallback) MarkSynced(ctx context.Context, kind Kind, id string) error {
	rec, ok, err := r.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	rec.Synced = true
	return r.Put(ctx, kind, id, *rec)
}
