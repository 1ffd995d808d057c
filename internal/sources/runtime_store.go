package sources

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRuntimeStoreKey = "vodsearch:sources:runtime:v1"

// RuntimeSourceState is an operator override layered over the file config.
type RuntimeSourceState struct {
	Disabled bool `json:"disabled"`
}

type RuntimeStore interface {
	Load(ctx context.Context) (map[string]RuntimeSourceState, error)
	Save(ctx context.Context, key string, state RuntimeSourceState) error
	Delete(ctx context.Context, key string) error
}

type RedisRuntimeStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisRuntimeStore(client redis.UniversalClient, key string) *RedisRuntimeStore {
	if client == nil {
		return nil
	}
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultRuntimeStoreKey
	}
	return &RedisRuntimeStore{
		client: client,
		key:    storeKey,
	}
}

func (s *RedisRuntimeStore) Load(ctx context.Context) (map[string]RuntimeSourceState, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	items, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	out := make(map[string]RuntimeSourceState, len(items))
	for key, encoded := range items {
		key = strings.TrimSpace(key)
		if key == "" || strings.TrimSpace(encoded) == "" {
			continue
		}
		var state RuntimeSourceState
		if err := json.Unmarshal([]byte(encoded), &state); err != nil {
			continue
		}
		out[key] = state
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *RedisRuntimeStore) Save(ctx context.Context, key string, state RuntimeSourceState) error {
	if s == nil || s.client == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, key, payload).Err()
}

func (s *RedisRuntimeStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.client.HDel(ctx, s.key, key).Err()
}
