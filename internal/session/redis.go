package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps every session as one field of a single hash, keyed by
// "origin|genesisId", so multiple gateway replicas share bindings.
type RedisStore struct {
	client *redis.Client
	hash   string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore uses prefix to namespace the hash key. An empty prefix
// defaults to "dapp_gateway".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dapp_gateway"
	}
	return &RedisStore{client: client, hash: prefix + ":sessions"}
}

func (r *RedisStore) Get(ctx context.Context, origin, genesisID string) (Session, error) {
	raw, err := r.client.HGet(ctx, r.hash, memoryKey(origin, genesisID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Put(ctx context.Context, s Session) error {
	if s.CreatedAt.IsZero() {
		if prev, err := r.Get(ctx, s.Origin, s.GenesisID); err == nil {
			s.CreatedAt = prev.CreatedAt
		}
	}
	s = stamp(s, time.Now().UTC())
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.HSet(ctx, r.hash, memoryKey(s.Origin, s.GenesisID), data).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, origin, genesisID string) (bool, error) {
	n, err := r.client.HDel(ctx, r.hash, memoryKey(origin, genesisID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) DeleteByAddress(ctx context.Context, address string) (int, error) {
	all, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	var fields []string
	for _, s := range all {
		if strings.EqualFold(s.Address, address) {
			fields = append(fields, memoryKey(s.Origin, s.GenesisID))
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := r.client.HDel(ctx, r.hash, fields...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete sessions by address: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) List(ctx context.Context) ([]Session, error) {
	entries, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(entries))
	for field, raw := range entries {
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", field, err)
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}
