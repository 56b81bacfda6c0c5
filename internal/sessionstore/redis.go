package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/in-nis/school-portal/internal/auth"
)

// Redis stores each session as JSON under portal:session:<id>. The key TTL
// matches the cookie lifetime.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, id string) (auth.AuthSession, error) {
	value, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return auth.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return auth.AuthSession{}, err
	}
	var s auth.AuthSession
	if err := json.Unmarshal(value, &s); err != nil {
		return auth.AuthSession{}, fmt.Errorf("sessionstore: decode %s: %w", id, err)
	}
	return s, nil
}

func (r *Redis) Put(ctx context.Context, id string, s auth.AuthSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(id), payload, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	err := r.client.Del(ctx, sessionKey(id)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func sessionKey(id string) string {
	return fmt.Sprintf("portal:session:%s", id)
}
