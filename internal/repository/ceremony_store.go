package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CeremonyStore keeps in-flight WebAuthn session data between the begin and
// finish halves of a ceremony. Sessions are single-use: Take removes the
// value as it reads it, so a response can never be replayed against the same
// challenge.
type CeremonyStore interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

type redisCeremonyStore struct {
	client *redis.Client
	prefix string
}

func NewCeremonyStore(client *redis.Client) CeremonyStore {
	return &redisCeremonyStore{client: client, prefix: "passkey:"}
}

func (s *redisCeremonyStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store ceremony session: %w", err)
	}
	return nil
}

func (s *redisCeremonyStore) Take(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("take ceremony session: %w", err)
	}
	return data, true, nil
}

func (s *redisCeremonyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
