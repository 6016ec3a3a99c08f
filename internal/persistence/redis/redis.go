package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-cart/internal/persistence"
	"github.com/utafrali/storefront-cart/pkg/database"
)

const keyPrefix = "storefront:"

// Backend implements persistence.Backend on Redis. Each client's keys live
// under storefront:<clientID>:<key> and share one TTL that is refreshed on
// every write.
type Backend struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New creates a Redis-backed backend. A zero ttl keeps keys forever.
func New(client redis.UniversalClient, ttl time.Duration) *Backend {
	return &Backend{
		client: client,
		ttl:    ttl,
	}
}

// Scope returns the store for clientID.
func (b *Backend) Scope(clientID string) persistence.Store {
	return &store{backend: b, clientID: clientID}
}

// Ping checks the connection.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Key returns the Redis key holding key for clientID.
func Key(clientID, key string) string {
	return keyPrefix + clientID + ":" + key
}

type store struct {
	backend  *Backend
	clientID string
}

func (s *store) Get(ctx context.Context, key string) (_ []byte, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "GetCartKey", "GET")
	defer func() { end(err) }()

	data, err := s.backend.client.Get(ctx, Key(s.clientID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set writes key and pushes the expiry of the client's other keys forward
// so the whole cart ages out together.
func (s *store) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "SetCartKey", "MULTI SET EXPIRE EXEC")
	defer func() { end(err) }()

	ttl := s.backend.ttl
	_, err = s.backend.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(s.clientID, key), value, ttl)
		if ttl <= 0 {
			return nil
		}
		for _, other := range persistence.Keys {
			if other != key {
				pipe.Expire(ctx, Key(s.clientID, other), ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, key string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "DeleteCartKey", "DEL")
	defer func() { end(err) }()

	if err = s.backend.client.Del(ctx, Key(s.clientID, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
