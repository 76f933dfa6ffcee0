// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds every Redis operation issued by the adapter.
// The decision path must stay fast even when the store is degraded.
const DefaultOpTimeout = 1 * time.Second

// Key schemas. Tokens and cache entries share the logical namespace;
// there is no prefix separation beyond these schemas.
const (
	accessTokenKeyFmt  = "access_token:%s"
	refreshTokenKeyFmt = "refresh_token:%s"
	sessionCacheKeyFmt = "session:%s:%s"
)

// Cache entry wire values.
const (
	cacheValueAllowed   = "allowed"
	cacheValueForbidden = "forbidden"
)

// RedisStore implements Store on a Redis-compatible backend. The
// embedded client maintains its own connection pool and is safe for
// concurrent use; one RedisStore is shared by all requests.
type RedisStore struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	allowedTTL   time.Duration
	forbiddenTTL time.Duration
	opTimeout    time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithOpTimeout overrides the per-operation deadline.
func WithOpTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.opTimeout = d
	}
}

// WithLogger sets the logger used for storage warnings.
func WithLogger(l *slog.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = l
	}
}

// NewRedisStore connects to the Redis instance named by redisURL and
// verifies connectivity before returning.
func NewRedisStore(
	ctx context.Context, redisURL string, allowedTTL, forbiddenTTL time.Duration, opts ...RedisStoreOption,
) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisStore(client, allowedTTL, forbiddenTTL, opts...), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured
// client. This is useful for testing with miniredis.
func NewRedisStoreWithClient(
	client redis.UniversalClient, allowedTTL, forbiddenTTL time.Duration, opts ...RedisStoreOption,
) *RedisStore {
	return newRedisStore(client, allowedTTL, forbiddenTTL, opts...)
}

func newRedisStore(
	client redis.UniversalClient, allowedTTL, forbiddenTTL time.Duration, opts ...RedisStoreOption,
) *RedisStore {
	s := &RedisStore{
		client:       client,
		logger:       slog.Default(),
		allowedTTL:   allowedTTL,
		forbiddenTTL: forbiddenTTL,
		opTimeout:    DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// StoreTokens writes both token keys in a single pipelined MULTI/EXEC
// so that readers observe either both keys or neither.
func (s *RedisStore) StoreTokens(ctx context.Context, sessionID string, pair TokenPair) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(accessTokenKeyFmt, sessionID), pair.AccessToken, pair.AccessExpiry)
		pipe.Set(ctx, fmt.Sprintf(refreshTokenKeyFmt, sessionID), pair.RefreshToken, pair.RefreshExpiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store token pair: %w", err)
	}
	return nil
}

// LoadTokens fetches both token keys with one MGET. Expiry metadata is
// not recovered; the returned pair carries only the token strings.
func (s *RedisStore) LoadTokens(ctx context.Context, sessionID string) (TokenPair, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	values, err := s.client.MGet(ctx,
		fmt.Sprintf(accessTokenKeyFmt, sessionID),
		fmt.Sprintf(refreshTokenKeyFmt, sessionID),
	).Result()
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to load token pair: %w", err)
	}

	access, accessOK := values[0].(string)
	refresh, refreshOK := values[1].(string)
	if !accessOK || !refreshOK {
		return TokenPair{}, ErrSessionMissing
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// PutCache writes or deletes the memoized verdict for (session, role).
func (s *RedisStore) PutCache(ctx context.Context, sessionID, role string, verdict Verdict) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	key := fmt.Sprintf(sessionCacheKeyFmt, sessionID, role)

	var err error
	switch verdict {
	case VerdictAllowed:
		err = s.client.Set(ctx, key, cacheValueAllowed, s.allowedTTL).Err()
	case VerdictForbidden:
		err = s.client.Set(ctx, key, cacheValueForbidden, s.forbiddenTTL).Err()
	case VerdictNotCached:
		err = s.client.Del(ctx, key).Err()
	default:
		return fmt.Errorf("unknown verdict %d", verdict)
	}
	if err != nil {
		return fmt.Errorf("failed to update session cache: %w", err)
	}
	return nil
}

// GetCache reads the memoized verdict for (session, role). A value
// that is neither "allowed" nor "forbidden" is logged at warn and
// treated as a miss; the engine recomputes and overwrites it.
func (s *RedisStore) GetCache(ctx context.Context, sessionID, role string) (Verdict, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	key := fmt.Sprintf(sessionCacheKeyFmt, sessionID, role)

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return VerdictNotCached, nil
		}
		return VerdictNotCached, fmt.Errorf("failed to read session cache: %w", err)
	}

	switch value {
	case cacheValueAllowed:
		return VerdictAllowed, nil
	case cacheValueForbidden:
		return VerdictForbidden, nil
	default:
		s.logger.Warn("invalid session cache value",
			"session_id", sessionID,
			"role", role,
			"value", value,
		)
		return VerdictNotCached, nil
	}
}

func (s *RedisStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Compile-time interface compliance check.
var _ Store = (*RedisStore)(nil)
