package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// SessionKeyPrefix is prepended to the token to form the Redis key holding
// the user id.
const SessionKeyPrefix = "session:"

type sessionGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSessions resolves tokens from session keys written by the login
// service. Key expiry is the session lifetime.
type RedisSessions struct {
	client sessionGetter
	closer func() error
}

// NewRedisSessions connects to the Redis instance at url and pings it.
func NewRedisSessions(ctx context.Context, url string) (*RedisSessions, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisSessions{client: client, closer: client.Close}, nil
}

func (s *RedisSessions) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	userID, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

func (s *RedisSessions) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
