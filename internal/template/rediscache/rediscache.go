// Package rediscache caches template lookups in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/djshoppre/emailq/internal/template"
)

const (
	defaultTTL    = 5 * time.Minute
	defaultPrefix = "emailq:template"
)

// Client is the subset of the go-redis client used by Store.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a cached template is kept.
// Default: 5 minutes
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPrefix sets the key prefix. Keys are stored as "{prefix}:{name}".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.TrimSuffix(prefix, ":")
	}
}

// Store wraps another template.Store with a Redis read-through cache.
// Concurrent misses for the same name share one backend lookup. Missing
// templates are not cached.
type Store struct {
	next   template.Store
	client Client
	ttl    time.Duration
	prefix string
	group  singleflight.Group
}

// New wraps next.
func New(next template.Store, client Client, opts ...Option) *Store {
	s := &Store{
		next:   next,
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the Redis server at url and pings it.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Find returns the cached template or loads it from the wrapped store.
// Redis failures are logged and the wrapped store is used directly.
func (s *Store) Find(ctx context.Context, name string) (*template.Template, error) {
	key := s.key(name)

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t template.Template
		if jsonErr := json.Unmarshal(data, &t); jsonErr == nil {
			return &t, nil
		}
		slog.Warn("discarding undecodable cached template", "template", name)
	case !errors.Is(err, redis.Nil):
		slog.Warn("template cache read failed", "template", name, "error", err)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		t, err := s.next.Find(ctx, name)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*template.Template)
	return &cp, nil
}

// Invalidate drops the cached copy of name.
func (s *Store) Invalidate(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached template %s: %w", name, err)
	}
	return nil
}

func (s *Store) store(ctx context.Context, key string, t *template.Template) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("template cache write failed", "key", key, "error", err)
	}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}
