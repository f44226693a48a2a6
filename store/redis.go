package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrRedisUnavailable wraps transport failures talking to the durable layer.
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultKeyPrefix = "goauthclient"

// RedisStorage persists the credential pair under two string keys and uses a
// pub/sub channel as the native change-notification primitive. Every write
// publishes the writer's origin ID; Watch ignores messages carrying our own
// origin, so only foreign writes surface.
type RedisStorage struct {
	client     redis.UniversalClient
	accessKey  string
	refreshKey string
	channel    string
	origin     string
	log        zerolog.Logger
}

// RedisOption customizes a RedisStorage.
type RedisOption func(*RedisStorage)

// WithKeyPrefix overrides the default "goauthclient" key prefix. Contexts
// that must reconcile with each other need the same prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.applyPrefix(prefix)
		}
	}
}

// WithRedisLogger attaches a logger for persistence and watch failures.
func WithRedisLogger(log zerolog.Logger) RedisOption {
	return func(s *RedisStorage) { s.log = log }
}

// NewRedisStorage builds a redis-backed Storage around an existing client.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) (*RedisStorage, error) {
	if client == nil {
		return nil, errors.New("redis storage requires a client")
	}
	s := &RedisStorage{
		client: client,
		origin: uuid.NewString(),
		log:    zerolog.Nop(),
	}
	s.applyPrefix(defaultKeyPrefix)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStorage) applyPrefix(prefix string) {
	s.accessKey = prefix + ":access"
	s.refreshKey = prefix + ":refresh"
	s.channel = prefix + ":changes"
}

// Load reads both keys in one round trip. Missing keys load as empty strings.
func (s *RedisStorage) Load(ctx context.Context) (string, string, error) {
	vals, err := s.client.MGet(ctx, s.accessKey, s.refreshKey).Result()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return stringAt(vals, 0), stringAt(vals, 1), nil
}

// Save writes both keys and announces the change with this storage's origin.
func (s *RedisStorage) Save(ctx context.Context, access, refresh string) error {
	if err := s.client.MSet(ctx, s.accessKey, access, s.refreshKey, refresh).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	s.announce(ctx)
	return nil
}

// Delete removes both keys and announces the change.
func (s *RedisStorage) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.accessKey, s.refreshKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	s.announce(ctx)
	return nil
}

func (s *RedisStorage) announce(ctx context.Context) {
	if err := s.client.Publish(ctx, s.channel, s.origin).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel", s.channel).Msg("change announcement failed")
	}
}

// Watch subscribes to the change channel and signals once per foreign write.
// The subscription lives until ctx is canceled.
func (s *RedisStorage) Watch(ctx context.Context) (<-chan struct{}, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == s.origin {
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch, nil
}

func stringAt(vals []interface{}, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return ""
	}
	if s, ok := vals[i].(string); ok {
		return s
	}
	return ""
}
