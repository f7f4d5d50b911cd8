package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps values under namespaced Redis keys and announces every
// write on the "<namespace>:changes" channel
type RedisStore struct {
	client    *redis.Client
	namespace string
	origin    string
	logger    *slog.Logger
	watchers  watchers

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisStore creates a store using client. Keys are prefixed with namespace.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		origin:    uuid.NewString(),
		logger:    slog.Default().With("component", "redis-store", "namespace", namespace),
	}
}

func (s *RedisStore) key(key string) string {
	return s.namespace + ":" + key
}

func (s *RedisStore) channel() string {
	return s.namespace + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	s.publish(ctx, Change{Key: key, Origin: s.origin})
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.key(key)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	for _, key := range keys {
		s.publish(ctx, Change{Key: key, Origin: s.origin, Deleted: true})
	}
	return nil
}

// publish is best effort: a lost notification only delays other agents
// until their next write or reload
func (s *RedisStore) publish(ctx context.Context, c Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		s.logger.Warn("Failed to publish change", "key", c.Key, "error", err)
	}
}

func (s *RedisStore) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

// StartListening subscribes to the change channel and dispatches changes
// from other origins until ctx is done or the store is closed. It returns
// once the subscription is confirmed.
func (s *RedisStore) StartListening(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return errors.Wrap(err, "subscribe to change channel")
	}

	s.mu.Lock()
	s.pubsub = pubsub
	s.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.logger.Warn("Ignoring malformed change", "payload", msg.Payload)
					continue
				}
				if c.Origin == s.origin {
					continue
				}
				s.watchers.notify(c)
			}
		}
	}()
	return nil
}

// Close ends the subscription. The Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	s.watchers.clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub != nil {
		err := s.pubsub.Close()
		s.pubsub = nil
		return err
	}
	return nil
}
