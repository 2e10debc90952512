package distrib

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Invalidator is the cache-drop hook a Subscriber drives. The policy
// loader's Invalidate method satisfies it.
type Invalidator interface {
	Invalidate()
}

// Subscriber listens for invalidation broadcasts and drops the local policy
// cache, so a policy push on one instance converges the whole fleet.
type Subscriber struct {
	client *redis.Client
	target Invalidator
	logger *slog.Logger
}

// NewSubscriber creates a Subscriber backed by Redis.
func NewSubscriber(addr, password string, db int, target Invalidator, logger *slog.Logger) *Subscriber {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewSubscriberWithClient(rdb, target, logger)
}

// NewSubscriberWithClient wraps an existing client, for shared pools and
// tests.
func NewSubscriberWithClient(client *redis.Client, target Invalidator, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, target: target, logger: logger}
}

// Run subscribes to the invalidation channel and blocks until the context
// is canceled. Each received message invalidates the local cache; the next
// policy read reloads from source.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, InvalidateChannel)
	defer func() { _ = pubsub.Close() }()

	// Fail early if the subscription never established.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.logger.Info("policy invalidation received",
				slog.String("reason", msg.Payload))
			s.target.Invalidate()
		}
	}
}

// Close releases the Redis connection.
func (s *Subscriber) Close() error { return s.client.Close() }
