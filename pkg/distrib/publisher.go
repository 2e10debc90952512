// Package distrib spreads engine state across instances through Redis: the
// canonical equivalency export for external enforcement points to consume,
// and policy invalidation fanout so every instance converges after a policy
// push.
package distrib

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/arclight-labs/spifmark/pkg/equivalency"
)

const (
	// ExportKey holds the JCS-canonical equivalency export document.
	ExportKey = "spifmark:equivalency:export"
	// ExportHashKey holds the export's content hash for cheap change polls.
	ExportHashKey = "spifmark:equivalency:export:hash"
	// InvalidateChannel carries policy invalidation broadcasts.
	InvalidateChannel = "spifmark:policy:invalidate"
)

// Publisher pushes engine state into Redis.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher backed by Redis.
func NewPublisher(addr, password string, db int, logger *slog.Logger) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewPublisherWithClient(rdb, logger)
}

// NewPublisherWithClient wraps an existing client, for shared pools and
// tests.
func NewPublisherWithClient(client *redis.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// PublishExport stores the canonical export document and its content hash.
// Both keys update in one transaction so a reader never pairs a stale hash
// with a fresh document.
func (p *Publisher) PublishExport(ctx context.Context, e *equivalency.Export) error {
	doc, hash, err := e.Canonical()
	if err != nil {
		return fmt.Errorf("canonicalize export: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, ExportKey, doc, 0)
	pipe.Set(ctx, ExportHashKey, hash, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish export: %w", err)
	}

	p.logger.Info("equivalency export published",
		slog.String("hash", hash),
		slog.Int("bytes", len(doc)))
	return nil
}

// BroadcastInvalidation tells every subscribed instance to drop its cached
// policy. The reason travels as the message payload for the logs on the
// receiving side.
func (p *Publisher) BroadcastInvalidation(ctx context.Context, reason string) error {
	if err := p.client.Publish(ctx, InvalidateChannel, reason).Err(); err != nil {
		return fmt.Errorf("broadcast invalidation: %w", err)
	}
	p.logger.Info("policy invalidation broadcast", slog.String("reason", reason))
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error { return p.client.Close() }
