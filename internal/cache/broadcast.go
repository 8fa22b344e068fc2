package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel carries invalidation patterns between instances.
const DefaultInvalidationChannel = "authz.invalidate"

// Broadcaster keeps per-process caches consistent across instances. Reads and
// writes stay local; pattern deletions are applied locally and published so
// every other subscribed instance applies them too.
type Broadcaster struct {
	local   Cache
	client  redis.UniversalClient
	channel string
	origin  string
	logger  *slog.Logger
}

// NewBroadcaster wraps local with Redis Pub/Sub fan-out for deletions.
func NewBroadcaster(local Cache, client redis.UniversalClient, channel string, logger *slog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		local:   local,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Get implements Cache.
func (b *Broadcaster) Get(ctx context.Context, key string) (bool, bool, error) {
	return b.local.Get(ctx, key)
}

// Set implements Cache.
func (b *Broadcaster) Set(ctx context.Context, key string, value bool, ttl time.Duration) error {
	return b.local.Set(ctx, key, value, ttl)
}

// DeletePattern implements Cache. The local deletion count is returned; a
// publish failure is reported alongside it.
func (b *Broadcaster) DeletePattern(ctx context.Context, pattern string) (int, error) {
	removed, err := b.local.DeletePattern(ctx, pattern)
	if err != nil {
		return removed, err
	}
	if b.client == nil {
		return removed, nil
	}
	if err := b.client.Publish(ctx, b.channel, b.origin+"\n"+pattern).Err(); err != nil {
		return removed, fmt.Errorf("cache: publish invalidation: %w", err)
	}
	return removed, nil
}

// Listen subscribes to invalidations published by other instances and applies
// them to the local cache until ctx is cancelled.
func (b *Broadcaster) Listen(ctx context.Context) error {
	if b.client == nil {
		return errors.New("cache: broadcaster has no redis client")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("cache: subscribe %s: %w", b.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.apply(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (b *Broadcaster) apply(ctx context.Context, payload string) {
	origin, pattern, ok := strings.Cut(payload, "\n")
	if !ok || pattern == "" {
		b.logger.Warn("cache: malformed invalidation", slog.String("payload", payload))
		return
	}
	if origin == b.origin {
		return
	}
	if _, err := b.local.DeletePattern(ctx, pattern); err != nil {
		b.logger.Error("cache: apply remote invalidation", slog.String("pattern", pattern), slog.Any("error", err))
	}
}
