package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

const settingInvalidationChannel = "setting:invalidate"

// SettingInvalidationSubscriber drops memory-cached settings when another
// instance publishes a change.
type SettingInvalidationSubscriber struct {
	rdb   *goredis.Client
	cache *SettingCacheRepo
}

func NewSettingInvalidationSubscriber(rdb *goredis.Client, cache *SettingCacheRepo) *SettingInvalidationSubscriber {
	return &SettingInvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx is cancelled or the subscription closes.
func (s *SettingInvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, settingInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			s.handleInvalidation(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SettingInvalidationSubscriber) handleInvalidation(payload string) {
	if payload == "" {
		slog.Warn("Empty setting invalidation message")
		return
	}

	s.cache.invalidateLocal(payload)
	slog.Debug("Setting cache invalidated via pub/sub", "stream_id", payload)
}

func PublishSettingInvalidation(ctx context.Context, rdb goredis.Cmdable, streamID string) error {
	if err := rdb.Publish(ctx, settingInvalidationChannel, streamID).Err(); err != nil {
		return fmt.Errorf("failed to publish setting invalidation: %w", err)
	}
	return nil
}
