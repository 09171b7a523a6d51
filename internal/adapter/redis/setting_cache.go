package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const settingCacheTTL = 1 * time.Hour

// CacheObserver receives cache hit/miss counts per layer. metrics.CacheMetrics implements it.
type CacheObserver interface {
	CacheHit(layer string)
	CacheMiss(layer string)
	CacheInvalidated()
}

type nopCacheObserver struct{}

func (nopCacheObserver) CacheHit(string)   {}
func (nopCacheObserver) CacheMiss(string)  {}
func (nopCacheObserver) CacheInvalidated() {}

// SettingCacheRepo is a read-through cache for stream settings:
// memory, then Redis, then PostgreSQL. A nil rdb disables the Redis layer.
// When PostgreSQL is unavailable a stale memory entry is served.
type SettingCacheRepo struct {
	rdb      goredis.Cmdable
	settings domain.SettingRepository
	mem      *memoryCache
	clock    clockwork.Clock
	observer CacheObserver
}

var (
	_ domain.SettingSource           = (*SettingCacheRepo)(nil)
	_ domain.SettingCacheInvalidator = (*SettingCacheRepo)(nil)
)

func NewSettingCacheRepo(rdb goredis.Cmdable, settings domain.SettingRepository, memCacheTTL time.Duration, clock clockwork.Clock, observer CacheObserver) *SettingCacheRepo {
	if observer == nil {
		observer = nopCacheObserver{}
	}
	return &SettingCacheRepo{
		rdb:      rdb,
		settings: settings,
		mem:      newMemoryCache(memCacheTTL, clock),
		clock:    clock,
		observer: observer,
	}
}

// StartEvictionTimer periodically drops long-expired memory entries.
// Returns a stop function that should be deferred.
func (r *SettingCacheRepo) StartEvictionTimer(interval time.Duration) func() {
	ticker := r.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := r.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired setting cache entries", "count", evicted, "remaining", r.mem.size())
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

func (r *SettingCacheRepo) GetSetting(ctx context.Context, streamID string) (*domain.StreamSetting, error) {
	// Layer 1: in-memory cache
	stale, found, fresh := r.mem.get(streamID)
	if fresh {
		r.observer.CacheHit("memory")
		return &stale, nil
	}
	r.observer.CacheMiss("memory")

	// Layer 2: Redis cache
	if setting, ok := r.getCached(ctx, streamID); ok {
		r.observer.CacheHit("redis")
		r.mem.set(streamID, setting)
		return &setting, nil
	}
	if r.rdb != nil {
		r.observer.CacheMiss("redis")
	}

	// Layer 3: PostgreSQL
	setting, err := r.settings.Get(ctx, streamID)
	if errors.Is(err, domain.ErrStoreUnavailable) && found {
		slog.Warn("Serving stale stream setting, store unavailable", "stream_id", streamID)
		return &stale, nil
	}
	if err != nil {
		return nil, fmt.Errorf("setting lookup failed: %w", err)
	}

	r.mem.set(streamID, *setting)
	r.writeCache(ctx, *setting)
	return setting, nil
}

// InvalidateSetting evicts the setting locally and in Redis, then tells other
// instances to drop their memory copy.
func (r *SettingCacheRepo) InvalidateSetting(ctx context.Context, streamID string) error {
	r.invalidateLocal(streamID)
	if r.rdb == nil {
		return nil
	}

	if err := r.rdb.Del(ctx, settingCacheKey(streamID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate setting cache: %w", err)
	}
	if err := PublishSettingInvalidation(ctx, r.rdb, streamID); err != nil {
		return err
	}
	return nil
}

func (r *SettingCacheRepo) invalidateLocal(streamID string) {
	r.mem.invalidate(streamID)
	r.observer.CacheInvalidated()
}

func (r *SettingCacheRepo) writeCache(ctx context.Context, setting domain.StreamSetting) {
	if r.rdb == nil {
		return
	}

	encoded, err := json.Marshal(setting)
	if err != nil {
		slog.Warn("Failed to marshal setting for Redis cache", "stream_id", setting.StreamID, "error", err)
		return
	}

	if err := r.rdb.Set(ctx, settingCacheKey(setting.StreamID), encoded, settingCacheTTL).Err(); err != nil {
		slog.Warn("Failed to populate Redis setting cache", "stream_id", setting.StreamID, "error", err)
	}
}

func (r *SettingCacheRepo) getCached(ctx context.Context, streamID string) (domain.StreamSetting, bool) {
	if r.rdb == nil {
		return domain.StreamSetting{}, false
	}

	data, err := r.rdb.Get(ctx, settingCacheKey(streamID)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.Warn("Redis setting cache GET failed", "stream_id", streamID, "error", err)
		}
		return domain.StreamSetting{}, false
	}

	var setting domain.StreamSetting
	if err := json.Unmarshal(data, &setting); err != nil {
		slog.Warn("Failed to unmarshal cached setting", "stream_id", streamID, "error", err)
		return domain.StreamSetting{}, false
	}
	return setting, true
}

func settingCacheKey(streamID string) string {
	return "setting_cache:" + streamID
}

// memoryCache is the L1 layer. Expired entries stay readable as stale
// fallbacks until evictExpired removes them after staleRetention.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryCacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

const staleRetention = 24 * time.Hour

type memoryCacheEntry struct {
	setting   domain.StreamSetting
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration, clock clockwork.Clock) *memoryCache {
	return &memoryCache{
		entries: make(map[string]*memoryCacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// get returns the entry, whether one exists, and whether it is still fresh.
func (c *memoryCache) get(streamID string) (domain.StreamSetting, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[streamID]
	if !ok {
		return domain.StreamSetting{}, false, false
	}
	return entry.setting, true, c.clock.Now().Before(entry.expiresAt)
}

func (c *memoryCache) set(streamID string, setting domain.StreamSetting) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[streamID] = &memoryCacheEntry{
		setting:   setting,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

func (c *memoryCache) invalidate(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, streamID)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock.Now().Add(-staleRetention)
	evicted := 0
	for key, entry := range c.entries {
		if entry.expiresAt.Before(cutoff) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
