package domain

import (
	"context"
	"time"
)

// StreamSetting is the single source setting of a stream session.
type StreamSetting struct {
	StreamID  string    `json:"streamId"`
	RTSPURL   string    `json:"rtspUrl"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SettingRepository interface {
	Get(ctx context.Context, streamID string) (*StreamSetting, error)
	Upsert(ctx context.Context, streamID, rtspURL string) (*StreamSetting, error)
	List(ctx context.Context) ([]StreamSetting, error)
}

// SettingSource provides setting lookup with caching.
// Implementations should provide read-through caching (memory -> Redis -> PostgreSQL).
type SettingSource interface {
	GetSetting(ctx context.Context, streamID string) (*StreamSetting, error)
}

// SettingCacheInvalidator drops a stream's setting from the caches.
type SettingCacheInvalidator interface {
	InvalidateSetting(ctx context.Context, streamID string) error
}
