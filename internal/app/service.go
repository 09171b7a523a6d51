package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/registry"
	"github.com/google/uuid"
)

// OverlayCache is the in-memory view of overlays kept in step with the store.
type OverlayCache interface {
	Snapshot(ctx context.Context, streamID string) (*registry.Snapshot, error)
	Lookup(id uuid.UUID) (domain.Overlay, bool)
	Put(o domain.Overlay)
	Remove(streamID string, id uuid.UUID)
	Lock(id uuid.UUID) (unlock func())
}

// Service orchestrates the overlay use cases.
type Service struct {
	overlays domain.OverlayRepository
	cache    OverlayCache
}

func NewService(overlays domain.OverlayRepository, cache OverlayCache) *Service {
	return &Service{overlays: overlays, cache: cache}
}

// ListOverlays returns the current overlay composition of a stream, ordered
// by creation time.
func (s *Service) ListOverlays(ctx context.Context, streamID string) (*registry.Snapshot, error) {
	if err := domain.ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	return s.cache.Snapshot(ctx, streamID)
}

// GetOverlay reads through to the store. While the store is unavailable the
// cached copy is served when there is one.
func (s *Service) GetOverlay(ctx context.Context, rawID string) (*domain.Overlay, error) {
	id, err := domain.ParseOverlayID(rawID)
	if err != nil {
		return nil, err
	}

	o, err := s.overlays.Get(ctx, id)
	if errors.Is(err, domain.ErrStoreUnavailable) {
		if cached, ok := s.cache.Lookup(id); ok {
			slog.Warn("Serving cached overlay, store unavailable", "overlay_id", id.String())
			return &cached, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) CreateOverlay(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error) {
	if err := domain.ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	if _, _, _, err := fields.WithDefaults(); err != nil {
		return nil, err
	}

	o, err := s.overlays.Create(ctx, streamID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay: %w", err)
	}
	s.cache.Put(*o)
	return o, nil
}

// UpdateOverlay merges patch into the overlay. Mutations of the same id are
// serialized so the registry always ends with the store's last write.
func (s *Service) UpdateOverlay(ctx context.Context, rawID string, patch domain.OverlayPatch) (*domain.Overlay, error) {
	id, err := domain.ParseOverlayID(rawID)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	unlock := s.cache.Lock(id)
	defer unlock()

	o, err := s.overlays.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update overlay: %w", err)
	}
	s.cache.Put(*o)
	return o, nil
}

func (s *Service) DeleteOverlay(ctx context.Context, rawID string) error {
	id, err := domain.ParseOverlayID(rawID)
	if err != nil {
		return err
	}

	unlock := s.cache.Lock(id)
	defer unlock()

	existing, err := s.overlays.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete overlay: %w", err)
	}
	if err := s.overlays.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete overlay: %w", err)
	}
	s.cache.Remove(existing.StreamID, id)
	return nil
}
