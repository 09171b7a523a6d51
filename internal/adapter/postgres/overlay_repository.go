package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const overlayColumns = `id, stream_id, kind, content, position, size, created_at, updated_at`

const (
	getOverlaySQL = `SELECT ` + overlayColumns + ` FROM overlays WHERE id = $1`

	listOverlaysSQL = `SELECT ` + overlayColumns + ` FROM overlays ORDER BY created_at, id`

	listOverlaysByStreamSQL = `SELECT ` + overlayColumns + ` FROM overlays
		WHERE stream_id = $1 ORDER BY created_at, id`

	insertOverlaySQL = `INSERT INTO overlays (id, stream_id, kind, content, position, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + overlayColumns

	updateOverlaySQL = `UPDATE overlays SET
			kind = COALESCE($2, kind),
			content = COALESCE($3, content),
			position = COALESCE($4::jsonb, position),
			size = COALESCE($5::jsonb, size),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + overlayColumns

	deleteOverlaySQL = `DELETE FROM overlays WHERE id = $1`
)

type OverlayRepo struct {
	pool    *pgxpool.Pool
	breaker *Breaker
}

var _ domain.OverlayRepository = (*OverlayRepo)(nil)

func NewOverlayRepo(pool *pgxpool.Pool, breaker *Breaker) *OverlayRepo {
	return &OverlayRepo{pool: pool, breaker: breaker}
}

func (r *OverlayRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Overlay, error) {
	return guard(r.breaker, func() (*domain.Overlay, error) {
		rows, _ := r.pool.Query(ctx, getOverlaySQL, id)
		overlay, err := pgx.CollectExactlyOneRow(rows, scanOverlay)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOverlayNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get overlay: %w", err)
		}
		return &overlay, nil
	})
}

func (r *OverlayRepo) List(ctx context.Context) ([]domain.Overlay, error) {
	return guard(r.breaker, func() ([]domain.Overlay, error) {
		rows, _ := r.pool.Query(ctx, listOverlaysSQL)
		overlays, err := pgx.CollectRows(rows, scanOverlay)
		if err != nil {
			return nil, fmt.Errorf("failed to list overlays: %w", err)
		}
		return overlays, nil
	})
}

func (r *OverlayRepo) ListByStream(ctx context.Context, streamID string) ([]domain.Overlay, error) {
	return guard(r.breaker, func() ([]domain.Overlay, error) {
		rows, _ := r.pool.Query(ctx, listOverlaysByStreamSQL, streamID)
		overlays, err := pgx.CollectRows(rows, scanOverlay)
		if err != nil {
			return nil, fmt.Errorf("failed to list overlays for stream: %w", err)
		}
		return overlays, nil
	})
}

func (r *OverlayRepo) Create(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error) {
	kind, pos, size, err := fields.WithDefaults()
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate overlay id: %w", err)
	}

	return guard(r.breaker, func() (*domain.Overlay, error) {
		rows, _ := r.pool.Query(ctx, insertOverlaySQL, id, streamID, string(kind), fields.Content, pos, size)
		overlay, err := pgx.CollectExactlyOneRow(rows, scanOverlay)
		if err != nil {
			return nil, fmt.Errorf("failed to insert overlay: %w", err)
		}
		return &overlay, nil
	})
}

func (r *OverlayRepo) Update(ctx context.Context, id uuid.UUID, patch domain.OverlayPatch) (*domain.Overlay, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var kind *string
	if patch.Kind != nil {
		k := string(*patch.Kind)
		kind = &k
	}

	return guard(r.breaker, func() (*domain.Overlay, error) {
		rows, _ := r.pool.Query(ctx, updateOverlaySQL, id, kind, patch.Content, patch.Position, patch.Size)
		overlay, err := pgx.CollectExactlyOneRow(rows, scanOverlay)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOverlayNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update overlay: %w", err)
		}
		return &overlay, nil
	})
}

func (r *OverlayRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := guard(r.breaker, func() (struct{}, error) {
		tag, err := r.pool.Exec(ctx, deleteOverlaySQL, id)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to delete overlay: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return struct{}{}, domain.ErrOverlayNotFound
		}
		return struct{}{}, nil
	})
	return err
}

func scanOverlay(row pgx.CollectableRow) (domain.Overlay, error) {
	var (
		o    domain.Overlay
		kind string
	)
	err := row.Scan(&o.ID, &o.StreamID, &kind, &o.Content, &o.Position, &o.Size, &o.CreatedAt, &o.UpdatedAt)
	o.Kind = domain.OverlayKind(kind)
	return o, err
}
