package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	getSettingSQL = `SELECT stream_id, rtsp_url, updated_at FROM stream_settings WHERE stream_id = $1`

	listSettingsSQL = `SELECT stream_id, rtsp_url, updated_at FROM stream_settings ORDER BY stream_id`

	upsertSettingSQL = `INSERT INTO stream_settings (stream_id, rtsp_url, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_id) DO UPDATE SET rtsp_url = EXCLUDED.rtsp_url, updated_at = now()
		RETURNING stream_id, rtsp_url, updated_at`
)

type SettingRepo struct {
	pool    *pgxpool.Pool
	breaker *Breaker
}

var _ domain.SettingRepository = (*SettingRepo)(nil)

func NewSettingRepo(pool *pgxpool.Pool, breaker *Breaker) *SettingRepo {
	return &SettingRepo{pool: pool, breaker: breaker}
}

func (r *SettingRepo) Get(ctx context.Context, streamID string) (*domain.StreamSetting, error) {
	return guard(r.breaker, func() (*domain.StreamSetting, error) {
		rows, _ := r.pool.Query(ctx, getSettingSQL, streamID)
		setting, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[domain.StreamSetting])
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSettingNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get stream setting: %w", err)
		}
		return &setting, nil
	})
}

// Upsert keeps exactly one record per stream, replacing the URL when present.
func (r *SettingRepo) Upsert(ctx context.Context, streamID, rtspURL string) (*domain.StreamSetting, error) {
	return guard(r.breaker, func() (*domain.StreamSetting, error) {
		rows, _ := r.pool.Query(ctx, upsertSettingSQL, streamID, rtspURL)
		setting, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[domain.StreamSetting])
		if err != nil {
			return nil, fmt.Errorf("failed to upsert stream setting: %w", err)
		}
		return &setting, nil
	})
}

func (r *SettingRepo) List(ctx context.Context) ([]domain.StreamSetting, error) {
	return guard(r.breaker, func() ([]domain.StreamSetting, error) {
		rows, _ := r.pool.Query(ctx, listSettingsSQL)
		settings, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.StreamSetting])
		if err != nil {
			return nil, fmt.Errorf("failed to list stream settings: %w", err)
		}
		return settings, nil
	})
}
