package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker/v2"
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 15 * time.Second
	breakerHalfOpenRequests = 1
)

// Breaker fails store calls fast once connectivity failures pile up.
// Query-level errors (constraint violations, missing rows) do not count.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker[any]
	observer Observer
}

func NewBreaker(observer Observer) *Breaker {
	b := &Breaker{observer: observer}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if b.observer != nil {
				b.observer.BreakerStateChanged(to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isConnectivityError(err)
		},
	})
	return b
}

// Err reports ErrStoreUnavailable while the breaker rejects store calls.
func (b *Breaker) Err() error {
	if b.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, gobreaker.ErrOpenState)
	}
	return nil
}

// guard runs fn through the breaker and converts connectivity failures into
// domain.ErrStoreUnavailable.
func guard[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	res, err := b.cb.Execute(func() (any, error) { return fn() })
	if err == nil {
		return res.(T), nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || isConnectivityError(err) {
		if b.observer != nil {
			b.observer.StoreUnavailable()
		}
		return zero, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return zero, err
}

func isConnectivityError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if errors.Is(err, domain.ErrOverlayNotFound) || errors.Is(err, domain.ErrSettingNotFound) {
		return false
	}
	var pgErr *pgconn.PgError
	return !errors.As(err, &pgErr)
}
