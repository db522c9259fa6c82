// Package sweeper deletes stale guest cart line items.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/storage"
)

// DefaultMaxAge is the retention of guest cart rows.
const DefaultMaxAge = 7 * 24 * time.Hour

var tracer = otel.Tracer("storefront/sweeper")

type Option func(*Sweeper)

func WithMaxAge(maxAge time.Duration) Option {
	return func(s *Sweeper) {
		if maxAge > 0 {
			s.maxAge = maxAge
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

type Sweeper struct {
	carts  storage.CartRepository
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger

	deleted metric.Int64Counter
}

func New(carts storage.CartRepository, logger *slog.Logger, opts ...Option) (*Sweeper, error) {
	deleted, err := otel.Meter("storefront/sweeper").Int64Counter("storefront.sweeper.deleted",
		metric.WithDescription("Guest cart line items removed by retention"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create deleted counter: %w", err)
	}

	s := &Sweeper{
		carts:   carts,
		maxAge:  DefaultMaxAge,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
		deleted: deleted,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep deletes session-owned line items created before now minus the
// retention and returns how many were removed. User carts are never touched.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	ctx, span := tracer.Start(ctx, "sweeper.Sweep", trace.WithAttributes(
		attribute.String("sweeper.cutoff", cutoff.Format(time.RFC3339)),
	))
	defer span.End()

	deleted, err := s.carts.DeleteSessionItemsBefore(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("delete session items before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	span.SetAttributes(attribute.Int64("sweeper.deleted", deleted))
	s.deleted.Add(ctx, deleted)
	s.logger.InfoContext(ctx, "guest carts swept", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// Run sweeps once immediately and then on every interval tick until ctx is
// cancelled. A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
