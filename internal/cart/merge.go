package cart

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

// Merge folds the guest cart of sessionID into the cart of userID and
// returns the user's resulting cart. Colliding line items have their
// quantities summed; stock is not re-checked here since checkout does.
// The whole merge is one unit of work, so a retry after a failure never
// counts a guest line twice. Merging an empty or already merged session is
// a no-op.
func (s *Service) Merge(ctx context.Context, userID, sessionID string) ([]domain.CartItem, error) {
	ctx, span := tracer.Start(ctx, "cart.Merge", trace.WithAttributes(
		attribute.String("cart.user_id", userID),
	))
	defer span.End()

	if userID == "" {
		recordError(span, domain.ErrUnauthorized)
		return nil, domain.ErrUnauthorized
	}
	user := domain.UserOwner(userID)
	if sessionID == "" {
		return s.List(ctx, user)
	}
	guest := domain.SessionOwner(sessionID)

	var (
		merged []domain.CartItem
		moved  int
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		guestItems, err := tx.Carts().ListForUpdate(ctx, guest)
		if err != nil {
			return err
		}

		for _, item := range guestItems {
			if err := tx.Carts().MergeInto(ctx, userID, item, domain.MaxLineQuantity); err != nil {
				return err
			}
		}
		moved = len(guestItems)

		if _, err := tx.Carts().Clear(ctx, guest); err != nil {
			return err
		}

		merged, err = tx.Carts().List(ctx, user)
		return err
	})
	if err != nil {
		recordError(span, err)
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "cart merge failed", "error", err, "user_id", userID)
		return nil, domain.ErrTransientFailure
	}

	if moved > 0 {
		s.mergedItems.Add(ctx, int64(moved))
		s.logger.InfoContext(ctx, "guest cart merged", "user_id", userID, "items", moved)
	}
	span.SetAttributes(attribute.Int("cart.merged_items", moved))
	return merged, nil
}
