package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

var tracer = otel.Tracer("storefront/cart")

var errOwnerRequired = &domain.Error{
	Kind:    domain.KindUnauthorized,
	Message: "session id is required for guest users",
}

type Service struct {
	store  storage.Store
	logger *slog.Logger

	itemsAdded  metric.Int64Counter
	mergedItems metric.Int64Counter
}

func NewService(store storage.Store, logger *slog.Logger) (*Service, error) {
	meter := otel.Meter("storefront/cart")

	itemsAdded, err := meter.Int64Counter("storefront.cart.items_added",
		metric.WithDescription("Units added to carts"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create items_added counter: %w", err)
	}

	mergedItems, err := meter.Int64Counter("storefront.cart.merged_items",
		metric.WithDescription("Guest line items merged into user carts"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create merged_items counter: %w", err)
	}

	return &Service{
		store:       store,
		logger:      logger,
		itemsAdded:  itemsAdded,
		mergedItems: mergedItems,
	}, nil
}

// Add puts quantity units of key into the owner's cart, merging into an
// existing line item for the same product and variant.
func (s *Service) Add(ctx context.Context, owner domain.Owner, key domain.StockKey, quantity int) (*domain.CartItem, error) {
	ctx, span := tracer.Start(ctx, "cart.Add", trace.WithAttributes(
		attribute.String("cart.product_id", key.ProductID),
		attribute.String("cart.variant_id", key.VariantID),
		attribute.Int("cart.quantity", quantity),
	))
	defer span.End()

	item, err := s.add(ctx, owner, key, quantity)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.itemsAdded.Add(ctx, int64(quantity))
	return item, nil
}

func (s *Service) add(ctx context.Context, owner domain.Owner, key domain.StockKey, quantity int) (*domain.CartItem, error) {
	if owner.IsZero() {
		return nil, errOwnerRequired
	}
	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	product, err := s.store.Catalog().Product(ctx, key.ProductID)
	if err != nil {
		return nil, storage.AsDomain(err, "product")
	}
	if !product.Active {
		return nil, domain.NotFound("product")
	}

	level, err := s.store.Stock().Available(ctx, key)
	if err != nil {
		return nil, storage.AsDomain(err, "variant")
	}
	if quantity > level.Available {
		return nil, domain.InsufficientStock(level.Title, level.Available)
	}

	limit := min(level.Available, domain.MaxLineQuantity)
	item, err := s.store.Carts().AddQuantity(ctx, owner, key, quantity, limit)
	if err == nil {
		return item, nil
	}

	var limitErr *storage.LimitExceededError
	if !errors.As(err, &limitErr) {
		return nil, storage.AsDomain(err, "cart item")
	}

	total := limitErr.Current + quantity
	switch {
	case total > level.Available:
		return nil, &domain.Error{
			Kind: domain.KindInsufficientStock,
			Message: fmt.Sprintf("cannot add %d more of %s: %d already in cart, %d available",
				quantity, level.Title, limitErr.Current, level.Available),
			Product:   level.Title,
			Available: level.Available,
		}
	case total > domain.MaxLineQuantity:
		return nil, domain.QuantityCapExceeded(level.Title)
	default:
		return nil, domain.ErrTransientFailure
	}
}

// List returns the owner's line items, oldest first. An owner with neither
// identity nor session token has an empty cart.
func (s *Service) List(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error) {
	if owner.IsZero() {
		return []domain.CartItem{}, nil
	}
	items, err := s.store.Carts().List(ctx, owner)
	if err != nil {
		return nil, storage.AsDomain(err, "cart")
	}
	return items, nil
}

// Owns is the ownership predicate for a single line item.
func (s *Service) Owns(ctx context.Context, owner domain.Owner, itemID string) (bool, error) {
	item, err := s.store.Carts().Get(ctx, itemID)
	if err != nil {
		return false, storage.AsDomain(err, "cart item")
	}
	return item.OwnedBy(owner), nil
}

func (s *Service) owned(ctx context.Context, owner domain.Owner, itemID string) (*domain.CartItem, error) {
	if owner.IsZero() {
		return nil, errOwnerRequired
	}
	item, err := s.store.Carts().Get(ctx, itemID)
	if err != nil {
		return nil, storage.AsDomain(err, "cart item")
	}
	if !item.OwnedBy(owner) {
		return nil, domain.ErrNotOwner
	}
	return item, nil
}

// Update sets the quantity of one of the owner's line items, re-checking
// the cap and current stock.
func (s *Service) Update(ctx context.Context, owner domain.Owner, itemID string, quantity int) (*domain.CartItem, error) {
	ctx, span := tracer.Start(ctx, "cart.Update", trace.WithAttributes(
		attribute.String("cart.item_id", itemID),
		attribute.Int("cart.quantity", quantity),
	))
	defer span.End()

	if err := domain.ValidateQuantity(quantity); err != nil {
		recordError(span, err)
		return nil, err
	}

	item, err := s.owned(ctx, owner, itemID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	level, err := s.store.Stock().Available(ctx, item.StockKey())
	if err != nil {
		err = storage.AsDomain(err, "product")
		recordError(span, err)
		return nil, err
	}
	if quantity > level.Available {
		err := domain.InsufficientStock(level.Title, level.Available)
		recordError(span, err)
		return nil, err
	}

	updated, err := s.store.Carts().SetQuantity(ctx, itemID, quantity)
	if err != nil {
		err = storage.AsDomain(err, "cart item")
		recordError(span, err)
		return nil, err
	}
	return updated, nil
}

func (s *Service) Remove(ctx context.Context, owner domain.Owner, itemID string) error {
	if _, err := s.owned(ctx, owner, itemID); err != nil {
		return err
	}
	return storage.AsDomain(s.store.Carts().Delete(ctx, itemID), "cart item")
}

// Clear deletes every line item of the owner and reports how many went.
func (s *Service) Clear(ctx context.Context, owner domain.Owner) (int64, error) {
	if owner.IsZero() {
		return 0, errOwnerRequired
	}
	deleted, err := s.store.Carts().Clear(ctx, owner)
	if err != nil {
		return 0, storage.AsDomain(err, "cart")
	}
	return deleted, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
