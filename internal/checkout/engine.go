// Package checkout turns a user's cart into an order. Validation, pricing,
// order creation, stock decrement and cart clearing run as one unit of work.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

var tracer = otel.Tracer("storefront/checkout")

var errCheckoutFailed = &domain.Error{
	Kind:    domain.KindTransientFailure,
	Message: "checkout failed, please retry",
}

// Publisher receives the order placed event after the checkout commits.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Request struct {
	UserID          string
	Email           string
	ShippingAddress string
}

type Engine struct {
	store     storage.Store
	publisher Publisher
	logger    *slog.Logger
	validate  *validator.Validate

	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewEngine builds a checkout engine. publisher may be nil, in which case no
// event is emitted.
func NewEngine(store storage.Store, publisher Publisher, logger *slog.Logger) (*Engine, error) {
	meter := otel.Meter("storefront/checkout")

	completed, err := meter.Int64Counter("storefront.checkout.completed",
		metric.WithDescription("Checkouts that produced an order"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create completed counter: %w", err)
	}

	failed, err := meter.Int64Counter("storefront.checkout.failed",
		metric.WithDescription("Checkouts rejected or rolled back, by error kind"),
		metric.WithUnit("{checkout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failed counter: %w", err)
	}

	duration, err := meter.Float64Histogram("storefront.checkout.duration",
		metric.WithDescription("Checkout latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		validate:  validator.New(),
		completed: completed,
		failed:    failed,
		duration:  duration,
	}, nil
}

// line is a cart item resolved against the catalog and the stock ledger
// inside the checkout transaction.
type line struct {
	item      domain.CartItem
	unitPrice int64
	level     domain.StockLevel
}

// Checkout converts the cart of req.UserID into a pending order. Either the
// order exists, stock is reduced and the cart is empty, or nothing changed.
func (e *Engine) Checkout(ctx context.Context, req Request) (*domain.Order, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(
		attribute.String("checkout.user_id", req.UserID),
	))
	defer span.End()

	order, err := e.checkout(ctx, req)
	e.duration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		kind := domain.KindOf(err)
		if kind == "" {
			e.logger.ErrorContext(ctx, "checkout failed", "error", err, "user_id", req.UserID)
			err = errCheckoutFailed
			kind = domain.KindTransientFailure
		}
		e.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.completed.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int64("order.total", order.Total),
		attribute.Int("order.items", len(order.Items)),
	)
	e.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID, "user_id", order.UserID, "total", order.Total, "items", len(order.Items))

	e.publish(ctx, order)
	return order, nil
}

func (e *Engine) checkout(ctx context.Context, req Request) (*domain.Order, error) {
	if req.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	owner := domain.UserOwner(req.UserID)
	email := strings.TrimSpace(req.Email)
	address := strings.TrimSpace(req.ShippingAddress)

	var order *domain.Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		// Locked so increments from concurrent adds wait for this checkout.
		items, err := tx.Carts().ListForUpdate(ctx, owner)
		if err != nil {
			return fmt.Errorf("list cart: %w", err)
		}
		if len(items) == 0 {
			return domain.ErrCartEmpty
		}

		if address == "" {
			return domain.ErrMissingAddress
		}
		if email == "" {
			return domain.ErrMissingEmail
		}
		if err := e.validate.Var(email, "email"); err != nil {
			return domain.ErrInvalidEmail
		}

		lines, err := resolve(ctx, tx, items)
		if err != nil {
			return err
		}

		order = &domain.Order{
			UserID:          req.UserID,
			Email:           email,
			ShippingAddress: address,
			Items:           make([]domain.OrderItem, 0, len(lines)),
			Status:          domain.OrderStatusPending,
		}
		for _, l := range lines {
			oi := domain.OrderItem{
				ProductID: l.item.ProductID,
				VariantID: l.item.VariantID,
				Quantity:  l.item.Quantity,
				Price:     l.unitPrice,
			}
			order.Items = append(order.Items, oi)
			order.Total += oi.Extension()
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if err := decrement(ctx, tx, lines); err != nil {
			return err
		}

		// Only the ordered lines go; a line added concurrently stays in the cart.
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		if _, err := tx.Carts().DeleteItems(ctx, ids); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, storage.AsDomain(err, "product")
	}
	return order, nil
}

// resolve validates every line item before anything is written. The first
// failing line aborts the checkout.
func resolve(ctx context.Context, tx storage.Tx, items []domain.CartItem) ([]line, error) {
	lines := make([]line, 0, len(items))
	for _, item := range items {
		product, err := tx.Catalog().Product(ctx, item.ProductID)
		if err != nil {
			return nil, storage.AsDomain(err, "product")
		}

		if item.Quantity <= 0 {
			return nil, domain.InvalidQuantity(product.Title)
		}
		if item.Quantity > domain.MaxLineQuantity {
			return nil, domain.QuantityCapExceeded(product.Title)
		}

		level, err := tx.Stock().Available(ctx, item.StockKey())
		if err != nil {
			return nil, storage.AsDomain(err, "variant")
		}
		if level.Available < item.Quantity {
			return nil, domain.InsufficientStock(level.Title, level.Available)
		}

		lines = append(lines, line{
			item:      item,
			unitPrice: product.UnitPrice(),
			level:     level,
		})
	}
	return lines, nil
}

// decrement takes stock for every line in stock key order, so two
// checkouts sharing counters acquire their row locks in the same order.
func decrement(ctx context.Context, tx storage.Tx, lines []line) error {
	ordered := slices.Clone(lines)
	slices.SortFunc(ordered, func(a, b line) int {
		return strings.Compare(a.level.Key.String(), b.level.Key.String())
	})

	for _, l := range ordered {
		err := tx.Stock().Decrement(ctx, l.item.StockKey(), l.item.Quantity)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrInsufficientStock) {
			return fmt.Errorf("decrement %s: %w", l.item.StockKey(), err)
		}

		// Lost a race against another checkout since validation.
		level, lerr := tx.Stock().Available(ctx, l.item.StockKey())
		if lerr != nil {
			return domain.InsufficientStock(l.level.Title, 0)
		}
		return domain.InsufficientStock(level.Title, level.Available)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, order *domain.Order) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, order.ID, domain.NewOrderPlacedEvent(order)); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish order placed event", "error", err, "order_id", order.ID)
	}
}
