// Package storage declares the persistence ports used by the cart and
// checkout core. Implementations live in the postgres and memory
// subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrInsufficientStock is returned by StockLedger.Decrement when the
	// counter is below the requested amount.
	ErrInsufficientStock = errors.New("storage: insufficient stock")
	// ErrConflict reports a serialization failure or deadlock; the whole
	// unit of work is safe to retry.
	ErrConflict = errors.New("storage: transaction conflict")
)

// LimitExceededError is returned by CartRepository.AddQuantity when the
// increment would push the line item past the given limit. Current is the
// quantity stored at the time of the attempt.
type LimitExceededError struct {
	Current int
}

func (e *LimitExceededError) Error() string {
	return "storage: cart item quantity limit exceeded"
}

type StockLedger interface {
	// Available returns the counter governing key: the variant's stock when a
	// variant is set, the product's inventory otherwise. ErrNotFound when the
	// product, or the variant under that product, does not exist.
	Available(ctx context.Context, key domain.StockKey) (domain.StockLevel, error)
	// Decrement takes amount units only if at least amount are available,
	// as a single compare-and-decrement.
	Decrement(ctx context.Context, key domain.StockKey, amount int) error
}

type CatalogReader interface {
	Product(ctx context.Context, id string) (*domain.Product, error)
}

type CartRepository interface {
	List(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error)
	// ListForUpdate is List that also locks the returned rows for the rest
	// of the unit of work.
	ListForUpdate(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error)
	Get(ctx context.Context, id string) (*domain.CartItem, error)
	// AddQuantity inserts a line item for (owner, key) or atomically
	// increments the existing one, provided the resulting quantity stays at
	// or below limit.
	AddQuantity(ctx context.Context, owner domain.Owner, key domain.StockKey, quantity, limit int) (*domain.CartItem, error)
	SetQuantity(ctx context.Context, id string, quantity int) (*domain.CartItem, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context, owner domain.Owner) (int64, error)
	// DeleteItems removes the line items with the given ids, ignoring ids
	// that no longer exist.
	DeleteItems(ctx context.Context, ids []string) (int64, error)
	// MergeInto moves one session line item into the user's cart. Quantities
	// are summed on collision and capped at capQuantity; the session row is
	// removed either way. When the session row is already gone the call is a
	// no-op.
	MergeInto(ctx context.Context, userID string, item domain.CartItem, capQuantity int) error
	DeleteSessionItemsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

// Tx is the set of repositories bound to one unit of work.
type Tx interface {
	Stock() StockLedger
	Catalog() CatalogReader
	Carts() CartRepository
	Orders() OrderRepository
}

// Store gives direct (auto-commit) access to the repositories and runs
// multi-step units of work. WithinTx commits when fn returns nil and rolls
// every change back otherwise.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AsDomain maps the storage sentinels onto the domain error taxonomy; what
// names the missing entity for ErrNotFound. Other errors pass through.
func AsDomain(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return domain.NotFound(what)
	case errors.Is(err, ErrConflict):
		return domain.ErrTransientFailure
	default:
		return err
	}
}
