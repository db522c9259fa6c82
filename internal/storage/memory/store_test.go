package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

func TestStore_Stock(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	SeedCatalog(store)

	t.Run("product inventory governs keys without a variant", func(t *testing.T) {
		level, err := store.Stock().Available(ctx, domain.StockKey{ProductID: "PROD-004"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if level.Available != 5 || level.Title != "Wool Beanie" {
			t.Errorf("unexpected level: %+v", level)
		}
	})

	t.Run("variant stock governs variant keys", func(t *testing.T) {
		level, err := store.Stock().Available(ctx, domain.StockKey{ProductID: "PROD-003", VariantID: "VAR-003-L-BLU"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if level.Available != 3 || level.Title != "Linen Shirt (L/blue)" {
			t.Errorf("unexpected level: %+v", level)
		}
	})

	t.Run("variant under another product is not found", func(t *testing.T) {
		_, err := store.Stock().Available(ctx, domain.StockKey{ProductID: "PROD-001", VariantID: "VAR-003-L-BLU"})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("decrement refuses to go below zero", func(t *testing.T) {
		key := domain.StockKey{ProductID: "PROD-004"}
		if err := store.Stock().Decrement(ctx, key, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Stock().Decrement(ctx, key, 1); !errors.Is(err, storage.ErrInsufficientStock) {
			t.Errorf("expected ErrInsufficientStock, got %v", err)
		}
		level, _ := store.Stock().Available(ctx, key)
		if level.Available != 0 {
			t.Errorf("expected 0 available, got %d", level.Available)
		}
	})
}

func TestStore_AddQuantity(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	SeedCatalog(store)
	owner := domain.SessionOwner("sess-1")
	key := domain.StockKey{ProductID: "PROD-001"}

	if _, err := store.Carts().AddQuantity(ctx, owner, key, 4, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := store.Carts().AddQuantity(ctx, owner, key, 2, 5)
	var limitErr *storage.LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Current != 4 {
		t.Errorf("expected current 4, got %d", limitErr.Current)
	}

	item, err := store.Carts().AddQuantity(ctx, owner, key, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", item.Quantity)
	}
}

func TestStore_WithinTx(t *testing.T) {
	ctx := context.Background()
	key := domain.StockKey{ProductID: "PROD-001"}

	t.Run("commits when fn succeeds", func(t *testing.T) {
		store := NewStore()
		SeedCatalog(store)

		err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Stock().Decrement(ctx, key, 10)
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		level, _ := store.Stock().Available(ctx, key)
		if level.Available != 90 {
			t.Errorf("expected 90 available, got %d", level.Available)
		}
	})

	t.Run("discards every change when fn fails", func(t *testing.T) {
		store := NewStore()
		SeedCatalog(store)
		boom := errors.New("boom")

		err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.Stock().Decrement(ctx, key, 10); err != nil {
				return err
			}
			if err := tx.Orders().Create(ctx, &domain.Order{UserID: "user-1"}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		level, _ := store.Stock().Available(ctx, key)
		if level.Available != 100 {
			t.Errorf("expected 100 available, got %d", level.Available)
		}
		list, _ := store.Orders().ListByUser(ctx, "user-1")
		if len(list) != 0 {
			t.Errorf("expected no orders, got %d", len(list))
		}
	})

	t.Run("injected fault fires once", func(t *testing.T) {
		store := NewStore()
		SeedCatalog(store)
		store.InjectFault("stock.decrement", storage.ErrConflict)

		if err := store.Stock().Decrement(ctx, key, 1); !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if err := store.Stock().Decrement(ctx, key, 1); err != nil {
			t.Errorf("expected fault to be consumed, got %v", err)
		}
	})
}

func TestStore_DeleteSessionItemsBefore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return now }))

	store.PutCartItem(domain.CartItem{Owner: domain.SessionOwner("old"), ProductID: "PROD-001", Quantity: 1, CreatedAt: now.Add(-48 * time.Hour)})
	store.PutCartItem(domain.CartItem{Owner: domain.SessionOwner("new"), ProductID: "PROD-001", Quantity: 1, CreatedAt: now})
	store.PutCartItem(domain.CartItem{Owner: domain.UserOwner("user-1"), ProductID: "PROD-001", Quantity: 1, CreatedAt: now.Add(-48 * time.Hour)})

	deleted, err := store.Carts().DeleteSessionItemsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	if items, _ := store.Carts().List(ctx, domain.UserOwner("user-1")); len(items) != 1 {
		t.Errorf("expected user cart to survive, got %d items", len(items))
	}
}

func TestStore_DeleteItems(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner := domain.UserOwner("user-1")

	store.PutCartItem(domain.CartItem{ID: "listed", Owner: owner, ProductID: "PROD-001", Quantity: 1})
	store.PutCartItem(domain.CartItem{ID: "added-later", Owner: owner, ProductID: "PROD-004", Quantity: 1})

	deleted, err := store.Carts().DeleteItems(ctx, []string{"listed", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	items, _ := store.Carts().List(ctx, owner)
	if len(items) != 1 || items[0].ID != "added-later" {
		t.Errorf("expected only the unlisted line to remain, got %+v", items)
	}
}

func TestStore_MergeInto_ConsumedRow(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	guest := domain.SessionOwner("sess-1")

	store.PutCartItem(domain.CartItem{ID: "guest-line", Owner: guest, ProductID: "PROD-001", Quantity: 3})
	store.PutCartItem(domain.CartItem{ID: "user-line", Owner: domain.UserOwner("user-1"), ProductID: "PROD-001", Quantity: 2})

	items, _ := store.Carts().List(ctx, guest)
	for range 2 {
		if err := store.Carts().MergeInto(ctx, "user-1", items[0], domain.MaxLineQuantity); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	merged, _ := store.Carts().List(ctx, domain.UserOwner("user-1"))
	if len(merged) != 1 || merged[0].Quantity != 5 {
		t.Errorf("expected one line with quantity 5, got %+v", merged)
	}
}
