package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

type StockLedger struct {
	q querier
}

func (l *StockLedger) Available(ctx context.Context, key domain.StockKey) (domain.StockLevel, error) {
	level := domain.StockLevel{Key: key}

	if !key.HasVariant() {
		err := l.q.QueryRowContext(ctx, `
			SELECT title, inventory
			FROM products
			WHERE id = $1
		`, key.ProductID).Scan(&level.Title, &level.Available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.StockLevel{}, storage.ErrNotFound
			}
			return domain.StockLevel{}, translate(err)
		}
		return level, nil
	}

	var title, size, color string
	err := l.q.QueryRowContext(ctx, `
		SELECT p.title, v.size, v.color, v.stock
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = $1 AND v.product_id = $2
	`, key.VariantID, key.ProductID).Scan(&title, &size, &color, &level.Available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, storage.ErrNotFound
		}
		return domain.StockLevel{}, translate(err)
	}

	level.Title = fmt.Sprintf("%s (%s/%s)", title, size, color)
	return level, nil
}

// Decrement re-checks availability in the UPDATE itself, so two
// transactions racing for the last units cannot both succeed.
func (l *StockLedger) Decrement(ctx context.Context, key domain.StockKey, amount int) error {
	var (
		result sql.Result
		err    error
	)

	if key.HasVariant() {
		result, err = l.q.ExecContext(ctx, `
			UPDATE product_variants
			SET stock = stock - $3
			WHERE id = $1 AND product_id = $2 AND stock >= $3
		`, key.VariantID, key.ProductID, amount)
	} else {
		result, err = l.q.ExecContext(ctx, `
			UPDATE products
			SET inventory = inventory - $2
			WHERE id = $1 AND inventory >= $2
		`, key.ProductID, amount)
	}
	if err != nil {
		return translate(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return storage.ErrInsufficientStock
	}

	return nil
}

type CatalogRepository struct {
	q querier
}

func (r *CatalogRepository) Product(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}
	var discount sql.NullInt64

	err := r.q.QueryRowContext(ctx, `
		SELECT id, title, price, discount_price, inventory, is_active
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Title, &product.Price, &discount, &product.Inventory, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, translate(err)
	}

	if discount.Valid {
		product.DiscountPrice = &discount.Int64
	}

	return product, nil
}
