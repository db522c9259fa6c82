package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

const cartItemColumns = `id, user_id, session_id, product_id, variant_id, quantity, created_at`

type CartRepository struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCartItem(row rowScanner) (*domain.CartItem, error) {
	var (
		item                         domain.CartItem
		userID, sessionID, variantID sql.NullString
	)
	if err := row.Scan(&item.ID, &userID, &sessionID, &item.ProductID, &variantID, &item.Quantity, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.Owner = domain.Owner{UserID: userID.String, SessionID: sessionID.String}
	item.VariantID = variantID.String
	return &item, nil
}

func (r *CartRepository) List(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error) {
	return r.list(ctx, owner, "")
}

// ListForUpdate locks the listed rows until the surrounding transaction
// ends. Concurrent increments of those rows wait; rows a concurrent
// transaction deleted in the meantime are skipped.
func (r *CartRepository) ListForUpdate(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error) {
	return r.list(ctx, owner, "FOR UPDATE")
}

func (r *CartRepository) list(ctx context.Context, owner domain.Owner, lock string) ([]domain.CartItem, error) {
	items := []domain.CartItem{}
	if owner.IsZero() {
		return items, nil
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+cartItemColumns+`
		FROM cart_items
		WHERE owner_key = $1
		ORDER BY created_at, id
		`+lock, owner.Key())
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *CartRepository) Get(ctx context.Context, id string) (*domain.CartItem, error) {
	item, err := scanCartItem(r.q.QueryRowContext(ctx, `
		SELECT `+cartItemColumns+`
		FROM cart_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, translate(err)
	}
	return item, nil
}

// AddQuantity is a single upsert: the increment and its limit check happen
// in one statement, so concurrent adds to the same line never lose updates.
func (r *CartRepository) AddQuantity(ctx context.Context, owner domain.Owner, key domain.StockKey, quantity, limit int) (*domain.CartItem, error) {
	if quantity > limit {
		return nil, &storage.LimitExceededError{Current: 0}
	}

	var userID, sessionID string
	if owner.IsUser() {
		userID = owner.UserID
	} else {
		sessionID = owner.SessionID
	}

	item, err := scanCartItem(r.q.QueryRowContext(ctx, `
		INSERT INTO cart_items (id, user_id, session_id, product_id, variant_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (owner_key, product_id, variant_key) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity
		WHERE cart_items.quantity + EXCLUDED.quantity <= $7
		RETURNING `+cartItemColumns,
		uuid.New().String(), nullString(userID), nullString(sessionID),
		key.ProductID, nullString(key.VariantID), quantity, limit,
	))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, translate(err)
	}

	var current int
	err = r.q.QueryRowContext(ctx, `
		SELECT quantity
		FROM cart_items
		WHERE owner_key = $1 AND product_id = $2 AND variant_key = $3
	`, owner.Key(), key.ProductID, key.VariantID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the conflicting row vanished between the two statements
			return nil, storage.ErrConflict
		}
		return nil, translate(err)
	}

	return nil, &storage.LimitExceededError{Current: current}
}

func (r *CartRepository) SetQuantity(ctx context.Context, id string, quantity int) (*domain.CartItem, error) {
	item, err := scanCartItem(r.q.QueryRowContext(ctx, `
		UPDATE cart_items
		SET quantity = $2
		WHERE id = $1
		RETURNING `+cartItemColumns, id, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, translate(err)
	}
	return item, nil
}

func (r *CartRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *CartRepository) Clear(ctx context.Context, owner domain.Owner) (int64, error) {
	if owner.IsZero() {
		return 0, nil
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE owner_key = $1`, owner.Key())
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}

// DeleteItems removes exactly the given line items. Rows added after the
// caller listed the cart are left alone.
func (r *CartRepository) DeleteItems(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}

// MergeInto deletes the session row and re-inserts it under the user,
// keeping its id and created_at when no user line exists for the same key.
// A session row already consumed by a concurrent merge is not counted again.
func (r *CartRepository) MergeInto(ctx context.Context, userID string, item domain.CartItem, capQuantity int) error {
	return inTx(ctx, r.q, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			DELETE FROM cart_items
			WHERE id = $1 AND session_id IS NOT NULL
		`, item.ID)
		if err != nil {
			return translate(err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO cart_items (id, user_id, product_id, variant_id, quantity, created_at)
			VALUES ($1, $2, $3, $4, LEAST($5::int, $6::int), $7)
			ON CONFLICT (owner_key, product_id, variant_key) DO UPDATE
			SET quantity = LEAST(cart_items.quantity + EXCLUDED.quantity, $6::int)
		`, item.ID, userID, item.ProductID, nullString(item.VariantID), item.Quantity, capQuantity, item.CreatedAt)
		return translate(err)
	})
}

func (r *CartRepository) DeleteSessionItemsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE session_id IS NOT NULL AND user_id IS NULL AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}
