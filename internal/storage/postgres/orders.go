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

type OrderRepository struct {
	q querier
}

// Create assigns ids and persists the order with its line items. Outside a
// unit of work it opens its own transaction.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	return inTx(ctx, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, user_id, email, shipping_address, status, total, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, order.ID, order.UserID, order.Email, order.ShippingAddress, order.Status, order.Total, order.CreatedAt)
		if err != nil {
			return translate(err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			if item.ID == "" {
				item.ID = uuid.New().String()
			}
			_, err = q.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, position, product_id, variant_id, quantity, price)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, item.ID, order.ID, i, item.ProductID, nullString(item.VariantID), item.Quantity, item.Price)
			if err != nil {
				return translate(err)
			}
		}

		return nil
	})
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}

	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, email, shipping_address, status, total, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.UserID, &order.Email, &order.ShippingAddress, &order.Status, &order.Total, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, translate(err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, variant_id, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// ListByUser loads the user's orders newest first, fetching all line items
// in one query.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, email, shipping_address, status, total, created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Email, &order.ShippingAddress, &order.Status, &order.Total, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.q.QueryContext(ctx, `
		SELECT order_id, id, product_id, variant_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var (
			orderID   string
			item      domain.OrderItem
			variantID sql.NullString
		)
		if err := itemRows.Scan(&orderID, &item.ID, &item.ProductID, &variantID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		item.VariantID = variantID.String
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item      domain.OrderItem
		variantID sql.NullString
	)
	if err := row.Scan(&item.ID, &item.ProductID, &variantID, &item.Quantity, &item.Price); err != nil {
		return domain.OrderItem{}, err
	}
	item.VariantID = variantID.String
	return item, nil
}
