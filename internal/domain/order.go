package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderItem struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	// Price is the unit price captured at purchase time.
	Price int64 `json:"price"`
}

func (i OrderItem) Extension() int64 {
	return int64(i.Quantity) * i.Price
}

type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Email           string      `json:"email"`
	ShippingAddress string      `json:"shipping_address"`
	Items           []OrderItem `json:"items"`
	Total           int64       `json:"total"`
	Status          OrderStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
}
