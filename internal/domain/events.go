package domain

import "time"

type OrderPlacedEvent struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Total     int64       `json:"total"`
	Items     []OrderItem `json:"items"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOrderPlacedEvent(order *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Email:     order.Email,
		Total:     order.Total,
		Items:     order.Items,
		Timestamp: order.CreatedAt,
	}
}
