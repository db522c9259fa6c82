package domain

import "time"

// MaxLineQuantity caps the quantity of a single cart line item.
const MaxLineQuantity = 100

// Owner identifies whose cart a line item belongs to. Exactly one of UserID
// and SessionID is set on a valid owner.
type Owner struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func UserOwner(userID string) Owner {
	return Owner{UserID: userID}
}

func SessionOwner(sessionID string) Owner {
	return Owner{SessionID: sessionID}
}

func (o Owner) IsUser() bool {
	return o.UserID != ""
}

func (o Owner) IsSession() bool {
	return o.UserID == "" && o.SessionID != ""
}

// IsZero reports an owner with neither an identity nor a session token.
func (o Owner) IsZero() bool {
	return o.UserID == "" && o.SessionID == ""
}

// Key is a stable string form, "user:<id>" or "session:<token>". Identity
// wins when both are present.
func (o Owner) Key() string {
	switch {
	case o.UserID != "":
		return "user:" + o.UserID
	case o.SessionID != "":
		return "session:" + o.SessionID
	default:
		return ""
	}
}

type CartItem struct {
	ID        string    `json:"id"`
	Owner     Owner     `json:"owner"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

func (c CartItem) StockKey() StockKey {
	return StockKey{ProductID: c.ProductID, VariantID: c.VariantID}
}

// OwnedBy is the ownership predicate used before any per-item mutation.
func (c CartItem) OwnedBy(owner Owner) bool {
	if owner.IsZero() {
		return false
	}
	return c.Owner.Key() == owner.Key()
}
