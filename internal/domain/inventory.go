package domain

// StockKey addresses one stock counter: a variant's stock when VariantID is
// set, the product's inventory otherwise.
type StockKey struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
}

func (k StockKey) HasVariant() bool {
	return k.VariantID != ""
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.VariantID
}

type StockLevel struct {
	Key   StockKey `json:"key"`
	Title string   `json:"title"`
	// Available is the counter that governs this key.
	Available int `json:"available"`
}

type Product struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Price         int64  `json:"price"`
	DiscountPrice *int64 `json:"discount_price,omitempty"`
	Inventory     int    `json:"inventory"`
	Active        bool   `json:"active"`
}

// UnitPrice is the discount price when present, the list price otherwise.
func (p Product) UnitPrice() int64 {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Stock     int    `json:"stock"`
}
