package memory

import "github.com/joao-fontenele/storefront/internal/domain"

// SeedCatalog loads the same demo catalog the Postgres migrations insert.
func SeedCatalog(s *Store) {
	jacketDiscount := int64(7500)

	for _, p := range []domain.Product{
		{ID: "PROD-001", Title: "Organic Cotton Tee", Price: 2500, Inventory: 100, Active: true},
		{ID: "PROD-002", Title: "Recycled Denim Jacket", Price: 8900, DiscountPrice: &jacketDiscount, Inventory: 20, Active: true},
		{ID: "PROD-003", Title: "Linen Shirt", Price: 4500, Inventory: 0, Active: true},
		{ID: "PROD-004", Title: "Wool Beanie", Price: 1800, Inventory: 5, Active: true},
	} {
		s.PutProduct(p)
	}

	s.PutVariant(domain.Variant{ID: "VAR-003-M-WHT", ProductID: "PROD-003", Size: "M", Color: "white", Stock: 10})
	s.PutVariant(domain.Variant{ID: "VAR-003-L-BLU", ProductID: "PROD-003", Size: "L", Color: "blue", Stock: 3})
}
