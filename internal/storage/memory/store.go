// Package memory is an in-process storage.Store. Every unit of work runs
// against a private copy of the state under a single mutex and is swapped
// in only on success, which gives the same all-or-nothing behavior as the
// Postgres adapter.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

type state struct {
	products map[string]domain.Product
	variants map[string]domain.Variant
	items    map[string]domain.CartItem
	orders   map[string]domain.Order
}

func newState() *state {
	return &state{
		products: make(map[string]domain.Product),
		variants: make(map[string]domain.Variant),
		items:    make(map[string]domain.CartItem),
		orders:   make(map[string]domain.Order),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

type Option func(*Store)

// WithClock overrides the time source used for created timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	mu     sync.Mutex
	st     *state
	now    func() time.Time
	faults map[string]error
}

var _ storage.Store = (*Store)(nil)

func NewStore(opts ...Option) *Store {
	s := &Store{
		st:     newState(),
		now:    func() time.Time { return time.Now().UTC() },
		faults: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// PutVariant inserts or replaces a product variant.
func (s *Store) PutVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.variants[v.ID] = v
}

// PutCartItem stores a line item as is, bypassing quantity and stock rules.
func (s *Store) PutCartItem(item domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	s.st.items[item.ID] = item
}

// InjectFault makes the next call of op fail with err. Ops are named
// "<repository>.<method>", e.g. "orders.create" or "stock.decrement".
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) Stock() storage.StockLedger     { return &stockLedger{repo{store: s}} }
func (s *Store) Catalog() storage.CatalogReader { return &catalog{repo{store: s}} }
func (s *Store) Carts() storage.CartRepository  { return &carts{repo{store: s}} }
func (s *Store) Orders() storage.OrderRepository {
	return &orders{repo{store: s}}
}

// WithinTx holds the store lock for the duration of fn. fn must use the
// repositories of the Tx it receives, not those of the Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.st.clone()
	if err := fn(ctx, &tx{repo{store: s, st: working}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.st = working
	return nil
}

type tx struct {
	repo
}

func (t *tx) Stock() storage.StockLedger      { return &stockLedger{t.repo} }
func (t *tx) Catalog() storage.CatalogReader  { return &catalog{t.repo} }
func (t *tx) Carts() storage.CartRepository   { return &carts{t.repo} }
func (t *tx) Orders() storage.OrderRepository { return &orders{t.repo} }

// repo runs against st when bound to a transaction and against the store's
// live state, under its lock, otherwise. Faults are only consumed by the
// caller already holding the lock.
type repo struct {
	store *Store
	st    *state
}

func (r repo) do(op string, fn func(st *state) error) error {
	if r.st != nil {
		if err := r.store.takeFault(op); err != nil {
			return err
		}
		return fn(r.st)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.takeFault(op); err != nil {
		return err
	}
	return fn(r.store.st)
}

func (s *Store) takeFault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

type stockLedger struct{ repo }

func (l *stockLedger) Available(ctx context.Context, key domain.StockKey) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := l.do("stock.available", func(st *state) error {
		var err error
		level, err = st.level(key)
		return err
	})
	return level, err
}

func (l *stockLedger) Decrement(ctx context.Context, key domain.StockKey, amount int) error {
	return l.do("stock.decrement", func(st *state) error {
		level, err := st.level(key)
		if err != nil {
			return err
		}
		if level.Available < amount {
			return storage.ErrInsufficientStock
		}

		if key.HasVariant() {
			v := st.variants[key.VariantID]
			v.Stock -= amount
			st.variants[v.ID] = v
			return nil
		}
		p := st.products[key.ProductID]
		p.Inventory -= amount
		st.products[p.ID] = p
		return nil
	})
}

func (st *state) level(key domain.StockKey) (domain.StockLevel, error) {
	p, ok := st.products[key.ProductID]
	if !ok {
		return domain.StockLevel{}, storage.ErrNotFound
	}
	if !key.HasVariant() {
		return domain.StockLevel{Key: key, Title: p.Title, Available: p.Inventory}, nil
	}

	v, ok := st.variants[key.VariantID]
	if !ok || v.ProductID != p.ID {
		return domain.StockLevel{}, storage.ErrNotFound
	}
	return domain.StockLevel{
		Key:       key,
		Title:     p.Title + " (" + v.Size + "/" + v.Color + ")",
		Available: v.Stock,
	}, nil
}

type catalog struct{ repo }

func (c *catalog) Product(ctx context.Context, id string) (*domain.Product, error) {
	var product *domain.Product
	err := c.do("catalog.product", func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return storage.ErrNotFound
		}
		product = &p
		return nil
	})
	return product, err
}

type carts struct{ repo }

func (c *carts) List(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error) {
	var items []domain.CartItem
	err := c.do("carts.list", func(st *state) error {
		items = st.ownerItems(owner)
		return nil
	})
	return items, err
}

// ListForUpdate is List; a memory transaction already holds the store lock.
func (c *carts) ListForUpdate(ctx context.Context, owner domain.Owner) ([]domain.CartItem, error) {
	var items []domain.CartItem
	err := c.do("carts.list_for_update", func(st *state) error {
		items = st.ownerItems(owner)
		return nil
	})
	return items, err
}

func (c *carts) Get(ctx context.Context, id string) (*domain.CartItem, error) {
	var item *domain.CartItem
	err := c.do("carts.get", func(st *state) error {
		found, ok := st.items[id]
		if !ok {
			return storage.ErrNotFound
		}
		item = &found
		return nil
	})
	return item, err
}

func (c *carts) AddQuantity(ctx context.Context, owner domain.Owner, key domain.StockKey, quantity, limit int) (*domain.CartItem, error) {
	var item *domain.CartItem
	err := c.do("carts.add_quantity", func(st *state) error {
		existing, ok := st.find(owner, key)
		if !ok {
			if quantity > limit {
				return &storage.LimitExceededError{Current: 0}
			}
			created := domain.CartItem{
				ID:        uuid.New().String(),
				Owner:     normalize(owner),
				ProductID: key.ProductID,
				VariantID: key.VariantID,
				Quantity:  quantity,
				CreatedAt: c.store.now(),
			}
			st.items[created.ID] = created
			item = &created
			return nil
		}

		if existing.Quantity+quantity > limit {
			return &storage.LimitExceededError{Current: existing.Quantity}
		}
		existing.Quantity += quantity
		st.items[existing.ID] = existing
		item = &existing
		return nil
	})
	return item, err
}

func (c *carts) SetQuantity(ctx context.Context, id string, quantity int) (*domain.CartItem, error) {
	var item *domain.CartItem
	err := c.do("carts.set_quantity", func(st *state) error {
		found, ok := st.items[id]
		if !ok {
			return storage.ErrNotFound
		}
		found.Quantity = quantity
		st.items[id] = found
		item = &found
		return nil
	})
	return item, err
}

func (c *carts) Delete(ctx context.Context, id string) error {
	return c.do("carts.delete", func(st *state) error {
		if _, ok := st.items[id]; !ok {
			return storage.ErrNotFound
		}
		delete(st.items, id)
		return nil
	})
}

func (c *carts) Clear(ctx context.Context, owner domain.Owner) (int64, error) {
	var deleted int64
	err := c.do("carts.clear", func(st *state) error {
		for _, item := range st.ownerItems(owner) {
			delete(st.items, item.ID)
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (c *carts) DeleteItems(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	err := c.do("carts.delete_items", func(st *state) error {
		for _, id := range ids {
			if _, ok := st.items[id]; ok {
				delete(st.items, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (c *carts) MergeInto(ctx context.Context, userID string, item domain.CartItem, capQuantity int) error {
	return c.do("carts.merge_into", func(st *state) error {
		if stored, ok := st.items[item.ID]; !ok || !stored.Owner.IsSession() {
			return nil
		}
		target, ok := st.find(domain.UserOwner(userID), item.StockKey())
		if !ok {
			item.Owner = domain.UserOwner(userID)
			st.items[item.ID] = item
			return nil
		}

		target.Quantity = min(target.Quantity+item.Quantity, capQuantity)
		st.items[target.ID] = target
		delete(st.items, item.ID)
		return nil
	})
}

func (c *carts) DeleteSessionItemsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := c.do("carts.delete_session_items_before", func(st *state) error {
		for id, item := range st.items {
			if item.Owner.IsSession() && item.CreatedAt.Before(cutoff) {
				delete(st.items, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (st *state) ownerItems(owner domain.Owner) []domain.CartItem {
	items := []domain.CartItem{}
	if owner.IsZero() {
		return items
	}
	for _, item := range st.items {
		if item.Owner.Key() == owner.Key() {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (st *state) find(owner domain.Owner, key domain.StockKey) (domain.CartItem, bool) {
	for _, item := range st.items {
		if item.Owner.Key() == owner.Key() && item.StockKey() == key {
			return item, true
		}
	}
	return domain.CartItem{}, false
}

// normalize drops the session token from an identified owner so a stored
// item never carries both.
func normalize(owner domain.Owner) domain.Owner {
	if owner.IsUser() {
		return domain.UserOwner(owner.UserID)
	}
	return owner
}

type orders struct{ repo }

func (o *orders) Create(ctx context.Context, order *domain.Order) error {
	return o.do("orders.create", func(st *state) error {
		if order.ID == "" {
			order.ID = uuid.New().String()
		}
		if order.CreatedAt.IsZero() {
			order.CreatedAt = o.store.now()
		}

		items := make([]domain.OrderItem, len(order.Items))
		for i, item := range order.Items {
			if item.ID == "" {
				item.ID = uuid.New().String()
			}
			items[i] = item
		}
		order.Items = items

		stored := *order
		stored.Items = append([]domain.OrderItem(nil), items...)
		st.orders[order.ID] = stored
		return nil
	})
}

func (o *orders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := o.do("orders.get_by_id", func(st *state) error {
		found, ok := st.orders[id]
		if !ok {
			return storage.ErrNotFound
		}
		found.Items = append([]domain.OrderItem(nil), found.Items...)
		order = &found
		return nil
	})
	return order, err
}

func (o *orders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	list := []domain.Order{}
	err := o.do("orders.list_by_user", func(st *state) error {
		for _, order := range st.orders {
			if order.UserID == userID {
				order.Items = append([]domain.OrderItem(nil), order.Items...)
				list = append(list, order)
			}
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		return nil
	})
	return list, err
}
