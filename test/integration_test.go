//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/httpapi"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/storage/postgres"
	"github.com/joao-fontenele/storefront/internal/sweeper"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

var (
	tee    = domain.StockKey{ProductID: "PROD-001"}
	beanie = domain.StockKey{ProductID: "PROD-004"}
	shirtL = domain.StockKey{ProductID: "PROD-003", VariantID: "VAR-003-L-BLU"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCartAddAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	store := postgres.NewStore(OpenDB(ctx, t, pg.ConnStr))
	svc, err := cart.NewService(store, discardLogger())
	if err != nil {
		t.Fatalf("failed to create cart service: %v", err)
	}

	t.Run("concurrent adds collapse into one line", func(t *testing.T) {
		owner := domain.SessionOwner("sess-concurrent")

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Add(ctx, owner, tee, 1); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("unexpected add error: %v", err)
		}

		items, err := svc.List(ctx, owner)
		if err != nil {
			t.Fatalf("failed to list cart: %v", err)
		}
		if len(items) != 1 || items[0].Quantity != 20 {
			t.Fatalf("expected one line with quantity 20, got %+v", items)
		}
	})

	t.Run("stock bounds the merged quantity", func(t *testing.T) {
		owner := domain.SessionOwner("sess-stock")

		if _, err := svc.Add(ctx, owner, beanie, 4); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err := svc.Add(ctx, owner, beanie, 2)
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected insufficient stock, got %v", err)
		}
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Available != 5 {
			t.Errorf("expected available 5, got %d", derr.Available)
		}

		items, _ := svc.List(ctx, owner)
		if len(items) != 1 || items[0].Quantity != 4 {
			t.Errorf("expected stored quantity 4, got %+v", items)
		}
	})

	t.Run("variant stock governs", func(t *testing.T) {
		owner := domain.SessionOwner("sess-variant")

		if _, err := svc.Add(ctx, owner, shirtL, 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.Add(ctx, owner, shirtL, 1); !errors.Is(err, domain.ErrInsufficientStock) {
			t.Errorf("expected insufficient stock, got %v", err)
		}
	})
}

func TestCheckoutAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	store := postgres.NewStore(OpenDB(ctx, t, pg.ConnStr))
	logger := discardLogger()
	svc, err := cart.NewService(store, logger)
	if err != nil {
		t.Fatalf("failed to create cart service: %v", err)
	}
	engine, err := checkout.NewEngine(store, nil, logger)
	if err != nil {
		t.Fatalf("failed to create checkout engine: %v", err)
	}

	t.Run("places the order and takes stock", func(t *testing.T) {
		owner := domain.UserOwner("buyer-1")
		if _, err := svc.Add(ctx, owner, tee, 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.Add(ctx, owner, domain.StockKey{ProductID: "PROD-002"}, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, err := engine.Checkout(ctx, checkout.Request{
			UserID: "buyer-1", Email: "buyer@example.com", ShippingAddress: "1 Main St",
		})
		if err != nil {
			t.Fatalf("checkout failed: %v", err)
		}
		if order.Total != 2*2500+7500 {
			t.Errorf("expected total 12500, got %d", order.Total)
		}

		stored, err := store.Orders().GetByID(ctx, order.ID)
		if err != nil {
			t.Fatalf("failed to load order: %v", err)
		}
		if len(stored.Items) != 2 || stored.Status != domain.OrderStatusPending {
			t.Errorf("unexpected stored order: %+v", stored)
		}

		level, _ := store.Stock().Available(ctx, tee)
		if level.Available != 98 {
			t.Errorf("expected 98 tees left, got %d", level.Available)
		}
		if items, _ := svc.List(ctx, owner); len(items) != 0 {
			t.Errorf("expected empty cart, got %d items", len(items))
		}
	})

	t.Run("insufficient stock rolls everything back", func(t *testing.T) {
		owner := domain.UserOwner("buyer-2")
		if _, err := svc.Add(ctx, owner, tee, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.Add(ctx, owner, beanie, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Stock().Decrement(ctx, beanie, 3); err != nil {
			t.Fatalf("failed to drain stock: %v", err)
		}
		before, _ := store.Stock().Available(ctx, tee)

		_, err := engine.Checkout(ctx, checkout.Request{
			UserID: "buyer-2", Email: "buyer@example.com", ShippingAddress: "1 Main St",
		})
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected insufficient stock, got %v", err)
		}

		after, _ := store.Stock().Available(ctx, tee)
		if after.Available != before.Available {
			t.Errorf("expected tee stock unchanged at %d, got %d", before.Available, after.Available)
		}
		if items, _ := svc.List(ctx, owner); len(items) != 2 {
			t.Errorf("expected cart kept with 2 items, got %d", len(items))
		}
		if list, _ := store.Orders().ListByUser(ctx, "buyer-2"); len(list) != 0 {
			t.Errorf("expected no orders, got %d", len(list))
		}
	})

	t.Run("concurrent buyers never oversell", func(t *testing.T) {
		key := domain.StockKey{ProductID: "PROD-003", VariantID: "VAR-003-M-WHT"}
		level, _ := store.Stock().Available(ctx, key)
		buyers := level.Available/2 + 3

		for i := range buyers {
			if _, err := svc.Add(ctx, domain.UserOwner(buyerID(i)), key, 2); err != nil {
				t.Fatalf("unexpected add error: %v", err)
			}
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		placed := 0
		for i := range buyers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.Checkout(ctx, checkout.Request{
					UserID: buyerID(i), Email: "race@example.com", ShippingAddress: "1 Main St",
				})
				if err == nil {
					mu.Lock()
					placed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		final, _ := store.Stock().Available(ctx, key)
		if final.Available < 0 {
			t.Fatalf("stock went negative: %d", final.Available)
		}
		if placed*2+final.Available != level.Available {
			t.Errorf("placed %d orders but stock moved from %d to %d", placed, level.Available, final.Available)
		}
	})
}

func TestCheckoutKeepsConcurrentAdds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	store := postgres.NewStore(OpenDB(ctx, t, pg.ConnStr))
	owner := domain.UserOwner("buyer-late-add")
	if _, err := store.Carts().AddQuantity(ctx, owner, tee, 1, domain.MaxLineQuantity); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	incremented := make(chan error, 1)
	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		listed, err := tx.Carts().ListForUpdate(ctx, owner)
		if err != nil {
			return err
		}

		// A new line commits while the checkout is open; an increment of a
		// listed line blocks on its row lock.
		if _, err := store.Carts().AddQuantity(ctx, owner, beanie, 1, domain.MaxLineQuantity); err != nil {
			return err
		}
		go func() {
			_, err := store.Carts().AddQuantity(ctx, owner, tee, 4, domain.MaxLineQuantity)
			incremented <- err
		}()
		time.Sleep(200 * time.Millisecond)

		ids := make([]string, len(listed))
		for i, item := range listed {
			ids[i] = item.ID
		}
		_, err = tx.Carts().DeleteItems(ctx, ids)
		return err
	})
	if err != nil {
		t.Fatalf("unit of work failed: %v", err)
	}
	if err := <-incremented; err != nil {
		t.Fatalf("concurrent increment failed: %v", err)
	}

	items, err := store.Carts().List(ctx, owner)
	if err != nil {
		t.Fatalf("failed to list cart: %v", err)
	}
	quantities := map[string]int{}
	for _, item := range items {
		quantities[item.ProductID] = item.Quantity
	}
	if len(items) != 2 || quantities["PROD-004"] != 1 || quantities["PROD-001"] != 4 {
		t.Errorf("expected the late lines to survive, got %+v", items)
	}
}

func TestOrderItemsKeepLineOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	store := postgres.NewStore(OpenDB(ctx, t, pg.ConnStr))
	order := &domain.Order{
		UserID: "ordered-user", Email: "o@example.com", ShippingAddress: "1 Main St",
		Status: domain.OrderStatusPending, Total: 4,
	}
	for _, id := range []string{"PROD-004", "PROD-001", "PROD-003", "PROD-002"} {
		order.Items = append(order.Items, domain.OrderItem{ProductID: id, Quantity: 1, Price: 1})
	}
	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	stored, err := store.Orders().GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	listed, err := store.Orders().ListByUser(ctx, "ordered-user")
	if err != nil || len(listed) != 1 {
		t.Fatalf("failed to list orders: %v (%d)", err, len(listed))
	}
	for i, want := range order.Items {
		if stored.Items[i].ProductID != want.ProductID {
			t.Errorf("GetByID item %d: expected %s, got %s", i, want.ProductID, stored.Items[i].ProductID)
		}
		if listed[0].Items[i].ProductID != want.ProductID {
			t.Errorf("ListByUser item %d: expected %s, got %s", i, want.ProductID, listed[0].Items[i].ProductID)
		}
	}
}

func buyerID(i int) string {
	return "race-buyer-" + string(rune('a'+i))
}

func TestMergeAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	store := postgres.NewStore(OpenDB(ctx, t, pg.ConnStr))
	svc, err := cart.NewService(store, discardLogger())
	if err != nil {
		t.Fatalf("failed to create cart service: %v", err)
	}

	guest := domain.SessionOwner("sess-guest")
	user := domain.UserOwner("user-merge")
	mustAdd := func(owner domain.Owner, key domain.StockKey, qty int) {
		t.Helper()
		if _, err := svc.Add(ctx, owner, key, qty); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}
	mustAdd(guest, tee, 3)
	mustAdd(guest, beanie, 1)
	mustAdd(user, tee, 2)

	merged, err := svc.Merge(ctx, "user-merge", "sess-guest")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	quantities := map[string]int{}
	for _, item := range merged {
		quantities[item.ProductID] = item.Quantity
	}
	if quantities["PROD-001"] != 5 || quantities["PROD-004"] != 1 || len(merged) != 2 {
		t.Errorf("unexpected merged cart: %+v", merged)
	}
	if items, _ := svc.List(ctx, guest); len(items) != 0 {
		t.Errorf("expected guest cart empty, got %d items", len(items))
	}

	t.Run("concurrent merges of one session count it once", func(t *testing.T) {
		session := domain.SessionOwner("sess-double")
		mustAdd(session, tee, 3)
		mustAdd(domain.UserOwner("user-double"), tee, 2)

		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Merge(ctx, "user-double", "sess-double"); err != nil {
					t.Errorf("merge failed: %v", err)
				}
			}()
		}
		wg.Wait()

		items, err := svc.List(ctx, domain.UserOwner("user-double"))
		if err != nil {
			t.Fatalf("failed to list cart: %v", err)
		}
		if len(items) != 1 || items[0].Quantity != 5 {
			t.Errorf("expected one line with quantity 5, got %+v", items)
		}
	})
}

func TestSweeperAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(ctx, t, pg.ConnStr)
	store := postgres.NewStore(db)
	svc, err := cart.NewService(store, discardLogger())
	if err != nil {
		t.Fatalf("failed to create cart service: %v", err)
	}

	for _, owner := range []domain.Owner{domain.SessionOwner("old-guest"), domain.SessionOwner("fresh-guest"), domain.UserOwner("old-user")} {
		if _, err := svc.Add(ctx, owner, tee, 1); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE cart_items SET created_at = NOW() - INTERVAL '10 days' WHERE session_id = 'old-guest' OR user_id = 'old-user'`,
	); err != nil {
		t.Fatalf("failed to age rows: %v", err)
	}

	sw, err := sweeper.New(store.Carts(), discardLogger())
	if err != nil {
		t.Fatalf("failed to create sweeper: %v", err)
	}
	deleted, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 row deleted, got %d", deleted)
	}
	if items, _ := svc.List(ctx, domain.UserOwner("old-user")); len(items) != 1 {
		t.Errorf("expected user rows to survive, got %d", len(items))
	}
	if items, _ := svc.List(ctx, domain.SessionOwner("fresh-guest")); len(items) != 1 {
		t.Errorf("expected fresh guest rows to survive, got %d", len(items))
	}
}

func TestOrderPlacedEventPublished(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)
	telemetry.SetPropagator()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	const topic = "order.placed"
	createTopic(ctx, t, brokers[0], topic)
	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	store := postgres.NewStore(OpenDB(ctx, t, pg.ConnStr))
	logger := discardLogger()
	svc, err := cart.NewService(store, logger)
	if err != nil {
		t.Fatalf("failed to create cart service: %v", err)
	}
	engine, err := checkout.NewEngine(store, producer, logger)
	if err != nil {
		t.Fatalf("failed to create checkout engine: %v", err)
	}

	if _, err := svc.Add(ctx, domain.UserOwner("kafka-user"), tee, 1); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	order, err := engine.Checkout(ctx, checkout.Request{
		UserID: "kafka-user", Email: "kafka@example.com", ShippingAddress: "1 Main St",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		Partition:   0,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer func() { _ = reader.Close() }()

	msg, err := reader.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	if string(msg.Key) != order.ID {
		t.Errorf("expected key %s, got %s", order.ID, msg.Key)
	}

	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.OrderID != order.ID || event.Total != 2500 || event.Email != "kafka@example.com" {
		t.Errorf("unexpected event: %+v", event)
	}

	hasTraceparent := false
	for _, h := range msg.Headers {
		if h.Key == "traceparent" && len(h.Value) > 0 {
			hasTraceparent = true
		}
	}
	if !hasTraceparent {
		t.Error("expected traceparent header on the event")
	}
}

func createTopic(ctx context.Context, t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		t.Fatalf("failed to dial kafka: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}); err != nil {
		t.Fatalf("failed to create topic: %v", err)
	}
}

func TestStorefrontHTTPFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	const secret = "integration-secret"
	db := OpenDB(ctx, t, pg.ConnStr)
	store := postgres.NewStore(db)
	logger := discardLogger()

	svc, err := cart.NewService(store, logger)
	if err != nil {
		t.Fatalf("failed to create cart service: %v", err)
	}
	engine, err := checkout.NewEngine(store, nil, logger)
	if err != nil {
		t.Fatalf("failed to create checkout engine: %v", err)
	}
	resolver := identity.NewResolver(secret)

	server := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Cart:      cart.NewHandler(svc, logger),
		Checkout:  checkout.NewHandler(engine, logger),
		Orders:    orders.NewHandler(store.Orders(), logger),
		Inventory: inventory.NewHandler(store.Stock(), logger),
		Resolver:  resolver,
		Logger:    logger,
		Ready:     db.PingContext,
	}))
	defer server.Close()

	token, err := resolver.Sign("http-user", "http@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	do := func(method, path, body string, headers map[string]string) *http.Response {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, method, server.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", method, path, err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}
	guest := map[string]string{identity.SessionHeader: "http-guest"}
	authed := map[string]string{"Authorization": "Bearer " + token}

	if resp := do(http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}

	if resp := do(http.MethodPost, "/cart/items", `{"product_id":"PROD-001","quantity":2}`, guest); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected add 201, got %d", resp.StatusCode)
	}

	if resp := do(http.MethodPost, "/cart/merge", `{"session_id":"http-guest"}`, authed); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected merge 200, got %d", resp.StatusCode)
	}

	resp := do(http.MethodPost, "/checkout", `{"shipping_address":"1 Main St"}`, authed)
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected checkout 201, got %d: %s", resp.StatusCode, body)
	}
	var order domain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if order.Total != 5000 || order.Email != "http@example.com" {
		t.Errorf("unexpected order: %+v", order)
	}

	if resp := do(http.MethodGet, "/orders/"+order.ID, "", authed); resp.StatusCode != http.StatusOK {
		t.Errorf("expected order lookup 200, got %d", resp.StatusCode)
	}

	resp = do(http.MethodGet, "/products/PROD-001/stock", "", nil)
	var level domain.StockLevel
	if err := json.NewDecoder(resp.Body).Decode(&level); err != nil {
		t.Fatalf("failed to decode stock: %v", err)
	}
	if level.Available != 98 {
		t.Errorf("expected 98 available, got %d", level.Available)
	}
}
