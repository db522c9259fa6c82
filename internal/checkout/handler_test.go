package checkout

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
)

func TestHandler_HandleCheckout(t *testing.T) {
	const secret = "checkout-handler-secret"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := identity.NewResolver(secret)

	serve := func(t *testing.T, h *Handler, body, token string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		identity.Middleware(resolver, logger)(http.HandlerFunc(h.HandleCheckout)).ServeHTTP(rec, req)
		return rec
	}

	token, err := resolver.Sign("user-1", "token@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	t.Run("creates the order with the token email", func(t *testing.T) {
		engine, store := newTestEngine(t, nil)
		putLine(store, domain.UserOwner("user-1"), "PROD-A", "", 2)

		rec := serve(t, NewHandler(engine, logger), `{"shipping_address":"1 Main St"}`, token)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var order domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if order.Email != "token@example.com" || order.Total != 20 {
			t.Errorf("unexpected order: %+v", order)
		}
	})

	t.Run("explicit empty email is rejected", func(t *testing.T) {
		engine, store := newTestEngine(t, nil)
		putLine(store, domain.UserOwner("user-1"), "PROD-A", "", 2)

		rec := serve(t, NewHandler(engine, logger), `{"email":"","shipping_address":"1 Main St"}`, token)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"kind":"missing_email"`) {
			t.Errorf("expected missing_email kind, got %s", rec.Body.String())
		}
	})

	t.Run("empty cart is 400", func(t *testing.T) {
		engine, _ := newTestEngine(t, nil)

		rec := serve(t, NewHandler(engine, logger), `{"shipping_address":"1 Main St"}`, token)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("insufficient stock is 409", func(t *testing.T) {
		engine, store := newTestEngine(t, nil)
		putLine(store, domain.UserOwner("user-1"), "PROD-A", "", 9)

		rec := serve(t, NewHandler(engine, logger), `{"shipping_address":"1 Main St"}`, token)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
	})

	t.Run("anonymous is 401", func(t *testing.T) {
		engine, _ := newTestEngine(t, nil)

		rec := serve(t, NewHandler(engine, logger), `{"shipping_address":"1 Main St"}`, "")

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("storage failure is 503", func(t *testing.T) {
		engine, store := newTestEngine(t, nil)
		putLine(store, domain.UserOwner("user-1"), "PROD-A", "", 1)
		store.InjectFault("orders.create", io.ErrUnexpectedEOF)

		rec := serve(t, NewHandler(engine, logger), `{"shipping_address":"1 Main St"}`, token)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rec.Code)
		}
	})
}
