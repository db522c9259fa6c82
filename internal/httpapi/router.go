// Package httpapi assembles the storefront HTTP surface.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/telemetry"
	"github.com/joao-fontenele/storefront/internal/web"
)

type Deps struct {
	Cart      *cart.Handler
	Checkout  *checkout.Handler
	Orders    *orders.Handler
	Inventory *inventory.Handler
	Resolver  *identity.Resolver
	Logger    *slog.Logger

	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ready reports whether backing storage is reachable.
	Ready func(ctx context.Context) error

	CORSOrigins []string
	// RateLimitRPM is the per-IP request budget per minute; 0 disables it.
	RateLimitRPM int
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPRoute)
	// Preflight requests match no route, so CORS has to run on the root mux.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", identity.SessionHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthz(d))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		if d.RateLimitRPM > 0 {
			r.Use(httprate.Limit(d.RateLimitRPM, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					web.WriteMessage(w, d.Logger, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		r.Use(identity.Middleware(d.Resolver, d.Logger))

		r.Get("/products/{productId}/stock", d.Inventory.HandleGetStock)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", d.Cart.HandleList)
			r.Delete("/", d.Cart.HandleClear)
			r.Post("/items", d.Cart.HandleAdd)
			r.Patch("/items/{id}", d.Cart.HandleUpdate)
			r.Delete("/items/{id}", d.Cart.HandleRemove)
			r.With(identity.RequireUser(d.Logger)).Post("/merge", d.Cart.HandleMerge)
		})

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireUser(d.Logger))
			r.Post("/checkout", d.Checkout.HandleCheckout)
			r.Get("/orders", d.Orders.HandleList)
			r.Get("/orders/{id}", d.Orders.HandleGet)
		})
	})

	return otelhttp.NewHandler(r, "storefront",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}

func healthz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				d.Logger.WarnContext(r.Context(), "readiness check failed", "error", err)
				web.WriteJSON(w, d.Logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		web.WriteJSON(w, d.Logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}
