// Package orders serves the order history of the authenticated caller.
package orders

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/web"
)

type Handler struct {
	repo   storage.OrderRepository
	logger *slog.Logger
}

func NewHandler(repo storage.OrderRepository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// HandleGet returns one of the caller's orders. Orders of other users are
// reported as not found.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		web.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		web.WriteError(w, h.logger, storage.AsDomain(err, "order"))
		return
	}
	if order.UserID != caller.UserID {
		web.WriteError(w, h.logger, domain.NotFound("order"))
		return
	}

	h.logger.InfoContext(r.Context(), "order retrieved", "order_id", order.ID)
	web.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		web.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	orders, err := h.repo.ListByUser(r.Context(), caller.UserID)
	if err != nil {
		web.WriteError(w, h.logger, storage.AsDomain(err, "order"))
		return
	}

	h.logger.InfoContext(r.Context(), "orders listed", "count", len(orders), "user_id", caller.UserID)
	web.WriteJSON(w, h.logger, http.StatusOK, orders)
}
