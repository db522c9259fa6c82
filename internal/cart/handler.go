package cart

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/web"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type cartResponse struct {
	Items []domain.CartItem `json:"items"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), identity.Owner(r))
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, cartResponse{Items: items})
}

type addItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	SessionID string `json:"session_id"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := web.DecodeJSON(w, r, &req); err != nil {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	owner := identity.Owner(r)
	if owner.IsZero() && strings.TrimSpace(req.SessionID) != "" {
		owner = domain.SessionOwner(strings.TrimSpace(req.SessionID))
	}

	key := domain.StockKey{ProductID: req.ProductID, VariantID: req.VariantID}
	item, err := h.service.Add(r.Context(), owner, key, req.Quantity)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "cart item added",
		"item_id", item.ID, "product_id", item.ProductID, "quantity", item.Quantity)
	web.WriteJSON(w, h.logger, http.StatusCreated, item)
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, "missing cart item id")
		return
	}

	var req updateItemRequest
	if err := web.DecodeJSON(w, r, &req); err != nil {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.Update(r.Context(), identity.Owner(r), itemID, req.Quantity)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "cart item updated", "item_id", item.ID, "quantity", item.Quantity)
	web.WriteJSON(w, h.logger, http.StatusOK, item)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, "missing cart item id")
		return
	}

	if err := h.service.Remove(r.Context(), identity.Owner(r), itemID); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "cart item removed", "item_id", itemID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.Clear(r.Context(), identity.Owner(r))
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "cart cleared", "deleted", deleted)
	w.WriteHeader(http.StatusNoContent)
}

type mergeRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func (h *Handler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		web.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	var req mergeRequest
	if err := web.DecodeJSON(w, r, &req); err != nil {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.service.Merge(r.Context(), id.UserID, strings.TrimSpace(req.SessionID))
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, cartResponse{Items: items})
}
