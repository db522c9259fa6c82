package checkout

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/web"
)

type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

type checkoutRequest struct {
	Email           *string `json:"email"`
	ShippingAddress string  `json:"shipping_address"`
}

// HandleCheckout places an order for the authenticated caller. The email
// defaults to the one carried by the token when the body omits it.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		web.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := web.DecodeJSON(w, r, &req); err != nil {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	email := id.Email
	if req.Email != nil {
		email = *req.Email
	}

	order, err := h.engine.Checkout(r.Context(), Request{
		UserID:          id.UserID,
		Email:           email,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusCreated, order)
}
