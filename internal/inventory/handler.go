// Package inventory exposes read-only stock lookups over the stock ledger.
package inventory

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/web"
)

type Handler struct {
	stock  storage.StockLedger
	logger *slog.Logger
}

func NewHandler(stock storage.StockLedger, logger *slog.Logger) *Handler {
	return &Handler{
		stock:  stock,
		logger: logger,
	}
}

// HandleGetStock reports the counter governing a product, or one of its
// variants when variant_id is given.
func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		web.WriteMessage(w, h.logger, http.StatusBadRequest, "missing product id")
		return
	}

	key := domain.StockKey{
		ProductID: productID,
		VariantID: strings.TrimSpace(r.URL.Query().Get("variant_id")),
	}

	level, err := h.stock.Available(r.Context(), key)
	if err != nil {
		what := "product"
		if key.HasVariant() {
			what = "variant"
		}
		web.WriteError(w, h.logger, storage.AsDomain(err, what))
		return
	}

	h.logger.DebugContext(r.Context(), "stock retrieved", "stock_key", key.String(), "available", level.Available)
	web.WriteJSON(w, h.logger, http.StatusOK, level)
}
