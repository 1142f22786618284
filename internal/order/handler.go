package order

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/order/entity"
)

// Lister is the read side of the ledger. *repo.OrderRepo implements it.
type Lister interface {
	ListByUser(ctx context.Context, userID int64) ([]entity.View, error)
	ListAll(ctx context.Context, limit int) ([]entity.View, error)
}

// Handler serves order history for buyers and admins.
type Handler struct {
	orders Lister
	logger *zap.SugaredLogger
}

func NewHandler(orders Lister, logger *zap.SugaredLogger) *Handler {
	return &Handler{orders: orders, logger: logger}
}

// Mine lists the caller's own orders.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpx.WriteError(w, h.logger, r, apperr.New(apperr.Auth, "Not authorized: missing token"))
		return
	}
	views, err := h.orders.ListByUser(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	// buyer email is only interesting to admins
	for i := range views {
		views[i].BuyerEmail = ""
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": views})
}

// All lists every order. The route requires the ViewAllOrders capability.
func (h *Handler) All(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 500
	}
	views, err := h.orders.ListAll(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": views})
}
