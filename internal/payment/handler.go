package payment

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
)

// createSchema has no amount field; any amount a client sends is ignored.
var createSchema = httpx.MustSchema(`{
	"type": "object",
	"required": ["itemId"],
	"properties": {
		"itemId": {"type": "string", "minLength": 1, "maxLength": 64}
	}
}`)

var verifySchema = httpx.MustSchema(`{
	"type": "object",
	"required": ["itemId", "gatewayOrderId", "gatewayPaymentId", "signature"],
	"properties": {
		"itemId": {"type": "string", "minLength": 1, "maxLength": 64},
		"gatewayOrderId": {"type": "string", "minLength": 1, "maxLength": 128},
		"gatewayPaymentId": {"type": "string", "minLength": 1, "maxLength": 128},
		"signature": {"type": "string", "minLength": 1, "maxLength": 256}
	}
}`)

type Handler struct {
	engine *Engine
	logger *zap.SugaredLogger
}

func NewHandler(engine *Engine, logger *zap.SugaredLogger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

type createRequest struct {
	ItemID string `json:"itemId"`
}

// CreateOrder handles POST /payments/create-order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if err := auth.Authorize(id, auth.Purchase); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, createSchema, &req); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	intent, err := h.engine.CreateIntent(r.Context(), req.ItemID, id.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, intent)
}

// Verify handles POST /payments/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if err := auth.Authorize(id, auth.Purchase); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	var req Confirmation
	if err := httpx.DecodeJSON(r, verifySchema, &req); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	res, err := h.engine.VerifyAndGrant(r.Context(), req, id.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	msg := "Payment verified"
	if res.Idempotent {
		msg = "Payment already verified"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"message": msg, "order": res.Order})
}
