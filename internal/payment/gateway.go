package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/utilities"
)

// OrderRequest is what the gateway needs to open a payment order.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// GatewayOrder is the gateway's answer.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Gateway opens payment orders with the third-party processor.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
	// KeyID is the public key the checkout widget needs.
	KeyID() string
}

// NewGateway returns the mock gateway when cfg.Mode is "mock" and the
// Razorpay REST client otherwise.
func NewGateway(cfg Config, logger *zap.SugaredLogger) Gateway {
	if cfg.Mode == "mock" {
		logger.Warnw("payment gateway running in mock mode")
		return &MockGateway{keyID: "rzp_mock"}
	}
	return NewRazorpay(cfg, logger)
}

// Razorpay calls POST /v1/orders on the Razorpay API.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
	logger    *zap.SugaredLogger
}

func NewRazorpay(cfg Config, logger *zap.SugaredLogger) *Razorpay {
	return &Razorpay{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

func (g *Razorpay) KeyID() string { return g.keyID }

func (g *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if placeholder(g.keyID) || placeholder(g.keySecret) {
		return nil, apperr.New(apperr.Configuration,
			"Payment gateway keys missing/placeholder. Set RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode gateway order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.keyID, g.keySecret)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "Payment gateway unavailable. Please try again later.", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "Payment gateway unavailable. Please try again later.", err)
	}
	g.logger.Debugw("gateway create order", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperr.New(apperr.Configuration,
			"Payment gateway authentication failed. Check RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET")
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, apperr.Wrap(apperr.Unavailable, "Payment gateway unavailable. Please try again later.",
			fmt.Errorf("gateway status %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("gateway rejected order: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out GatewayOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode gateway order: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("gateway returned an order without id")
	}
	return &out, nil
}

// MockGateway issues local order ids. For development and tests only.
type MockGateway struct {
	keyID string
}

func (m *MockGateway) KeyID() string { return m.keyID }

func (m *MockGateway) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "Payment gateway unavailable. Please try again later.", err)
	}
	return &GatewayOrder{
		ID:       "order_" + utilities.NewKSUID(),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   "created",
	}, nil
}
