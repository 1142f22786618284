// Package payment turns a catalog item into a gateway payment order and a
// verified gateway confirmation into an access grant.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	bookentity "github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/order/entity"
	orderrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/order/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/utilities"
)

// minorUnits is the number of minor currency units per major unit.
const minorUnits = 100

// Catalog resolves purchasable items. *book.Service implements it and
// reports unknown ids as apperr.NotFound.
type Catalog interface {
	Get(ctx context.Context, id string) (*bookentity.Book, error)
}

// Ledger is the order store. *orderrepo.OrderRepo implements it.
type Ledger interface {
	Create(ctx context.Context, o *entity.Order) error
	MarkFailed(ctx context.Context, key entity.Key) (*entity.Order, bool, error)
	Settle(ctx context.Context, key entity.Key, paymentID string) (*orderrepo.SettleResult, error)
	ReconcileGrants(ctx context.Context) (int64, error)
}

// Intent is returned to the client to open the gateway checkout.
type Intent struct {
	OrderID        string     `json:"orderId"`
	GatewayOrderID string     `json:"gatewayOrderId"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	KeyID          string     `json:"keyId"`
	Book           IntentBook `json:"book"`
}

type IntentBook struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Confirmation is the gateway callback data forwarded by the client.
type Confirmation struct {
	ItemID           string `json:"itemId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// Result is the outcome of a successful verification.
type Result struct {
	Order *entity.Order
	// Idempotent is set when the order had already been settled earlier.
	Idempotent bool
}

// Engine runs checkout creation and confirmation.
type Engine struct {
	catalog  Catalog
	ledger   Ledger
	gateway  Gateway
	secret   string
	currency string
	logger   *zap.SugaredLogger
}

func NewEngine(catalog Catalog, ledger Ledger, gateway Gateway, cfg Config, logger *zap.SugaredLogger) *Engine {
	currency := cfg.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Engine{
		catalog:  catalog,
		ledger:   ledger,
		gateway:  gateway,
		secret:   cfg.KeySecret,
		currency: currency,
		logger:   logger,
	}
}

// CreateIntent opens a gateway order for itemID on behalf of buyerID. The
// amount comes from the catalog price only.
func (e *Engine) CreateIntent(ctx context.Context, itemID string, buyerID int64) (*Intent, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, apperr.New(apperr.Validation, "itemId is required")
	}
	book, err := e.catalog.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if book.Price > math.MaxInt64/minorUnits {
		return nil, apperr.New(apperr.Validation, "price is out of range")
	}
	amount := book.Price * minorUnits

	gwOrder, err := e.gateway.CreateOrder(ctx, OrderRequest{
		Amount:   amount,
		Currency: e.currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(utilities.NewUUID(), "-", ""),
		Notes: map[string]string{
			"bookId": book.ID,
			"userId": strconv.FormatInt(buyerID, 10),
		},
	})
	if err != nil {
		return nil, err
	}
	if gwOrder.Amount != 0 && gwOrder.Amount != amount {
		e.logger.Warnw("gateway echoed a different amount", "gateway_order_id", gwOrder.ID, "expected", amount, "got", gwOrder.Amount)
	}

	o := &entity.Order{
		ID:             utilities.NewKSUID(),
		UserID:         buyerID,
		BookID:         book.ID,
		GatewayOrderID: gwOrder.ID,
		Amount:         amount,
		Currency:       e.currency,
	}
	if err := e.ledger.Create(ctx, o); err != nil {
		// the gateway order is left unused; it can never be verified without a ledger row
		e.logger.Errorw("record order failed", "gateway_order_id", gwOrder.ID, "user_id", buyerID, "err", err)
		return nil, err
	}
	e.logger.Infow("order created", "order_id", o.ID, "gateway_order_id", o.GatewayOrderID, "user_id", buyerID, "book_id", book.ID, "amount", amount)

	return &Intent{
		OrderID:        o.ID,
		GatewayOrderID: o.GatewayOrderID,
		Amount:         amount,
		Currency:       e.currency,
		KeyID:          e.gateway.KeyID(),
		Book:           IntentBook{ID: book.ID, Title: book.Title},
	}, nil
}

// VerifyAndGrant checks the gateway signature and, when valid, settles the
// order and grants access in one step. Repeating a successful call is a
// no-op that reports Idempotent.
func (e *Engine) VerifyAndGrant(ctx context.Context, c Confirmation, buyerID int64) (*Result, error) {
	if c.ItemID == "" || c.GatewayOrderID == "" || c.GatewayPaymentID == "" || c.Signature == "" {
		return nil, apperr.New(apperr.Validation, "itemId, gatewayOrderId, gatewayPaymentId and signature are required")
	}
	if placeholder(e.secret) {
		return nil, apperr.New(apperr.Configuration, "Server misconfigured: RAZORPAY_KEY_SECRET missing")
	}
	key := entity.Key{GatewayOrderID: c.GatewayOrderID, UserID: buyerID, BookID: c.ItemID}

	if !VerifySignature(e.secret, c.GatewayOrderID, c.GatewayPaymentID, c.Signature) {
		return nil, e.reject(ctx, key)
	}

	res, err := e.ledger.Settle(ctx, key, c.GatewayPaymentID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		e.logger.Warnw("valid signature for unknown order", "gateway_order_id", key.GatewayOrderID, "user_id", buyerID, "book_id", key.BookID)
		return nil, apperr.New(apperr.NotFound, "Order not found")
	case errors.Is(err, orderrepo.ErrAlreadyFailed):
		e.logger.Warnw("valid signature for failed order", "gateway_order_id", key.GatewayOrderID, "user_id", buyerID)
		return nil, apperr.Wrap(apperr.Conflict, "Order was already marked failed. Please start a new checkout.", err)
	default:
		return nil, err
	}

	o := res.Order
	if res.Idempotent {
		if o.GatewayPaymentID != nil && *o.GatewayPaymentID != c.GatewayPaymentID {
			e.logger.Warnw("order already settled with another payment",
				"gateway_order_id", o.GatewayOrderID, "stored_payment_id", *o.GatewayPaymentID, "payment_id", c.GatewayPaymentID)
		}
		e.logger.Debugw("order already settled", "order_id", o.ID, "grant_repaired", res.Granted)
	} else {
		e.logger.Infow("payment verified", "order_id", o.ID, "gateway_order_id", o.GatewayOrderID, "user_id", buyerID, "book_id", o.BookID)
	}
	return &Result{Order: o, Idempotent: res.Idempotent}, nil
}

// reject marks the order failed after a signature mismatch. A terminal order
// is left as it is.
func (e *Engine) reject(ctx context.Context, key entity.Key) error {
	o, changed, err := e.ledger.MarkFailed(ctx, key)
	switch {
	case err == nil && changed:
		e.logger.Infow("payment verification failed", "order_id", o.ID, "gateway_order_id", key.GatewayOrderID, "user_id", key.UserID)
	case err == nil:
		e.logger.Warnw("bad signature for settled order", "order_id", o.ID, "status", o.Status, "user_id", key.UserID)
	case errors.Is(err, sql.ErrNoRows):
		e.logger.Warnw("bad signature for unknown order", "gateway_order_id", key.GatewayOrderID, "user_id", key.UserID)
	default:
		e.logger.Errorw("mark order failed", "gateway_order_id", key.GatewayOrderID, "err", err)
		return err
	}
	return apperr.New(apperr.VerificationFailed, "Payment verification failed")
}

// Reconcile re-derives missing grants from successful orders.
func (e *Engine) Reconcile(ctx context.Context) (int64, error) {
	n, err := e.ledger.ReconcileGrants(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warnw("reconcile restored missing grants", "count", n)
	} else {
		e.logger.Infow("reconcile found no missing grants")
	}
	return n, nil
}
