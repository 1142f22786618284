package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/order/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
)

const orderColumns = `id, user_id, book_id, gateway_order_id, gateway_payment_id, amount, currency, status, created_at, updated_at`

const viewColumns = `o.id, o.user_id, o.book_id, o.gateway_order_id, o.gateway_payment_id, o.amount, o.currency,
	o.status, o.created_at, o.updated_at, b.title AS book_title, u.email AS buyer_email`

const keyPredicate = `gateway_order_id=$1 AND user_id=$2 AND book_id=$3`

// ErrAlreadyFailed is returned by Settle when the order was marked failed
// before a valid confirmation arrived.
var ErrAlreadyFailed = errors.New("order already failed")

// SettleResult describes the outcome of Settle.
type SettleResult struct {
	Order *entity.Order
	// Idempotent is set when the order was already successful.
	Idempotent bool
	// Granted is set when the access set gained a row.
	Granted bool
}

// OrderRepo is the order ledger on Postgres.
type OrderRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewOrderRepo(db *sqlx.DB, timeout time.Duration) *OrderRepo {
	return &OrderRepo{db: db, timeout: timeout}
}

// Create inserts o with status created.
func (r *OrderRepo) Create(ctx context.Context, o *entity.Order) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	o.Status = entity.StatusCreated
	const q = `INSERT INTO orders (id, user_id, book_id, gateway_order_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, q, o.ID, o.UserID, o.BookID, o.GatewayOrderID, o.Amount, o.Currency, o.Status).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	return apperr.FromStore("insert order", err)
}

// Get looks an order up by its full key; a partial match is sql.ErrNoRows.
func (r *OrderRepo) Get(ctx context.Context, key entity.Key) (*entity.Order, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	var o entity.Order
	q := `SELECT ` + orderColumns + ` FROM orders WHERE ` + keyPredicate
	if err := r.db.GetContext(ctx, &o, q, key.GatewayOrderID, key.UserID, key.BookID); err != nil {
		return nil, apperr.FromStore("get order", err)
	}
	return &o, nil
}

// MarkFailed moves a created order to failed. It never touches a terminal
// order; changed reports whether this call made the transition.
func (r *OrderRepo) MarkFailed(ctx context.Context, key entity.Key) (o *entity.Order, changed bool, err error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	o = &entity.Order{}
	q := `UPDATE orders SET status='failed', updated_at=NOW() WHERE ` + keyPredicate +
		` AND status='created' RETURNING ` + orderColumns
	err = r.db.GetContext(ctx, o, q, key.GatewayOrderID, key.UserID, key.BookID)
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperr.FromStore("mark order failed", err)
	}
	q = `SELECT ` + orderColumns + ` FROM orders WHERE ` + keyPredicate
	if err := r.db.GetContext(ctx, o, q, key.GatewayOrderID, key.UserID, key.BookID); err != nil {
		return nil, false, apperr.FromStore("get order", err)
	}
	return o, false, nil
}

// Settle records the payment and grants access in one transaction. A
// concurrent settle of the same order blocks on the row lock and then sees
// the committed success, so exactly one call performs the transition.
func (r *OrderRepo) Settle(ctx context.Context, key entity.Key, paymentID string) (*SettleResult, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.FromStore("begin settle", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &SettleResult{Order: &entity.Order{}}
	q := `UPDATE orders SET status='success', gateway_payment_id=$4, updated_at=NOW() WHERE ` + keyPredicate +
		` AND status='created' RETURNING ` + orderColumns
	err = tx.GetContext(ctx, res.Order, q, key.GatewayOrderID, key.UserID, key.BookID, paymentID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		q = `SELECT ` + orderColumns + ` FROM orders WHERE ` + keyPredicate + ` FOR UPDATE`
		if err := tx.GetContext(ctx, res.Order, q, key.GatewayOrderID, key.UserID, key.BookID); err != nil {
			return nil, apperr.FromStore("get order", err)
		}
		switch res.Order.Status {
		case entity.StatusSuccess:
			res.Idempotent = true
		case entity.StatusFailed:
			return res, ErrAlreadyFailed
		default:
			return nil, fmt.Errorf("settle: order %s in unexpected status %q", res.Order.ID, res.Order.Status)
		}
	default:
		return nil, apperr.FromStore("settle order", err)
	}

	res.Granted, err = userrepo.GrantAccess(ctx, tx, key.UserID, key.BookID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.FromStore("commit settle", err)
	}
	return res, nil
}

// ListByUser returns the caller's orders, newest first.
func (r *OrderRepo) ListByUser(ctx context.Context, userID int64) ([]entity.View, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	views := []entity.View{}
	q := `SELECT ` + viewColumns + ` FROM orders o
		JOIN users u ON u.id = o.user_id
		LEFT JOIN books b ON b.id = o.book_id
		WHERE o.user_id=$1 ORDER BY o.created_at DESC`
	if err := r.db.SelectContext(ctx, &views, q, userID); err != nil {
		return nil, apperr.FromStore("list user orders", err)
	}
	return views, nil
}

// ListAll returns every order, newest first, capped at limit rows.
func (r *OrderRepo) ListAll(ctx context.Context, limit int) ([]entity.View, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	views := []entity.View{}
	q := `SELECT ` + viewColumns + ` FROM orders o
		JOIN users u ON u.id = o.user_id
		LEFT JOIN books b ON b.id = o.book_id
		ORDER BY o.created_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &views, q, limit); err != nil {
		return nil, apperr.FromStore("list orders", err)
	}
	return views, nil
}

// ReconcileGrants re-derives access grants from successful orders and
// returns how many were missing.
func (r *OrderRepo) ReconcileGrants(ctx context.Context) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `INSERT INTO user_books (user_id, book_id)
		SELECT DISTINCT user_id, book_id FROM orders WHERE status='success'
		ON CONFLICT (user_id, book_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, apperr.FromStore("reconcile grants", err)
	}
	return res.RowsAffected()
}
