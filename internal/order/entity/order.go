package entity

import "time"

type Status string

const (
	StatusCreated Status = "created"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Order is one purchase attempt. Rows are never deleted; status only moves
// from created to success or failed.
type Order struct {
	ID               string    `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"userId"`
	BookID           string    `db:"book_id" json:"bookId"`
	GatewayOrderID   string    `db:"gateway_order_id" json:"gatewayOrderId"`
	GatewayPaymentID *string   `db:"gateway_payment_id" json:"gatewayPaymentId,omitempty"`
	Amount           int64     `db:"amount" json:"amount"` // minor units
	Currency         string    `db:"currency" json:"currency"`
	Status           Status    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// Key identifies an order for a verification call. All three parts must
// match the stored row.
type Key struct {
	GatewayOrderID string
	UserID         int64
	BookID         string
}

// View is an order joined with catalog and buyer details for listings.
type View struct {
	Order
	BookTitle  *string `db:"book_title" json:"bookTitle,omitempty"`
	BuyerEmail string  `db:"buyer_email" json:"buyerEmail,omitempty"`
}
