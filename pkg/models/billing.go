package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the payment lifecycle state of a Transaction.
// Transitions are forward-only: pending -> completed or pending -> cancelled.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction records a single gateway checkout session. PaymentID carries the
// gateway session id and is the idempotency key for webhook matching.
type Transaction struct {
	ID        string              `json:"id" db:"id"`
	UserID    *string             `json:"user_id,omitempty" db:"user_id"`
	PaymentID string              `json:"payment_id" db:"payment_id"`
	Currency  string              `json:"currency" db:"currency"`
	Amount    decimal.NullDecimal `json:"amount" db:"amount"`
	Gateway   string              `json:"gateway" db:"gateway"`
	Status    TransactionStatus   `json:"status" db:"status"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// Subscription records a recurring billing agreement at the gateway. Exactly one
// row exists per StripeSubscriptionID; invoice.paid events upsert against it.
type Subscription struct {
	ID                   string              `json:"id" db:"id"`
	UserEmail            string              `json:"user_email" db:"user_email"`
	StripeSubscriptionID string              `json:"stripe_subscription_id" db:"stripe_subscription_id"`
	StripeCustomerID     string              `json:"stripe_customer_id" db:"stripe_customer_id"`
	StripePriceID        string              `json:"stripe_price_id" db:"stripe_price_id"`
	PaidAmount           decimal.NullDecimal `json:"paid_amount" db:"paid_amount"`
	Active               bool                `json:"active" db:"active"`
	StartDate            *time.Time          `json:"start_date" db:"start_date"`
	EndDate              *time.Time          `json:"end_date" db:"end_date"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// SubscriptionFields carries the mutable columns applied by an invoice.paid
// upsert. Period bounds arrive as unix-epoch seconds from the gateway and are
// stored as UTC instants.
type SubscriptionFields struct {
	StripeCustomerID string
	StripePriceID    string
	PaidAmount       decimal.NullDecimal
	StartDate        *time.Time
	EndDate          *time.Time
}
