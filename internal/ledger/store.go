package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"teller/pkg/logging"
	"teller/pkg/models"
)

var (
	// ErrTransactionNotFound is returned when no transaction matches the payment id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrSubscriptionNotFound is returned when no subscription matches the gateway id.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrDuplicatePaymentID is returned when a transaction insert violates the
	// payment_id uniqueness constraint.
	ErrDuplicatePaymentID = errors.New("duplicate payment id")
)

// Store owns all reads and writes of transactions and subscriptions.
// Mutations are single guarded statements so concurrent webhook deliveries for
// the same key converge without any lock beyond the row's own.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// NewStore creates a ledger store
func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateTransaction inserts a pending transaction for a freshly created
// gateway session. The id is assigned here; payment_id must be unique.
func (s *Store) CreateTransaction(ctx context.Context, userID *string, paymentID, currency, gateway string, amount decimal.NullDecimal) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		PaymentID: paymentID,
		Currency:  currency,
		Amount:    amount,
		Gateway:   gateway,
		Status:    models.TransactionPending,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO transactions (id, user_id, payment_id, currency, amount, gateway, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW(), NOW())
		RETURNING created_at, updated_at
	`, tx.ID, tx.UserID, tx.PaymentID, tx.Currency, tx.Amount, tx.Gateway).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePaymentID
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return tx, nil
}

// GetTransactionByPaymentID looks up a transaction by its gateway session id.
func (s *Store) GetTransactionByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, payment_id, currency, amount, gateway, status, created_at, updated_at
		FROM transactions
		WHERE payment_id = $1
	`, paymentID).Scan(&tx.ID, &tx.UserID, &tx.PaymentID, &tx.Currency, &tx.Amount,
		&tx.Gateway, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup transaction: %w", err)
	}
	return &tx, nil
}

// CompleteTransaction moves a pending transaction to completed. The amount is
// only filled in when the row has none yet (subscription-mode sessions are
// created without one). The status guard makes replays and out-of-order
// deliveries no-ops: a terminal row is never touched.
func (s *Store) CompleteTransaction(ctx context.Context, paymentID string, amount decimal.NullDecimal) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'completed',
		    amount = COALESCE(amount, $2),
		    updated_at = NOW()
		WHERE payment_id = $1 AND status = 'pending'
	`, paymentID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to complete transaction: %w", err)
	}
	updated, _ := res.RowsAffected()
	return updated > 0, nil
}

// CancelTransaction moves a pending transaction to cancelled, with the same
// forward-only guard as CompleteTransaction.
func (s *Store) CancelTransaction(ctx context.Context, paymentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'cancelled', updated_at = NOW()
		WHERE payment_id = $1 AND status = 'pending'
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel transaction: %w", err)
	}
	updated, _ := res.RowsAffected()
	return updated > 0, nil
}

// UpsertSubscriptionByKey creates or refreshes the subscription row for a
// gateway subscription id in a single round trip. Concurrent first-time
// invoice.paid deliveries race on the unique index and converge to one row,
// last writer winning on the mutable columns.
func (s *Store) UpsertSubscriptionByKey(ctx context.Context, userEmail, subscriptionID string, fields models.SubscriptionFields) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, user_email, stripe_subscription_id, stripe_customer_id, stripe_price_id,
			paid_amount, active, start_date, end_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, NOW(), NOW())
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_email = EXCLUDED.user_email,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			paid_amount = EXCLUDED.paid_amount,
			active = TRUE,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = NOW()
	`, uuid.New().String(), userEmail, subscriptionID, fields.StripeCustomerID,
		fields.StripePriceID, fields.PaidAmount, fields.StartDate, fields.EndDate)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// GetSubscriptionBySubscriptionID looks up a subscription by its gateway id.
func (s *Store) GetSubscriptionBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_email, stripe_subscription_id, stripe_customer_id, stripe_price_id,
		       paid_amount, active, start_date, end_date, created_at, updated_at
		FROM subscriptions
		WHERE stripe_subscription_id = $1
	`, subscriptionID).Scan(&sub.ID, &sub.UserEmail, &sub.StripeSubscriptionID,
		&sub.StripeCustomerID, &sub.StripePriceID, &sub.PaidAmount, &sub.Active,
		&sub.StartDate, &sub.EndDate, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup subscription: %w", err)
	}
	return &sub, nil
}

// DeactivateSubscription marks a subscription inactive. Returns
// ErrSubscriptionNotFound when no row carries the gateway id.
func (s *Store) DeactivateSubscription(ctx context.Context, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET active = FALSE, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	if updated, _ := res.RowsAffected(); updated == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListTransactions returns the most recent transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, payment_id, currency, amount, gateway, status, created_at, updated_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.PaymentID, &tx.Currency, &tx.Amount,
			&tx.Gateway, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			s.logger.WithError(err).Error("Failed to scan transaction row")
			continue
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ListSubscriptions returns the most recent subscriptions, newest period first.
func (s *Store) ListSubscriptions(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_email, stripe_subscription_id, stripe_customer_id, stripe_price_id,
		       paid_amount, active, start_date, end_date, created_at, updated_at
		FROM subscriptions
		ORDER BY start_date DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserEmail, &sub.StripeSubscriptionID,
			&sub.StripeCustomerID, &sub.StripePriceID, &sub.PaidAmount, &sub.Active,
			&sub.StartDate, &sub.EndDate, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			s.logger.WithError(err).Error("Failed to scan subscription row")
			continue
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkEventProcessed records a webhook event id, returning false when the
// event was seen before. The insert races safely via ON CONFLICT DO NOTHING.
func (s *Store) MarkEventProcessed(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	inserted, _ := res.RowsAffected()
	return inserted > 0, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq unique_violation is SQLSTATE 23505
	type sqlStater interface{ SQLState() string }
	var stater sqlStater
	if errors.As(err, &stater) {
		return stater.SQLState() == "23505"
	}
	return false
}
