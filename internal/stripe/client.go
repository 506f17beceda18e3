// Package stripe wraps the gateway operations Teller consumes: hosted
// checkout session creation for one-time payments and subscriptions, and
// subscription cancellation. Only session ids, URLs and subscription ids flow
// back into the core.
package stripe

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"teller/pkg/logging"
)

// Config for creating a new Stripe client. The credential is fixed at
// construction; nothing reads it from process globals afterwards.
type Config struct {
	SecretKey  string // STRIPE_SECRET_KEY
	SuccessURL string
	CancelURL  string
	Logger     logging.Logger
}

// Client wraps Stripe API operations for checkout and subscriptions.
type Client struct {
	secretKey  string
	successURL string
	cancelURL  string
	logger     logging.Logger
}

// Session is the slice of a gateway checkout session the core consumes.
type Session struct {
	ID  string
	URL string
}

// NewClient creates a new Stripe client
func NewClient(config Config) (*Client, error) {
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	// The stripe-go session packages read the package-level key; set it once
	// here so no other component needs to know the credential exists.
	stripe.Key = config.SecretKey

	return &Client{
		secretKey:  config.SecretKey,
		successURL: config.SuccessURL,
		cancelURL:  config.CancelURL,
		logger:     config.Logger,
	}, nil
}

// CreatePaymentSession creates a one-time payment checkout session with an
// inline price. The amount is a major-unit decimal and is converted to the
// gateway's minor units.
func (c *Client) CreatePaymentSession(ctx context.Context, currency, title string, amount decimal.Decimal) (*Session, error) {
	unitAmount := amount.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(title),
					},
					UnitAmount: stripe.Int64(unitAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"session_id": sess.ID,
		"currency":   currency,
		"amount":     amount.StringFixed(2),
	}).Info("Created Stripe checkout session")

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// CreateSubscriptionSession creates a subscription-mode checkout session for a
// pre-existing gateway price.
func (c *Client) CreateSubscriptionSession(ctx context.Context, email, priceID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		CustomerEmail:           stripe.String(email),
		PaymentMethodCollection: stripe.String("always"),
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription session: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"session_id": sess.ID,
		"price_id":   priceID,
	}).Info("Created Stripe subscription session")

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// CancelSubscription cancels a subscription at the gateway immediately.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
	}

	c.logger.WithField("subscription_id", subscriptionID).Info("Cancelled Stripe subscription")
	return nil
}
