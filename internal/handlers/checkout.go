package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"teller/internal/ledger"
	"teller/internal/stripe"
	"teller/pkg/logging"
	"teller/pkg/models"
)

// Gateway is the payment-gateway surface the checkout handlers need. The
// stripe client implements it; tests substitute a fake.
type Gateway interface {
	CreatePaymentSession(ctx context.Context, currency, title string, amount decimal.Decimal) (*stripe.Session, error)
	CreateSubscriptionSession(ctx context.Context, email, priceID string) (*stripe.Session, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// CheckoutHandlers serves the checkout endpoints: session creation records a
// pending transaction, subscription lifecycle calls go through the gateway
// with the ledger as source of truth.
type CheckoutHandlers struct {
	store   *ledger.Store
	gateway Gateway
	logger  logging.Logger
}

func NewCheckoutHandlers(store *ledger.Store, gateway Gateway, logger logging.Logger) *CheckoutHandlers {
	return &CheckoutHandlers{
		store:   store,
		gateway: gateway,
		logger:  logger,
	}
}

// CreateSession is POST /checkout/session. It creates a one-off payment
// session at the gateway and records a pending transaction keyed by the
// session id; the checkout.session.completed webhook completes it later.
func (h *CheckoutHandlers) CreateSession(c *gin.Context) {
	var req models.CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validationError(err))
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, models.ValidationErrorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"amount": "must be greater than zero"},
		})
		return
	}

	session, err := h.gateway.CreatePaymentSession(c.Request.Context(), req.Currency, req.Title, req.Amount)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create payment session")
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "failed to create checkout session"})
		return
	}

	amount := decimal.NullDecimal{Decimal: req.Amount, Valid: true}
	if _, err := h.store.CreateTransaction(c.Request.Context(), nil, session.ID, req.Currency, "stripe", amount); err != nil {
		h.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to record pending transaction")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to record transaction"})
		return
	}

	h.logger.WithFields(logging.Fields{
		"session_id": session.ID,
		"currency":   req.Currency,
	}).Info("Created checkout session")

	c.JSON(http.StatusOK, models.CheckoutResponse{URL: session.URL})
}

// Subscribe is POST /checkout/subscribe. A pending transaction is recorded
// with no amount; the checkout.session.completed webhook fills it from the
// session total. The subscription row itself is created by invoice.paid.
func (h *CheckoutHandlers) Subscribe(c *gin.Context) {
	var req models.CheckoutSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validationError(err))
		return
	}

	session, err := h.gateway.CreateSubscriptionSession(c.Request.Context(), req.Email, req.PriceID)
	if err != nil {
		h.logger.WithError(err).WithField("email", req.Email).Error("Failed to create subscription session")
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "failed to create subscription session"})
		return
	}

	if _, err := h.store.CreateTransaction(c.Request.Context(), nil, session.ID, "", "stripe", decimal.NullDecimal{}); err != nil {
		h.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to record pending transaction")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to record transaction"})
		return
	}

	h.logger.WithFields(logging.Fields{
		"session_id": session.ID,
		"price_id":   req.PriceID,
	}).Info("Created subscription checkout session")

	c.JSON(http.StatusOK, models.CheckoutResponse{URL: session.URL})
}

// CancelSubscription is POST /checkout/subscribe/cancel. The ledger is
// checked first: an unknown subscription id returns 404 without touching the
// gateway. The local row is deactivated only after the gateway accepts the
// cancellation.
func (h *CheckoutHandlers) CancelSubscription(c *gin.Context) {
	var req models.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validationError(err))
		return
	}

	sub, err := h.store.GetSubscriptionBySubscriptionID(c.Request.Context(), req.SubscriptionID)
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "subscription not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up subscription")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to look up subscription"})
		return
	}

	if err := h.gateway.CancelSubscription(c.Request.Context(), sub.StripeSubscriptionID); err != nil {
		h.logger.WithError(err).WithField("subscription_id", sub.StripeSubscriptionID).Error("Gateway cancellation failed")
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "failed to cancel subscription"})
		return
	}

	if err := h.store.DeactivateSubscription(c.Request.Context(), sub.StripeSubscriptionID); err != nil && !errors.Is(err, ledger.ErrSubscriptionNotFound) {
		h.logger.WithError(err).WithField("subscription_id", sub.StripeSubscriptionID).Error("Failed to deactivate subscription locally")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to deactivate subscription"})
		return
	}

	h.logger.WithField("subscription_id", sub.StripeSubscriptionID).Info("Cancelled subscription")
	c.JSON(http.StatusOK, models.MessageResponse{Message: "subscription cancelled"})
}

// ListTransactions is GET /checkout/transactions.
func (h *CheckoutHandlers) ListTransactions(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	txs, err := h.store.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list transactions")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// ListSubscriptions is GET /checkout/subscriptions.
func (h *CheckoutHandlers) ListSubscriptions(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	subs, err := h.store.ListSubscriptions(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list subscriptions")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list subscriptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// validationError converts a binding failure into a field-keyed error body.
// Non-validator errors (bad JSON) get the generic message only.
func validationError(err error) models.ValidationErrorResponse {
	resp := models.ValidationErrorResponse{Error: "validation failed"}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Fields[fe.Field()] = validationMessage(fe)
		}
	}
	return resp
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "invalid value"
	}
}
