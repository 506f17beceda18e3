package models

import "github.com/shopspring/decimal"

// CheckoutSessionRequest is the body of POST /checkout/session.
type CheckoutSessionRequest struct {
	Currency string          `json:"currency" binding:"required"`
	Title    string          `json:"title" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
}

// CheckoutSubscribeRequest is the body of POST /checkout/subscribe.
type CheckoutSubscribeRequest struct {
	Email   string `json:"email" binding:"required,email"`
	PriceID string `json:"priceId" binding:"required"`
}

// CancelSubscriptionRequest is the body of POST /checkout/subscribe/cancel.
type CancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId" binding:"required"`
}

// CheckoutResponse returns the gateway-hosted checkout URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// MatcherRequest is the body of POST /matcher.
type MatcherRequest struct {
	Username string `json:"username"`
	Level    *int   `json:"level" binding:"required,min=0"`
	Language string `json:"language" binding:"required"`
	Title    string `json:"title" binding:"max=50"`
	Text     string `json:"text" binding:"required"`
}

// MatcherResponse mirrors the metering worker result on the wire.
type MatcherResponse struct {
	Message       string           `json:"message"`
	Status        string           `json:"status"`
	SentenceCount int              `json:"sentence_count,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationErrorResponse carries per-field validation detail.
type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// MessageResponse is a bare success message.
type MessageResponse struct {
	Message string `json:"message"`
}
