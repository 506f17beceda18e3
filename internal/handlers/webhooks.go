package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"teller/internal/ledger"
	"teller/pkg/logging"
	"teller/pkg/models"
)

// ErrMalformedEvent means the webhook body could not be parsed into the
// gateway's event envelope. It is the only processing error surfaced to the
// sender; everything past envelope decoding is acknowledged regardless.
var ErrMalformedEvent = errors.New("malformed webhook event")

// WebhookPayload is the gateway's event envelope. Data.Object stays raw and
// is parsed per event kind.
type WebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// EventKind is the closed set of gateway events the processor mutates state
// for. Everything else is acknowledged and dropped.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.session.completed"
	EventInvoicePaid         EventKind = "invoice.paid"
	EventSubscriptionDeleted EventKind = "customer.subscription.deleted"
)

// ClassifyEvent maps a gateway event type onto an EventKind. The second
// return is false for kinds the processor does not handle.
func ClassifyEvent(eventType string) (EventKind, bool) {
	switch EventKind(eventType) {
	case EventCheckoutCompleted, EventInvoicePaid, EventSubscriptionDeleted:
		return EventKind(eventType), true
	default:
		return "", false
	}
}

type checkoutSessionObject struct {
	ID          string `json:"id"`
	Mode        string `json:"mode"` // "payment" or "subscription"
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
}

type invoiceObject struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer"`
	SubscriptionID string `json:"subscription"`
	CustomerEmail  string `json:"customer_email"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	PeriodStart    int64  `json:"period_start"`
	PeriodEnd      int64  `json:"period_end"`
	Lines          struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type subscriptionObject struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer"`
	Status     string `json:"status"`
}

// WebhookProcessor applies gateway events to the ledger. All mutations are
// idempotent so redelivered and out-of-order events converge on the same
// final state.
type WebhookProcessor struct {
	store         *ledger.Store
	logger        logging.Logger
	signingSecret string
	events        *prometheus.CounterVec
}

// WebhookProcessorConfig configures a WebhookProcessor. SigningSecret is
// optional; when empty, signature verification is skipped. Events is an
// optional counter labeled (kind, outcome).
type WebhookProcessorConfig struct {
	Store         *ledger.Store
	Logger        logging.Logger
	SigningSecret string
	Events        *prometheus.CounterVec
}

func NewWebhookProcessor(cfg WebhookProcessorConfig) *WebhookProcessor {
	return &WebhookProcessor{
		store:         cfg.Store,
		logger:        cfg.Logger,
		signingSecret: cfg.SigningSecret,
		events:        cfg.Events,
	}
}

// verifySignature checks the gateway's signature header
// (t=timestamp,v1=hexdigest) with HMAC-SHA256 over "timestamp.payload".
func (p *WebhookProcessor) verifySignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, element := range strings.Split(signature, ",") {
		parts := strings.SplitN(element, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "t":
			timestamp = parts[1]
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	timestampInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix()-timestampInt > 300 {
		p.logger.WithField("timestamp", timestampInt).Warn("Webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(p.signingSecret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, provided := range signatures {
		if hmac.Equal([]byte(expected), []byte(provided)) {
			return true
		}
	}
	return false
}

// HandleWebhook is POST /checkout/webhook. Once the envelope parses, the
// response is 200 no matter what happened per event: the gateway retries
// indefinitely on non-2xx, so per-event faults are logged and swallowed
// rather than turned into retry storms.
func (p *WebhookProcessor) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read body"})
		return
	}

	if p.signingSecret != "" {
		if !p.verifySignature(body, c.GetHeader("Stripe-Signature")) {
			p.logger.Warn("Webhook signature verification failed")
			p.countEvent("unknown", "signature_failed")
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid signature"})
			return
		}
	}

	payload, err := decodeEnvelope(body)
	if err != nil {
		p.logger.WithError(err).Warn("Rejected webhook envelope")
		p.countEvent("unknown", "malformed")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid payload"})
		return
	}

	p.Process(c.Request.Context(), payload)
	c.JSON(http.StatusOK, models.MessageResponse{Message: "ok"})
}

// decodeEnvelope parses the raw body into the event envelope. A body that
// does not carry an event id and type is not an event at all and fails with
// ErrMalformedEvent; everything downstream of this point is acknowledged.
func decodeEnvelope(body []byte) (WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if payload.ID == "" || payload.Type == "" {
		return payload, fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}
	return payload, nil
}

// Process classifies and applies one event. Faults past envelope decoding
// never propagate; they are logged here and the caller acknowledges anyway.
func (p *WebhookProcessor) Process(ctx context.Context, payload WebhookPayload) {
	kind, ok := ClassifyEvent(payload.Type)
	if !ok {
		p.logger.WithField("event_type", payload.Type).Debug("Ignoring unhandled event type")
		p.countEvent(payload.Type, "ignored")
		return
	}

	fresh, err := p.store.MarkEventProcessed(ctx, "stripe", payload.ID, payload.Type)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to record webhook event id")
	} else if !fresh {
		p.logger.WithField("event_id", payload.ID).Debug("Webhook event already processed, skipping")
		p.countEvent(payload.Type, "duplicate")
		return
	}

	switch kind {
	case EventCheckoutCompleted:
		err = p.handleCheckoutCompleted(ctx, payload.Data.Object)
	case EventInvoicePaid:
		err = p.handleInvoicePaid(ctx, payload.Data.Object)
	case EventSubscriptionDeleted:
		err = p.handleSubscriptionDeleted(ctx, payload.Data.Object)
	}

	if err != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"event_id":   payload.ID,
			"event_type": payload.Type,
		}).Error("Failed to process webhook event")
		p.countEvent(payload.Type, "error")
		return
	}
	p.countEvent(payload.Type, "processed")
}

// handleCheckoutCompleted completes the pending transaction matching the
// session id, filling the amount from the session total when the row has
// none (subscription-mode sessions are created without one). Subscription
// rows are not touched here; invoice.paid owns their lifecycle.
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, object json.RawMessage) error {
	var obj checkoutSessionObject
	if err := json.Unmarshal(object, &obj); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}
	if obj.ID == "" {
		return fmt.Errorf("checkout session event has no id")
	}

	amount := decimal.NullDecimal{
		Decimal: minorUnitsToAmount(obj.AmountTotal),
		Valid:   obj.AmountTotal > 0,
	}
	updated, err := p.store.CompleteTransaction(ctx, obj.ID, amount)
	if err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	if !updated {
		p.logger.WithField("session_id", obj.ID).Debug("No pending transaction for session, nothing to complete")
		return nil
	}
	p.logger.WithFields(logging.Fields{
		"session_id": obj.ID,
		"mode":       obj.Mode,
		"currency":   obj.Currency,
	}).Info("Completed transaction from checkout session")
	return nil
}

// handleInvoicePaid upserts the subscription for the invoice's subscription
// id with the paid amount and billing period. The upsert creates the row if
// the invoice arrived before its checkout session.
func (p *WebhookProcessor) handleInvoicePaid(ctx context.Context, object json.RawMessage) error {
	var obj invoiceObject
	if err := json.Unmarshal(object, &obj); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if obj.SubscriptionID == "" {
		p.logger.WithField("invoice_id", obj.ID).Debug("Invoice without subscription, skipping")
		return nil
	}

	fields := models.SubscriptionFields{
		StripeCustomerID: obj.CustomerID,
		PaidAmount: decimal.NullDecimal{
			Decimal: minorUnitsToAmount(obj.AmountPaid),
			Valid:   true,
		},
	}
	periodStart, periodEnd := obj.PeriodStart, obj.PeriodEnd
	if len(obj.Lines.Data) > 0 {
		line := obj.Lines.Data[0]
		fields.StripePriceID = line.Price.ID
		if line.Period.Start > 0 {
			periodStart, periodEnd = line.Period.Start, line.Period.End
		}
	}
	if periodStart > 0 {
		t := time.Unix(periodStart, 0).UTC()
		fields.StartDate = &t
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		fields.EndDate = &t
	}

	if err := p.store.UpsertSubscriptionByKey(ctx, obj.CustomerEmail, obj.SubscriptionID, fields); err != nil {
		return fmt.Errorf("failed to upsert subscription from invoice: %w", err)
	}

	p.logger.WithFields(logging.Fields{
		"invoice_id":      obj.ID,
		"subscription_id": obj.SubscriptionID,
		"amount_paid":     obj.AmountPaid,
	}).Info("Recorded paid invoice on subscription")
	return nil
}

func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, object json.RawMessage) error {
	var obj subscriptionObject
	if err := json.Unmarshal(object, &obj); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}
	if obj.ID == "" {
		return fmt.Errorf("subscription event has no id")
	}

	err := p.store.DeactivateSubscription(ctx, obj.ID)
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		p.logger.WithField("subscription_id", obj.ID).Debug("No subscription to deactivate, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	p.logger.WithField("subscription_id", obj.ID).Info("Deactivated subscription from gateway event")
	return nil
}

func (p *WebhookProcessor) countEvent(kind, outcome string) {
	if p.events == nil {
		return
	}
	p.events.WithLabelValues(kind, outcome).Inc()
}

// minorUnitsToAmount converts the gateway's integer minor units (cents) to a
// major-unit decimal.
func minorUnitsToAmount(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}
