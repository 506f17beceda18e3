package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"teller/internal/ledger"
	"teller/internal/stripe"
	"teller/pkg/logging"
	"teller/pkg/models"
)

// fakeGateway records calls and returns canned sessions.
type fakeGateway struct {
	paymentCalls   int
	subscribeCalls int
	cancelCalls    int
	cancelledID    string
	failCancel     bool
	failPayment    bool
}

func (g *fakeGateway) CreatePaymentSession(ctx context.Context, currency, title string, amount decimal.Decimal) (*stripe.Session, error) {
	g.paymentCalls++
	if g.failPayment {
		return nil, fmt.Errorf("gateway unavailable")
	}
	return &stripe.Session{ID: "cs_fake_1", URL: "https://checkout.example/cs_fake_1"}, nil
}

func (g *fakeGateway) CreateSubscriptionSession(ctx context.Context, email, priceID string) (*stripe.Session, error) {
	g.subscribeCalls++
	return &stripe.Session{ID: "cs_fake_sub", URL: "https://checkout.example/cs_fake_sub"}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	g.cancelCalls++
	g.cancelledID = subscriptionID
	if g.failCancel {
		return fmt.Errorf("gateway unavailable")
	}
	return nil
}

func newCheckoutTestServer(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *fakeGateway) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.NewLogger()
	gateway := &fakeGateway{}
	h := NewCheckoutHandlers(ledger.NewStore(db, logger), gateway, logger)

	router := gin.New()
	router.POST("/checkout/session", h.CreateSession)
	router.POST("/checkout/subscribe", h.Subscribe)
	router.POST("/checkout/subscribe/cancel", h.CancelSubscription)
	router.GET("/checkout/transactions", h.ListTransactions)
	router.GET("/checkout/subscriptions", h.ListSubscriptions)
	return router, mock, gateway
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateSessionRecordsPendingTransaction(t *testing.T) {
	router, mock, gateway := newCheckoutTestServer(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	w := postJSON(router, "/checkout/session", `{"currency":"usd","title":"Report","amount":"10.99"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}
	if gateway.paymentCalls != 1 {
		t.Fatalf("expected one gateway call, got %d", gateway.paymentCalls)
	}

	var resp models.CheckoutResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.URL != "https://checkout.example/cs_fake_1" {
		t.Errorf("url = %q", resp.URL)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateSessionRejectsNonPositiveAmount(t *testing.T) {
	router, _, gateway := newCheckoutTestServer(t)

	w := postJSON(router, "/checkout/session", `{"currency":"usd","title":"Report","amount":"-5"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if gateway.paymentCalls != 0 {
		t.Fatal("gateway must not be called for invalid input")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	router, _, gateway := newCheckoutTestServer(t)

	w := postJSON(router, "/checkout/session", `{"currency":"usd"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var resp models.ValidationErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := resp.Fields["Title"]; !ok {
		t.Errorf("expected a field error for Title, got %v", resp.Fields)
	}
	if gateway.paymentCalls != 0 {
		t.Fatal("gateway must not be called for invalid input")
	}
}

func TestCreateSessionGatewayFailure(t *testing.T) {
	router, mock, gateway := newCheckoutTestServer(t)
	gateway.failPayment = true

	w := postJSON(router, "/checkout/session", `{"currency":"usd","title":"Report","amount":"10"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	// No transaction may be written when the gateway call failed.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubscribeRejectsBadEmail(t *testing.T) {
	router, _, gateway := newCheckoutTestServer(t)

	w := postJSON(router, "/checkout/subscribe", `{"email":"not-an-email","priceId":"price_1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if gateway.subscribeCalls != 0 {
		t.Fatal("gateway must not be called for invalid input")
	}
}

func TestSubscribeRecordsAmountlessTransaction(t *testing.T) {
	router, mock, gateway := newCheckoutTestServer(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	w := postJSON(router, "/checkout/subscribe", `{"email":"alice@example.com","priceId":"price_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}
	if gateway.subscribeCalls != 1 {
		t.Fatalf("expected one gateway call, got %d", gateway.subscribeCalls)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCancelSubscriptionUnknownIDSkipsGateway(t *testing.T) {
	router, mock, gateway := newCheckoutTestServer(t)

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs("sub_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := postJSON(router, "/checkout/subscribe/cancel", `{"subscriptionId":"sub_missing"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if gateway.cancelCalls != 0 {
		t.Fatal("gateway must not be called when the subscription is unknown")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func subscriptionRow(subscriptionID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_email", "stripe_subscription_id", "stripe_customer_id", "stripe_price_id",
		"paid_amount", "active", "start_date", "end_date", "created_at", "updated_at",
	}).AddRow("9be6ef45-3a70-4ad6-a374-9d6f1a20c8b1", "alice@example.com", subscriptionID,
		"cus_1", "price_1", "25.00", true, now, now.Add(30*24*time.Hour), now, now)
}

func TestCancelSubscriptionDeactivatesAfterGateway(t *testing.T) {
	router, mock, gateway := newCheckoutTestServer(t)

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs("sub_1").
		WillReturnRows(subscriptionRow("sub_1"))
	mock.ExpectExec("UPDATE subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(router, "/checkout/subscribe/cancel", `{"subscriptionId":"sub_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}
	if gateway.cancelledID != "sub_1" {
		t.Errorf("gateway cancelled %q, want sub_1", gateway.cancelledID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCancelSubscriptionGatewayFailureKeepsRow(t *testing.T) {
	router, mock, gateway := newCheckoutTestServer(t)
	gateway.failCancel = true

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs("sub_1").
		WillReturnRows(subscriptionRow("sub_1"))

	w := postJSON(router, "/checkout/subscribe/cancel", `{"subscriptionId":"sub_1"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	// The local row stays active when the gateway rejected the cancellation.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListTransactions(t *testing.T) {
	router, mock, _ := newCheckoutTestServer(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "payment_id", "currency", "amount", "gateway", "status", "created_at", "updated_at",
	}).AddRow("id-1", nil, "cs_1", "usd", "10.99", "stripe", "completed", now, now)
	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/checkout/transactions?limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Transactions) != 1 || resp.Transactions[0].PaymentID != "cs_1" {
		t.Errorf("unexpected transactions: %+v", resp.Transactions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
