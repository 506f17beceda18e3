package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"teller/internal/matcher"
	"teller/pkg/logging"
	"teller/pkg/models"
)

func newMatcherTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	logger := logging.NewLogger()
	pool := matcher.NewPool(2, 8, matcher.TierOveragePolicy{Rate: matcher.DefaultRate}, logger)
	t.Cleanup(pool.Stop)

	h := NewMatcherHandlers(MatcherHandlersConfig{Pool: pool, Logger: logger})
	router := gin.New()
	router.POST("/matcher", h.Match)
	return router
}

func TestMatchNoPaymentRequired(t *testing.T) {
	router := newMatcherTestServer(t)

	w := postJSON(router, "/matcher", `{
		"username": "alice",
		"level": 1,
		"language": "English",
		"title": "greeting",
		"text": "Hello. How are you?"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp models.MatcherResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(matcher.StatusNoPaymentRequired) {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.SentenceCount != 2 {
		t.Errorf("sentence count = %d, want 2", resp.SentenceCount)
	}
	if resp.Amount != nil {
		t.Errorf("amount should be omitted, got %s", resp.Amount)
	}
	if resp.Message != "No payment required." {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestMatchPaymentRequired(t *testing.T) {
	router := newMatcherTestServer(t)

	// Level 0 has no allowance, so three sentences are all billable.
	w := postJSON(router, "/matcher", `{
		"username": "bob",
		"level": 0,
		"language": "English",
		"text": "One. Two. Three."
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp models.MatcherResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(matcher.StatusPaymentRequired) {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Amount == nil || resp.Amount.String() != "0.156" {
		t.Errorf("amount = %v, want 0.156", resp.Amount)
	}
	if resp.Message != "Payment is required." {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestMatchValidation(t *testing.T) {
	router := newMatcherTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing level", `{"language": "English", "text": "Hi."}`},
		{"missing text", `{"level": 1, "language": "English"}`},
		{"missing language", `{"level": 1, "text": "Hi."}`},
		{"title too long", `{"level": 1, "language": "English", "text": "Hi.", "title": "` +
			strings.Repeat("a", 51) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/matcher", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (body=%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestMatchLevelZeroIsValid(t *testing.T) {
	router := newMatcherTestServer(t)

	w := postJSON(router, "/matcher", `{"level": 0, "language": "English", "text": "Hi."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("level 0 must pass validation, got %d (body=%s)", w.Code, w.Body.String())
	}
}
