package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"teller/internal/matcher"
	"teller/pkg/logging"
	"teller/pkg/models"
)

// MatcherHandlers serves POST /matcher. Each request is handed to the worker
// pool and the HTTP goroutine blocks on the task's handle, so the caller sees
// a synchronous response over an asynchronous execution.
type MatcherHandlers struct {
	pool    *matcher.Pool
	logger  logging.Logger
	timeout time.Duration
	tasks   *prometheus.CounterVec
}

// MatcherHandlersConfig configures MatcherHandlers. Timeout bounds the wait
// for a worker result; zero means 30 seconds. Tasks is an optional counter
// labeled (status).
type MatcherHandlersConfig struct {
	Pool    *matcher.Pool
	Logger  logging.Logger
	Timeout time.Duration
	Tasks   *prometheus.CounterVec
}

func NewMatcherHandlers(cfg MatcherHandlersConfig) *MatcherHandlers {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MatcherHandlers{
		pool:    cfg.Pool,
		logger:  cfg.Logger,
		timeout: timeout,
		tasks:   cfg.Tasks,
	}
}

// Match is POST /matcher.
func (h *MatcherHandlers) Match(c *gin.Context) {
	var req models.MatcherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validationError(err))
		return
	}

	handle, err := h.pool.Submit(matcher.Request{
		Username: req.Username,
		Language: req.Language,
		Title:    req.Title,
		Text:     req.Text,
		Level:    *req.Level,
	})
	if errors.Is(err, matcher.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "metering queue full, try again later"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to submit metering task")
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "metering unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	result, err := handle.Wait(ctx)
	if err != nil {
		h.logger.WithError(err).WithField("username", req.Username).Warn("Gave up waiting for metering result")
		c.JSON(http.StatusGatewayTimeout, models.ErrorResponse{Error: "metering timed out"})
		return
	}

	h.countTask(string(result.Status))

	switch result.Status {
	case matcher.StatusError:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: result.Message})
	case matcher.StatusPaymentRequired:
		amount := result.Amount
		c.JSON(http.StatusOK, models.MatcherResponse{
			Message:       result.Message,
			Status:        string(result.Status),
			SentenceCount: result.SentenceCount,
			Amount:        &amount,
		})
	default:
		c.JSON(http.StatusOK, models.MatcherResponse{
			Message:       result.Message,
			Status:        string(result.Status),
			SentenceCount: result.SentenceCount,
		})
	}
}

func (h *MatcherHandlers) countTask(status string) {
	if h.tasks == nil {
		return
	}
	h.tasks.WithLabelValues(status).Inc()
}
