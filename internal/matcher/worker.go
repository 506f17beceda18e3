package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"teller/pkg/logging"
)

// Status classifies a metering result.
type Status string

const (
	StatusNoPaymentRequired Status = "no_payment_required"
	StatusPaymentRequired   Status = "payment_required"
	StatusError             Status = "error"
)

// Request is one unit of metering work.
type Request struct {
	Username string
	Language string
	Title    string
	Text     string
	Level    int
}

// Result is what a worker hands back to the waiting caller. Amount is only
// meaningful for StatusPaymentRequired; SentenceCount for the no-payment case.
type Result struct {
	Status        Status
	SentenceCount int
	Amount        decimal.Decimal
	Message       string
}

var (
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("metering pool stopped")
	// ErrQueueFull is returned when the work queue cannot take another task.
	ErrQueueFull = errors.New("metering queue full")
)

// Handle is the caller's side of a submitted task. The result is delivered
// exactly once; Wait blocks until then or until the caller's context expires.
type Handle struct {
	result chan Result
}

// Wait blocks for the task result. A context error does not cancel the task;
// it keeps running to completion (there is no mid-flight cancellation).
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-h.result:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type job struct {
	req    Request
	handle *Handle
}

// Pool runs metering tasks on a fixed set of workers fed by a buffered queue.
// Submissions are independent; no ordering holds between two tasks.
type Pool struct {
	policy PricingPolicy
	logger logging.Logger
	queue  chan job

	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(workers, queueSize int, policy PricingPolicy, logger logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	p := &Pool{
		policy: policy,
		logger: logger,
		queue:  make(chan job, queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Submit enqueues a task and returns a handle immediately. The caller blocks
// on Handle.Wait, never on Submit (a full queue fails fast instead).
func (p *Pool) Submit(req Request) (*Handle, error) {
	// The read lock keeps Stop from closing the queue mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrPoolStopped
	}

	h := &Handle{result: make(chan Result, 1)}
	select {
	case p.queue <- job{req: req, handle: h}:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// Stop drains and stops the workers. Tasks already queued still complete.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.queue)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		j.handle.result <- p.run(j.req)
	}
}

// run executes counting and pricing for one request. Any fault, panic
// included, becomes a StatusError result: the worker boundary never lets an
// internal failure reach the caller as anything but data.
func (p *Pool) run(req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logging.Fields{
				"panic":    r,
				"username": req.Username,
				"language": req.Language,
			}).Error("Metering task panicked")
			res = Result{Status: StatusError, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	count := CountSentences(req.Text, req.Language)
	required, amount := p.policy.Evaluate(req.Level, count)

	p.logger.WithFields(logging.Fields{
		"username":       req.Username,
		"language":       req.Language,
		"title":          req.Title,
		"level":          req.Level,
		"sentence_count": count,
		"policy":         p.policy.Name(),
		"required":       required,
	}).Debug("Metering task finished")

	if required {
		return Result{
			Status:        StatusPaymentRequired,
			SentenceCount: count,
			Amount:        amount,
			Message:       "Payment is required.",
		}
	}
	return Result{
		Status:        StatusNoPaymentRequired,
		SentenceCount: count,
		Message:       "No payment required.",
	}
}
