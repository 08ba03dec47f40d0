package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/ethr-ai/noema/internal/model"
)

// ErrExhausted marks a call that failed after the full retry budget. The
// dissonance engine maps it onto fallback behavior instead of an error.
var ErrExhausted = errors.New("llm: retries exhausted")

// APIError is a non-2xx response from an external API.
type APIError struct {
	API    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: %s: status %d", e.API, e.Status)
	}
	return fmt.Sprintf("llm: %s: status %d: %s", e.API, e.Status, e.Body)
}

// retriable separates transient failures from permanent ones. Auth and
// malformed-request errors never improve with retries.
func retriable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// http.Client wraps connection failures in *url.Error, which implements
	// net.Error, so the check above catches refused connections and DNS
	// failures too.
	return false
}

// errorType buckets an error for the retry log.
func errorType(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests:
			return "rate_limited"
		case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return "unavailable"
		default:
			return fmt.Sprintf("http_%d", apiErr.Status)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "connection"
	}
	return "other"
}

// RetryRecorder persists retry outcomes. Implemented by the budget meter;
// recording is fire-and-forget on the caller side.
type RetryRecorder interface {
	RecordRetry(ctx context.Context, entry model.RetryLogEntry)
}

// maxBackoff bounds a single backoff sleep. Without it a generous retry
// budget shifts doubled delays into the minutes.
const maxBackoff = 30 * time.Second

// Retrier wraps external calls with jittered exponential backoff. Delays
// double from the base each attempt up to maxBackoff, each scaled by a
// uniform factor in [0.8, 1.2].
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	recorder   RetryRecorder
	logger     *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier with the given budget. recorder may be nil.
func NewRetrier(maxRetries int, baseDelay time.Duration, recorder RetryRecorder, logger *slog.Logger) *Retrier {
	return &Retrier{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		recorder:   recorder,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do runs fn with up to maxRetries retries on transient failures. A recovery
// after at least one retry writes a success retry-log entry; exhaustion
// writes a failure entry and returns an error wrapping ErrExhausted.
func (r *Retrier) Do(ctx context.Context, apiName string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.record(ctx, model.RetryLogEntry{
					APIName:    apiName,
					ErrorType:  "recovered",
					RetryCount: attempt,
					Success:    true,
				})
			}
			return nil
		}
		if !retriable(err) {
			return err
		}
		if attempt == r.maxRetries {
			break
		}
		delay := r.backoff(attempt)
		r.logger.Warn("llm: transient failure, backing off",
			"api", apiName, "attempt", attempt+1, "max_retries", r.maxRetries,
			"delay", delay, "error_type", errorType(err), "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	r.record(ctx, model.RetryLogEntry{
		APIName:    apiName,
		ErrorType:  errorType(err),
		RetryCount: r.maxRetries,
		Success:    false,
	})
	return fmt.Errorf("%w: %s after %d retries: %v", ErrExhausted, apiName, r.maxRetries, err)
}

func (r *Retrier) backoff(attempt int) time.Duration {
	delay := r.baseDelay << attempt
	// The shift overflows past attempt 62; a non-positive result means the
	// doubling ran away and the cap applies.
	if delay <= 0 || delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := 0.8 + 0.4*rand.Float64() //nolint:gosec // jitter doesn't need crypto-strength randomness
	return time.Duration(float64(delay) * jitter)
}

func (r *Retrier) record(ctx context.Context, entry model.RetryLogEntry) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordRetry(ctx, entry)
}
