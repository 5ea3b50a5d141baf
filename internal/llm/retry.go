package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// errTransient tags an error withRetry may try again. The REST transport
// wraps retryable HTTP statuses with it explicitly; the Vertex SDK's gRPC
// errors expose no sentinel to wrap, so those are recognized by status
// text in isRetryable instead. Either way the two transports end up with
// the same retry surface: rate limiting and momentary unavailability
// retry, auth and malformed-request failures surface immediately.
var errTransient = errors.New("transient provider error")

const (
	maxAttempts = 4
	baseBackoff = 400 * time.Millisecond
	maxBackoff  = 4 * time.Second
)

// backoffDelay doubles per attempt with +/-25% jitter, so a burst of
// rate-limited parallel-phase calls does not re-collide on the retry.
func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := 0.75 + rand.Float64()/2
	return time.Duration(float64(d) * jitter)
}

// isRetryable reports whether err is a rate-limit or transient-availability
// failure on either transport: the REST path tags these with errTransient
// at the status-code branch, the SDK path surfaces gRPC status text
// (RESOURCE_EXHAUSTED for rate limits, Unavailable for flapping backends).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errTransient) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "Unavailable") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit")
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// withRetry runs fn up to maxAttempts times with jittered backoff between
// tries. Only unary calls go through here: a stream is never retried, not
// even on connect, because the caller may already have consumed tokens by
// the time the error channel reports a failure, and replaying a
// partially-delivered answer would duplicate output.
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err = fn()
		if err == nil || !isRetryable(err) {
			return result, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := backoffDelay(attempt)
		slog.Warn("llm call rate limited, backing off",
			"operation", operation,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("llm.withRetry: %s: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}

	var zero T
	slog.Error("llm call retries exhausted", "operation", operation, "attempts", maxAttempts)
	return zero, fmt.Errorf("llm.withRetry: %s: %w: retries exhausted after %d attempts", operation, ErrProviderUnavailable, maxAttempts)
}
