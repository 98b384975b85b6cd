package executor

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for errors.Is.
var (
	// ErrDeadlineExceeded matches every error caused by the retry budget running
	// out, including *BudgetWaitExceededError.
	ErrDeadlineExceeded = errors.New("retry budget exceeded")

	// ErrBudgetWaitExceeded matches *BudgetWaitExceededError.
	ErrBudgetWaitExceeded = errors.New("server requested wait exceeds retry budget")

	// ErrAttemptsExhausted is wrapped around the last transient error when
	// every attempt has been used.
	ErrAttemptsExhausted = errors.New("max attempts reached")
)

// previewLimit is the number of response body bytes kept in error previews.
const previewLimit = 200

func preview(body []byte) string {
	if len(body) > previewLimit {
		body = body[:previewLimit]
	}
	return string(body)
}

// TransientRequestError is a retryable failure: a transport error, HTTP 429
// or HTTP 5xx. It only surfaces once retries or the budget are exhausted.
type TransientRequestError struct {
	// Attempt is the 1-based attempt that failed.
	Attempt int

	// StatusCode is the HTTP status, or 0 for a transport failure.
	StatusCode int

	// RetryAfter is the server-requested wait, if any.
	RetryAfter time.Duration

	// BodyPreview is the start of the response body.
	BodyPreview string

	// Cause is the transport error, if any.
	Cause error
}

// Error implements the error interface.
func (e *TransientRequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("attempt %d: transport error: %v", e.Attempt, e.Cause)
	}
	return fmt.Sprintf("attempt %d: HTTP %d %s", e.Attempt, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap returns the underlying error for error chain support.
func (e *TransientRequestError) Unwrap() error {
	return e.Cause
}

// NonRetryableRequestError is an HTTP 4xx (other than 429) or other
// unexpected status. It is returned after the first attempt.
type NonRetryableRequestError struct {
	// StatusCode is the HTTP status.
	StatusCode int

	// BodyPreview is at most the first 200 bytes of the response body.
	BodyPreview string
}

// Error implements the error interface.
func (e *NonRetryableRequestError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.BodyPreview)
}

// BudgetWaitExceededError is returned when a server's Retry-After exceeds the
// remaining budget. The executor does not sleep in that case.
type BudgetWaitExceededError struct {
	// RetryAfter is the wait the server asked for.
	RetryAfter time.Duration

	// Remaining is the budget left when the response arrived.
	Remaining time.Duration

	// StatusCode is the HTTP status carrying the Retry-After.
	StatusCode int
}

// Error implements the error interface.
func (e *BudgetWaitExceededError) Error() string {
	return fmt.Sprintf("HTTP %d asked to retry after %s but only %s of budget remains",
		e.StatusCode, e.RetryAfter, e.Remaining.Round(time.Millisecond))
}

// Unwrap makes the error match both ErrBudgetWaitExceeded and ErrDeadlineExceeded.
func (e *BudgetWaitExceededError) Unwrap() []error {
	return []error{ErrBudgetWaitExceeded, ErrDeadlineExceeded}
}

// DeadlineExceededError is returned when the budget runs out before an
// attempt can start or before a backoff sleep would finish.
type DeadlineExceededError struct {
	// Budget is the total retry budget of the call.
	Budget time.Duration

	// Attempts is the number of attempts made.
	Attempts int

	// LastErr is the last transient failure, if any.
	LastErr error
}

// Error implements the error interface.
func (e *DeadlineExceededError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("retry budget %s exceeded after %d attempts: %v", e.Budget, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("retry budget %s exceeded after %d attempts", e.Budget, e.Attempts)
}

// Unwrap returns ErrDeadlineExceeded and the last transient error.
func (e *DeadlineExceededError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrDeadlineExceeded}
	}
	return []error{ErrDeadlineExceeded, e.LastErr}
}

// DecodeError is returned when a 2xx response body is not valid JSON for the
// requested target. It is not retried.
type DecodeError struct {
	// BodyPreview is the start of the response body.
	BodyPreview string

	// Cause is the decoder error.
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a transient failure a caller might
// reasonably retry later, for example against another provider.
func IsRetryable(err error) bool {
	var transient *TransientRequestError
	if errors.As(err, &transient) {
		return true
	}
	var wait *BudgetWaitExceededError
	return errors.As(err, &wait)
}

// CanceledError is returned when the caller's context ends the call. It
// unwraps to the context error.
type CanceledError struct {
	// Attempts is the number of attempts started before cancellation.
	Attempts int

	// Dispatched is true once any request reached the transport, whether or
	// not a response came back.
	Dispatched bool

	// Cause is ctx.Err().
	Cause error
}

// Error implements the error interface.
func (e *CanceledError) Error() string {
	if !e.Dispatched {
		return fmt.Sprintf("call canceled before dispatch: %v", e.Cause)
	}
	return fmt.Sprintf("call canceled after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap returns the context error.
func (e *CanceledError) Unwrap() error {
	return e.Cause
}

// Dispatched reports whether err comes from a call that sent at least one
// request to the backend. Errors not produced by the executor report false.
func Dispatched(err error) bool {
	var (
		canceled     *CanceledError
		deadline     *DeadlineExceededError
		transient    *TransientRequestError
		nonRetryable *NonRetryableRequestError
		wait         *BudgetWaitExceededError
		decode       *DecodeError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &canceled):
		return canceled.Dispatched
	case errors.As(err, &deadline):
		return deadline.Attempts > 0
	case errors.As(err, &transient), errors.As(err, &nonRetryable),
		errors.As(err, &wait), errors.As(err, &decode):
		return true
	default:
		return errors.Is(err, ErrAttemptsExhausted)
	}
}
