package remedy

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable is returned when the remediation service could not be
// reached within the network retry budget. The orchestrator records it as a
// failed attempt rather than aborting the run.
var ErrUnavailable = errors.New("remediation service unavailable")

// FatalError marks a response that retrying cannot fix, such as rejected
// credentials or an unknown model. It aborts the run.
type FatalError struct {
	StatusCode int
	Err        error
}

// Error implements error.
func (e *FatalError) Error() string {
	return "remediation service rejected request: " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is, or wraps, a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classify returns a *FatalError for non-retryable HTTP failures and nil for
// everything that may succeed on retry (429, 5xx, transport errors and
// per-call timeouts).
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return nil
	}
	if status == 0 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return nil
	}
	return &FatalError{StatusCode: status, Err: err}
}
