// Package dispatcherr classifies what the Executor should do about a failed candidate attempt.
// Retry decisions in the source rely on raising typed exceptions; here a Kind travels alongside
// a normally-wrapped error instead of a parallel exception hierarchy.
package dispatcherr

import (
	"net/http"

	"github.com/Laisky/errors/v2"
)

// Kind classifies a dispatch failure into the action the Executor takes next (§7).
type Kind int

const (
	// Unclassified is the zero value; callers must not leave an error in this state.
	Unclassified Kind = iota
	// RetryableTransient covers connection resets, TLS failures, DNS, 502/503/504, and empty
	// streams: advance to the next candidate, no cooldown unless the classifier also signals one.
	RetryableTransient
	// RetryableRateLimit covers 429/529: advance, with a cooldown per §4.5.2.
	RetryableRateLimit
	// RetryableAuth covers 401: invalidate the OAuth cache, cooldown 60s, advance.
	RetryableAuth
	// KeyFatal covers 402/403/account-disabled 400: long cooldown, advance.
	KeyFatal
	// ClientFatal covers any other 4xx and validation failures: surface to the client, no retry.
	ClientFatal
	// ServerFatal covers internal bugs and unrecoverable store errors: 500 to the client.
	ServerFatal
	// Cancelled covers a client disconnect.
	Cancelled
	// Concurrency covers pool/session/concurrency-limit rejections made before any upstream call.
	Concurrency
)

// String renders a Kind for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case RetryableTransient:
		return "retryable_transient"
	case RetryableRateLimit:
		return "retryable_rate_limit"
	case RetryableAuth:
		return "retryable_auth"
	case KeyFatal:
		return "key_fatal"
	case ClientFatal:
		return "client_fatal"
	case ServerFatal:
		return "server_fatal"
	case Cancelled:
		return "cancelled"
	case Concurrency:
		return "concurrency"
	default:
		return "unclassified"
	}
}

// Retryable reports whether the Executor should advance to the next candidate rather than
// surface the error to the client immediately.
func (k Kind) Retryable() bool {
	switch k {
	case RetryableTransient, RetryableRateLimit, RetryableAuth, KeyFatal:
		return true
	default:
		return false
	}
}

// Error pairs a Kind with the underlying wrapped error and the upstream status code (0 when
// there was none, e.g. a connection error before any bytes were read).
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and the upstream status code, if any.
func New(kind Kind, statusCode int, err error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: err}
}

// ClassifyStatus maps an upstream HTTP status code to a default Kind, per §7. Callers that have
// already matched a more specific rule (account-disabled body pattern, configured keyword) should
// pass that Kind directly instead of calling this.
func ClassifyStatus(statusCode int) Kind {
	switch statusCode {
	case http.StatusUnauthorized: // 401
		return RetryableAuth
	case http.StatusPaymentRequired, http.StatusForbidden: // 402, 403
		return KeyFatal
	case http.StatusTooManyRequests, 529: // 429, 529 (non-standard "overloaded")
		return RetryableRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout: // 502,503,504
		return RetryableTransient
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusLocked, http.StatusTooEarly: // 408,409,423,425
		return RetryableTransient
	}
	if statusCode >= 400 && statusCode < 500 {
		return ClientFatal
	}
	if statusCode >= 500 {
		return RetryableTransient
	}
	return Unclassified
}

// As is a thin re-export of errors.As for callers that want to recover a *Error from a wrapped
// chain without importing both packages.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
