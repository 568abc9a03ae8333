package providers

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FailoverReason categorizes why a provider call failed, so the agent
// driver's retry loop (spec §4.2: base 500ms, cap 8s, N=3) can decide
// whether another attempt is worthwhile.
type FailoverReason string

const (
	FailoverRateLimit  FailoverReason = "rate_limit"
	FailoverAuth       FailoverReason = "auth"
	FailoverTimeout    FailoverReason = "timeout"
	FailoverServer     FailoverReason = "server_error"
	FailoverInvalid    FailoverReason = "invalid_request"
	FailoverOverloaded FailoverReason = "overloaded"
	FailoverUnknown    FailoverReason = "unknown"
)

// IsRetryable reports whether the agent driver's retry loop should attempt
// this request again (spec §4.2, §7).
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServer, FailoverOverloaded:
		return true
	default:
		return false
	}
}

// Error is the error type every Provider.Complete returns on failure. It
// carries enough context for the agent driver to decide retry eligibility
// and for the audit log to record a stable outcome string.
type Error struct {
	Dialect string
	Model   string
	Status  int
	Code    string
	Message string
	Reason  FailoverReason
	Cause   error

	// RetryAfter is the provider-signalled retry delay, when present (spec
	// §4.1 step iii.b: "on 429 ... honor the delay"). Zero means the agent
	// driver's own exponential backoff applies instead.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Dialect + ": " + e.Message
	}
	if e.Cause != nil {
		return e.Dialect + ": " + e.Cause.Error()
	}
	return e.Dialect + ": request failed"
}

func (e *Error) Unwrap() error { return e.Cause }

// wrapError builds an *Error from a raw transport/SDK error, classifying it
// by message heuristics mirrored from the teacher's provider error
// classifier (ClassifyError in the reference implementation).
func wrapError(dialect, model string, cause error) *Error {
	e := &Error{Dialect: dialect, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = classifyMessage(e.Message)
		e.RetryAfter = retryAfterFromMessage(e.Message)
	}
	return e
}

// retryAfterPattern matches the retry-after hint some provider error bodies
// embed in their message text (e.g. "please retry after 2.5s" or
// "retry-after: 30"), since the SDKs used here don't surface the raw HTTP
// header on the error value itself.
var retryAfterPattern = regexp.MustCompile(`(?i)retry[-_ ]after[:\s]+(\d+(?:\.\d+)?)\s*(s|ms|second|seconds)?`)

func retryAfterFromMessage(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return 0
	}
	if m[2] == "ms" {
		return time.Duration(n) * time.Millisecond
	}
	return time.Duration(n * float64(time.Second))
}

func withStatus(e *Error, status int) *Error {
	e.Status = status
	e.Reason = classifyStatus(status)
	return e
}

func classifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailoverInvalid
	case status == 529:
		return FailoverOverloaded
	case status >= 500:
		return FailoverServer
	default:
		return FailoverUnknown
	}
}

func classifyMessage(msg string) FailoverReason {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate_limit") || strings.Contains(m, "rate limit") || strings.Contains(m, "429"):
		return FailoverRateLimit
	case strings.Contains(m, "overloaded") || strings.Contains(m, "529"):
		return FailoverOverloaded
	case strings.Contains(m, "timeout") || strings.Contains(m, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(m, "unauthorized") || strings.Contains(m, "invalid api key") || strings.Contains(m, "401") || strings.Contains(m, "403"):
		return FailoverAuth
	case strings.Contains(m, "internal server") || strings.Contains(m, "bad gateway") || strings.Contains(m, "service unavailable") ||
		strings.Contains(m, "500") || strings.Contains(m, "502") || strings.Contains(m, "503") || strings.Contains(m, "504"):
		return FailoverServer
	default:
		return FailoverUnknown
	}
}

// IsRetryable is the package-level convenience the agent driver's retry
// loop calls against any error a Provider.Complete returns.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason.IsRetryable()
	}
	return classifyMessage(err.Error()).IsRetryable()
}
