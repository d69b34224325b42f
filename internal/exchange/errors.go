package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/raymondclowe/ttslo/pkg/types"
)

// Error is the typed failure taxonomy every exchange call surfaces instead
// of a bare error, so callers can switch on Kind without string-matching.
// It carries enough context (endpoint, upstream message, status, time) for
// both the log line and the classified notification.
type Error struct {
	Kind       types.ExchangeErrorKind
	Endpoint   string
	Message    string
	StatusCode int // 0 if not an HTTP-status failure
	At         time.Time
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %s", e.Endpoint, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Kind, e.Message)
}

// IndexUnavailable reports whether the message is Kraken's "index
// unavailable" trigger-source error, matched case-insensitively.
func (e *Error) IndexUnavailable() bool {
	return strings.Contains(strings.ToLower(e.Message), "index unavailable")
}

// newError builds a classified Error for the given endpoint.
func newError(endpoint string, kind types.ExchangeErrorKind, status int, msg string) *Error {
	return &Error{
		Kind:       kind,
		Endpoint:   endpoint,
		Message:    msg,
		StatusCode: status,
		At:         time.Now().UTC(),
	}
}

// classifyTransportError maps a network-level error (timeout, DNS/TCP
// failure, or a cancelled context) to a Kind without ever reaching an HTTP
// status code.
func classifyTransportError(endpoint string, err error) *Error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(endpoint, types.ErrTimeout, 0, err.Error())
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return newError(endpoint, types.ErrTimeout, 0, err.Error())
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "dial tcp") {
		return newError(endpoint, types.ErrConnection, 0, err.Error())
	}
	return newError(endpoint, types.ErrOther, 0, err.Error())
}

// classifyStatusError maps an HTTP status code plus an optional upstream
// error message to a Kind: 429 is rate limiting, 5xx is a server error,
// anything else is Other.
func classifyStatusError(endpoint string, status int, upstreamMsg string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return newError(endpoint, types.ErrRateLimit, status, upstreamMsg)
	case status >= http.StatusInternalServerError:
		return newError(endpoint, types.ErrServerError, status, upstreamMsg)
	default:
		return newError(endpoint, types.ErrOther, status, upstreamMsg)
	}
}
