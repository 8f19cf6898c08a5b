// Package provider holds what every hosted-model client shares: the Error
// type all of them fail with, the classification of those failures, and the
// Guard that applies rate limiting, circuit breaking and retries around each
// outbound call.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/bdobrica/Kokoro/common/redact"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
	KindCanceled     Kind = "canceled"
	KindAuth         Kind = "auth"
	KindRateLimit    Kind = "rate_limit"
	KindServer       Kind = "server"
	KindBadRequest   Kind = "bad_request"
	KindMalformed    Kind = "malformed"
	KindInvalidInput Kind = "invalid_input"
	KindUnavailable  Kind = "unavailable"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrCanceled     = &Error{Kind: KindCanceled}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrRateLimit    = &Error{Kind: KindRateLimit}
	ErrServer       = &Error{Kind: KindServer}
	ErrBadRequest   = &Error{Kind: KindBadRequest}
	ErrMalformed    = &Error{Kind: KindMalformed}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
)

// Error is returned by every summariser and embedder call that fails.
type Error struct {
	Provider   string // "anthropic", "openai"
	Op         string // "summarise", "embed"
	Kind       Kind
	StatusCode int    // HTTP status when the provider answered, else 0
	Message    string // provider or local message, already redacted
	Err        error
}

func (e *Error) Error() string {
	msg := e.Provider
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + redact.Keys(e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a sentinel with the same Kind, so callers can write
// errors.Is(err, provider.ErrRateLimit).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Provider == "" && t.Op == "" && t.StatusCode == 0 && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Errorf builds an *Error with a formatted, key-redacted message.
func Errorf(providerName, op string, kind Kind, format string, args ...any) *Error {
	return &Error{
		Provider: providerName,
		Op:       op,
		Kind:     kind,
		Message:  redact.Keys(fmt.Sprintf(format, args...)),
	}
}

// FromStatus maps an HTTP status from a provider to a Kind.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == 529: // Anthropic "overloaded"
		return KindServer
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindBadRequest
	default:
		return KindMalformed
	}
}

// Classify turns an arbitrary transport error into an *Error. Errors that
// already are (or wrap) an *Error are returned as that *Error.
func Classify(providerName, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Provider: providerName, Op: op, Kind: kind, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Retryable reports whether err is a transient provider failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer:
		return true
	}
	return false
}

// HTTPStatus is the status an API surface should answer with for kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindCanceled:
		return 499
	default:
		return http.StatusBadGateway
	}
}

// PublicMessage is a user-facing description of err that reveals nothing
// about provider internals or credentials.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindInvalidInput:
		return "the journal entry is empty"
	case KindRateLimit:
		return "too many requests; try again shortly"
	case KindTimeout:
		return "the analysis service timed out"
	case KindCanceled:
		return "the request was cancelled"
	case KindUnavailable:
		return "the analysis service is temporarily unavailable"
	case KindAuth:
		return "the analysis service is misconfigured"
	case KindMalformed:
		return "the analysis service returned an unusable response"
	case "":
		return "internal error"
	default:
		return "the analysis service failed"
	}
}
