package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrKind is the failure taxonomy surfaced by adapters. The failover loop
// consumes these locally; callers only ever see KindNotFound when every
// source failed and no cached value exists.
type ErrKind string

const (
	KindTimeout     ErrKind = "timeout"
	KindRateLimited ErrKind = "rate_limited"
	KindBadResponse ErrKind = "bad_response"
	KindNotFound    ErrKind = "not_found"
	KindUnknown     ErrKind = "unknown"
)

// FetchError is a classified adapter failure.
type FetchError struct {
	Kind       ErrKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewTimeoutError(cause error) *FetchError {
	return &FetchError{Kind: KindTimeout, Message: "request timed out", Cause: cause}
}

func NewRateLimitedError(statusCode int) *FetchError {
	return &FetchError{Kind: KindRateLimited, StatusCode: statusCode, Message: "rate limit exceeded"}
}

func NewBadResponseError(message string) *FetchError {
	return &FetchError{Kind: KindBadResponse, Message: message}
}

func NewNotFoundError(symbol string) *FetchError {
	return &FetchError{Kind: KindNotFound, Message: fmt.Sprintf("symbol %q unknown to provider", symbol)}
}

// Classify maps an arbitrary adapter error to its kind. Context deadline
// expiry always wins so a slow provider surfaces as a timeout, not as the
// transport error it happened to die with.
func Classify(err error) ErrKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ClassifyStatus maps an HTTP status code to a FetchError, mirroring how
// upstream quote APIs misbehave: 429 is a rate limit, 404 an unknown symbol,
// other 4xx/5xx a bad response.
func ClassifyStatus(statusCode int, symbol string) *FetchError {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitedError(statusCode)
	case statusCode == http.StatusNotFound:
		return NewNotFoundError(symbol)
	default:
		return &FetchError{
			Kind:       KindBadResponse,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status %d", statusCode),
		}
	}
}
