package resiliency

import (
	"errors"
	"fmt"
)

// Kind classifies why an outbound call failed. The set is closed.
type Kind string

const (
	KindCircuitOpen Kind = "circuit_open"
	KindUnreachable Kind = "unreachable"
	KindTimeout     Kind = "timeout"
	KindHTTPStatus  Kind = "http_status"
)

var ErrCircuitOpen = errors.New("circuit open")

// CallError is the error type returned by RetryingClient and the callers
// that gate it behind a CircuitBreaker.
type CallError struct {
	Err        error
	Kind       Kind
	StatusCode int
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("http_%d", e.StatusCode)
	case KindCircuitOpen:
		return ErrCircuitOpen.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *CallError) Unwrap() error {
	if e.Kind == KindCircuitOpen && e.Err == nil {
		return ErrCircuitOpen
	}
	return e.Err
}

// CircuitOpenError is returned without touching the network when the
// breaker is open.
func CircuitOpenError(name string) error {
	return &CallError{Kind: KindCircuitOpen, Err: fmt.Errorf("%w for %s", ErrCircuitOpen, name)}
}

// KindOf classifies err. Errors that are not a *CallError count as
// unreachable.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnreachable
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var ce *CallError
	if errors.As(err, &ce) && ce.Kind == KindHTTPStatus {
		return ce.StatusCode
	}
	return 0
}
