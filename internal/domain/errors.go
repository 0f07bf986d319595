package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderTimeout is returned when a provider call exceeds its timeout.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderInvalidResponse is returned when a provider answers with missing or negative values.
	ErrProviderInvalidResponse = errors.New("provider invalid response")

	// ErrNoProviderAvailable is returned once every provider of a network failed.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrAuthenticationFailed rejects a connection. Not retried.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRegistryInconsistency means the subscription indexes disagree. Programming error.
	ErrRegistryInconsistency = errors.New("registry inconsistency")

	ErrInvalidNetwork      = errors.New("invalid network")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrSlowConsumer        = errors.New("slow consumer")
	ErrStaleSample         = errors.New("stale sample")
	ErrInvalidTransition   = errors.New("invalid connection state transition")
	ErrUnknownProviderKind = errors.New("unknown provider kind")
	ErrInvalidRange        = errors.New("invalid time range")
)

// ProviderError records why a single provider was rejected.
type ProviderError struct {
	Network  string
	Provider string
	Kind     error // ErrProviderTimeout, ErrProviderInvalidResponse or nil for transport errors
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, e.Network, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Reason is a short label for metrics and logs.
func (e *ProviderError) Reason() string {
	switch {
	case errors.Is(e, ErrProviderTimeout):
		return "timeout"
	case errors.Is(e, ErrProviderInvalidResponse):
		return "invalid"
	default:
		return "error"
	}
}

// NoProviderError is returned after all providers of a network failed.
type NoProviderError struct {
	Network  string
	Attempts []*ProviderError
}

func (e *NoProviderError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Provider+": "+a.Err.Error())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s for %s: no providers configured", ErrNoProviderAvailable, e.Network)
	}
	return fmt.Sprintf("%s for %s: [%s]", ErrNoProviderAvailable, e.Network, strings.Join(parts, "; "))
}

func (e *NoProviderError) Is(target error) bool { return target == ErrNoProviderAvailable }

// StaleError accompanies a cached sample served after a failed refetch.
type StaleError struct {
	Network string
	Err     error
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%s for %s: %v", ErrStaleSample, e.Network, e.Err)
}

func (e *StaleError) Unwrap() error { return e.Err }

func (e *StaleError) Is(target error) bool { return target == ErrStaleSample }
