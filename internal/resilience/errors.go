// Package resilience provides retry and circuit breaker patterns for the
// pipeline's external collaborators (extractor, reference data store,
// ledger), plus the transient/terminal failure classification that decides
// whether an instance retries or moves to Failed.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a collaborator failure that is safe to retry:
// extraction timeout, reference-data store unavailable, ledger temporarily
// down.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) *TransientError {
	return &TransientError{Err: err}
}

// TerminalError wraps a collaborator failure that must not be retried: the
// ledger rejected the record, extraction permanently failed. Terminal
// failures land the instance in Failed with the cause preserved.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as non-retryable.
func Terminal(err error) *TerminalError {
	return &TerminalError{Err: err}
}

// IsTransient reports whether the error (or anything in its chain) is safe
// to retry. An explicit TerminalError always wins over network heuristics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var term *TerminalError
	if errors.As(err, &term) {
		return false
	}

	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped HTTP client errors lose their type; fall back to patterns.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
