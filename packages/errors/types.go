package errors

import (
	"fmt"
)

// ConfigurationError is a fatal setup problem: an unreadable CA bundle,
// a bad client certificate, or an invalid proxy definition. It is raised
// before any socket is opened.
type ConfigurationError struct {
	// Key names the offending setting, e.g. "customCaCertificate.filePath"
	Key string

	// Reason explains what is wrong
	Reason string

	// Cause is the underlying error, if any
	Cause error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Key != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Key)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func (e *ConfigurationError) ErrorType() string { return "configuration" }

func (e *ConfigurationError) IsRetryable() bool { return false }

// NetworkError is a transport failure where no HTTP response was received
// (DNS failure, reset, refused, timeout, TLS handshake failure).
type NetworkError struct {
	// Code mirrors the transport error code, e.g. ECONNREFUSED
	Code string

	// Op is the failed operation (dial, read, tls handshake)
	Op string

	Cause error
}

func (e *NetworkError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Code, e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

func (e *NetworkError) ErrorType() string { return "network" }

// IsRetryable reports whether a caller-level retry could help. The engine
// itself never retries.
func (e *NetworkError) IsRetryable() bool {
	switch e.Code {
	case CodeConnReset, CodeTimedOut, CodeConnAborted:
		return true
	}
	return false
}

// HTTPError is a final non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("request failed with status %s", e.Status)
	}
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

func (e *HTTPError) ErrorType() string { return "http" }

func (e *HTTPError) IsRetryable() bool { return e.StatusCode >= 500 }

// RedirectBudgetExceededError is returned when a redirect chain is longer
// than the configured maximum. StatusCode is the status of the last hop.
type RedirectBudgetExceededError struct {
	Max        int
	StatusCode int
}

func (e *RedirectBudgetExceededError) Error() string {
	return fmt.Sprintf("maximum number of redirects exceeded (%d), last status %d", e.Max, e.StatusCode)
}

func (e *RedirectBudgetExceededError) ErrorType() string { return "redirect_budget" }

func (e *RedirectBudgetExceededError) IsRetryable() bool { return false }
