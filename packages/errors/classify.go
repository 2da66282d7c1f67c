package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Transport error codes surfaced to callers when no HTTP response exists.
const (
	CodeNotFound    = "ENOTFOUND"
	CodeConnRefused = "ECONNREFUSED"
	CodeConnReset   = "ECONNRESET"
	CodeTimedOut    = "ETIMEDOUT"
	CodeConnAborted = "ECONNABORTED"
	CodeTLS         = "EPROTO"
	CodeNetwork     = "ERR_NETWORK"
)

// Classifier is implemented by every error type of this package.
type Classifier interface {
	error
	ErrorType() string
	IsRetryable() bool
}

// Code maps a transport error to one of the Code* constants.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Code
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeTimedOut
		}
		return CodeNotFound
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CodeConnReset
	case errors.Is(err, syscall.ECONNABORTED), errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		return CodeConnAborted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CodeTimedOut
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return CodeConnReset
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return CodeTimedOut
	}

	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
	)
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) || errors.As(err, &verifyErr) {
		return CodeTLS
	}

	return CodeNetwork
}

// AsNetworkError wraps err into a NetworkError unless it already is one.
func AsNetworkError(op string, err error) *NetworkError {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return &NetworkError{Code: Code(err), Op: op, Cause: err}
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
