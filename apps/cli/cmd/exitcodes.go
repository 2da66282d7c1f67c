package cmd

import (
	"errors"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

// Exit codes for hitwire CLI
const (
	// ExitSuccess indicates every request succeeded
	ExitSuccess = 0

	// ExitHTTPError indicates a non-2xx final response or an exhausted
	// redirect budget
	ExitHTTPError = 1

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitNetworkError indicates a network/connection error
	ExitNetworkError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
	// Silent is set when the error was already printed.
	Silent bool
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// exitCodeFor maps an error to its exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if hwerrors.IsConfiguration(err) {
		return ExitConfigError
	}
	var netErr *hwerrors.NetworkError
	if errors.As(err, &netErr) {
		return ExitNetworkError
	}
	var httpErr *hwerrors.HTTPError
	var budgetErr *hwerrors.RedirectBudgetExceededError
	if errors.As(err, &httpErr) || errors.As(err, &budgetErr) {
		return ExitHTTPError
	}
	return ExitNetworkError
}

// exitPriority orders exit codes so the most severe outcome of several
// runs wins.
func exitPriority(code int) int {
	switch code {
	case ExitConfigError:
		return 3
	case ExitNetworkError:
		return 2
	case ExitHTTPError:
		return 1
	}
	return 0
}
