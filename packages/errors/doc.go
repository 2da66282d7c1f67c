// Package errors defines the error taxonomy of the request engine.
//
// Four kinds reach callers:
//   - ConfigurationError: invalid CA/client certificate files or proxy settings
//   - NetworkError: no HTTP response (DNS, reset, refused, timeout, TLS)
//   - HTTPError: a final non-2xx response
//   - RedirectBudgetExceededError: a redirect chain longer than allowed
//
// All of them implement Classifier so callers can layer retry policies.
package errors
