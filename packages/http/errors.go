package http

import (
	"fmt"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// RequestError is returned for every failed logical request. It always
// carries the timeline.
type RequestError struct {
	// Status is the HTTP status code, or the transport error code when no
	// response was received.
	Status string
	// Code is the transport error code. Empty when a response exists.
	Code      string
	RequestID string
	Timeline  []timeline.Entry
	Request   *Request
	// Response is the last response, if any.
	Response *Response
	Err      error
}

func (e *RequestError) Error() string {
	if e.Request != nil {
		return fmt.Sprintf("%s %s: %v", e.Request.Method, e.Request.URL, e.Err)
	}
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }
