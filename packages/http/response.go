package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// Response is the terminal response of a logical request.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	Headers    http.Header
	Body       []byte
	// URL is the address of the last hop.
	URL string
	// ResponseTime is the duration of the last hop.
	ResponseTime time.Duration
	// TotalTime spans every hop of the logical request.
	TotalTime time.Duration
	Redirects int
	RequestID string
	Timeline  []timeline.Entry
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

func (r *Response) BodyJSON() (any, error) {
	var result any
	if err := json.Unmarshal(r.Body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	ct := r.ContentType()
	return strings.Contains(ct, "application/json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsRedirect() bool {
	return isRedirect(r.StatusCode)
}

func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

// ResponseTimeMs returns the last hop duration in milliseconds.
func (r *Response) ResponseTimeMs() int64 {
	return r.ResponseTime.Milliseconds()
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
