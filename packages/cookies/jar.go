// Package cookies defines the cookie-jar capability consumed by the HTTP
// client and an in-memory implementation.
package cookies

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"
)

// Jar is the cookie capability of the request engine.
type Jar interface {
	// CookieStringForURL returns the Cookie header value for rawURL.
	CookieStringForURL(rawURL string) string
	// SaveCookies stores every Set-Cookie header of a response from rawURL.
	SaveCookies(rawURL string, headers http.Header)
	ShouldStoreCookies() bool
	ShouldSendCookies() bool
}

// MemoryJar is a Jar backed by net/http/cookiejar with public-suffix
// aware domain matching.
type MemoryJar struct {
	jar   *cookiejar.Jar
	store atomic.Bool
	send  atomic.Bool
}

// NewMemoryJar creates a jar with both store and send enabled.
func NewMemoryJar() (*MemoryJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	j := &MemoryJar{jar: jar}
	j.store.Store(true)
	j.send.Store(true)
	return j, nil
}

// SetPolicy toggles storing and sending.
func (j *MemoryJar) SetPolicy(store, send bool) {
	j.store.Store(store)
	j.send.Store(send)
}

func (j *MemoryJar) ShouldStoreCookies() bool { return j.store.Load() }

func (j *MemoryJar) ShouldSendCookies() bool { return j.send.Load() }

func (j *MemoryJar) CookieStringForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	cookies := j.jar.Cookies(u)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (j *MemoryJar) SaveCookies(rawURL string, headers http.Header) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	cookies := (&http.Response{Header: headers}).Cookies()
	if len(cookies) == 0 {
		return
	}
	j.jar.SetCookies(u, cookies)
}
