package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
	"github.com/abdul-hamid-achik/hitwire/packages/proxy"
)

// Header is one request header. Requests keep headers as an ordered list
// so duplicates survive.
type Header struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// MultipartField is one part of a multipart/form-data body. A field with
// a Path is a file upload; Path is resolved against the collection path.
type MultipartField struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
}

// IsFile reports whether the field uploads a file.
func (f MultipartField) IsFile() bool {
	return f.Path != ""
}

// ProxySettings are the proxy layers of a request. A nil *ProxySettings
// inherits the client's global policy.
type ProxySettings struct {
	// NoProxy forces a direct connection.
	NoProxy    bool
	Collection proxy.Collection
	Global     proxy.Global
	// System overrides the proxy environment variables when non-nil.
	System *proxy.SystemSettings
}

// TLSSettings are the certificate options of a request.
type TLSSettings struct {
	// SkipVerify disables server certificate validation.
	SkipVerify bool
	// CACertFilePath is a custom PEM bundle.
	CACertFilePath string
	// KeepDefaultCACerts keeps system and root CAs next to the custom bundle.
	KeepDefaultCACerts bool
	// ClientCertificates are matched against each hop's URL.
	ClientCertificates []certs.ClientCertificate
}

// Request is the configuration of one logical request. The client never
// mutates it; redirect hops are derived copies.
type Request struct {
	Method  string
	URL     string
	Headers []Header

	// Body is sent as is.
	Body string
	// JSON, when set, is marshalled and replaces Body.
	JSON any
	// Multipart, when set, replaces Body. The fields are kept so the body
	// can be rebuilt for redirected requests.
	Multipart []MultipartField

	// Timeout bounds each hop. Zero means no deadline beyond the socket
	// inactivity window.
	Timeout time.Duration
	// MaxRedirects is the redirect budget. NewRequest sets
	// DefaultMaxRedirects; zero follows none.
	MaxRedirects int
	// CollectionPath resolves relative certificate and upload paths.
	CollectionPath string

	Proxy *ProxySettings
	TLS   TLSSettings
}

// NewRequest creates a request with the default redirect budget.
func NewRequest(method, requestURL string) *Request {
	return &Request{
		Method:       method,
		URL:          requestURL,
		MaxRedirects: DefaultMaxRedirects,
	}
}

// SetHeader appends a header.
func (r *Request) SetHeader(key, value string) *Request {
	r.Headers = append(r.Headers, Header{Key: key, Value: value})
	return r
}

func (r *Request) SetBody(body string) *Request {
	r.Body = body
	return r
}

func (r *Request) SetJSON(v any) *Request {
	r.JSON = v
	return r
}

func (r *Request) SetMultipart(fields ...MultipartField) *Request {
	r.Multipart = fields
	return r
}

func (r *Request) SetTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

func (r *Request) SetMaxRedirects(n int) *Request {
	r.MaxRedirects = n
	return r
}

// Header returns the first value of key, matched case-insensitively.
func (r *Request) Header(key string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// payload is the replayable body of a hop.
type payload struct {
	raw       []byte
	pretty    string
	multipart []MultipartField
}

func (p *payload) empty() bool {
	return p == nil || (len(p.raw) == 0 && len(p.multipart) == 0)
}

// describe renders the body for the timeline.
func (p *payload) describe() string {
	if p.empty() {
		return ""
	}
	if len(p.multipart) > 0 {
		parts := make([]string, len(p.multipart))
		for i, f := range p.multipart {
			if f.IsFile() {
				parts[i] = f.Name + "=@" + f.Path
			} else {
				parts[i] = f.Name + "=" + f.Value
			}
		}
		return strings.Join(parts, "\n")
	}
	if p.pretty != "" {
		return p.pretty
	}
	return string(p.raw)
}

func newPayload(r *Request) (*payload, error) {
	switch {
	case len(r.Multipart) > 0:
		fields := make([]MultipartField, len(r.Multipart))
		copy(fields, r.Multipart)
		return &payload{multipart: fields}, nil
	case r.JSON != nil:
		raw, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, &hwerrors.ConfigurationError{Key: "body.json", Reason: "body cannot be encoded as JSON", Cause: err}
		}
		pretty, _ := json.MarshalIndent(r.JSON, "", "  ")
		return &payload{raw: raw, pretty: string(pretty)}, nil
	case r.Body != "":
		return &payload{raw: []byte(r.Body)}, nil
	}
	return nil, nil
}

// hop is one request of a redirect chain.
type hop struct {
	method  string
	url     string
	headers []Header
	body    *payload
}

func firstHop(r *Request) (*hop, error) {
	body, err := newPayload(r)
	if err != nil {
		return nil, err
	}
	headers := make([]Header, len(r.Headers))
	copy(headers, r.Headers)
	if r.JSON != nil && len(r.Multipart) == 0 && r.Header("Content-Type") == "" {
		headers = append(headers, Header{Key: "Content-Type", Value: "application/json"})
	}
	return &hop{method: strings.ToUpper(r.Method), url: r.URL, headers: headers, body: body}, nil
}

// follow derives the next hop. 301, 302 and 303 switch to GET and drop
// the body with its Content-Length and Content-Type, unless the method is
// HEAD. 307 and 308 keep method and body. A Host header only survives a
// redirect that keeps scheme and host.
func (h *hop) follow(status int, next string) *hop {
	n := &hop{method: h.method, url: next, body: h.body}
	changesMethod := (status == http.StatusMovedPermanently ||
		status == http.StatusFound ||
		status == http.StatusSeeOther) && h.method != http.MethodHead
	crossOrigin := !sameOrigin(h.url, next)

	n.headers = make([]Header, 0, len(h.headers))
	for _, hd := range h.headers {
		if changesMethod && (strings.EqualFold(hd.Key, "Content-Length") || strings.EqualFold(hd.Key, "Content-Type")) {
			continue
		}
		if crossOrigin && strings.EqualFold(hd.Key, "Host") {
			continue
		}
		n.headers = append(n.headers, hd)
	}
	if changesMethod {
		n.method = http.MethodGet
		n.body = nil
	}
	return n
}

func sameOrigin(from, to string) bool {
	a, err := url.Parse(from)
	if err != nil {
		return false
	}
	b, err := url.Parse(to)
	if err != nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// ValidateURL checks that a URL is well-formed and uses an allowed scheme
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &hwerrors.ConfigurationError{Key: "url", Reason: "invalid URL", Cause: err}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return &hwerrors.ConfigurationError{
			Key:    "url",
			Reason: fmt.Sprintf("unsupported URL scheme: %q (only http and https are allowed)", u.Scheme),
		}
	}

	if u.Host == "" {
		return &hwerrors.ConfigurationError{Key: "url", Reason: "URL must have a host"}
	}

	return nil
}

// resolveLocation resolves a Location header against the hop URL and
// reports whether it was relative.
func resolveLocation(base, location string) (string, bool, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return "", false, err
	}
	if loc.IsAbs() {
		return loc.String(), false, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false, err
	}
	return b.ResolveReference(loc).String(), true, nil
}
