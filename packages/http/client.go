package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	neturl "net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/hitwire/packages/agent"
	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	"github.com/abdul-hamid-achik/hitwire/packages/cookies"
	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
	"github.com/abdul-hamid-achik/hitwire/packages/probe"
	"github.com/abdul-hamid-achik/hitwire/packages/proxy"
	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

const (
	// DefaultMaxRedirects is the redirect budget of NewRequest
	DefaultMaxRedirects = 5
	// DefaultUserAgent is sent unless the request sets its own
	DefaultUserAgent = "hitwire"
)

// Client executes logical requests: it follows redirects itself, applies
// proxy and TLS policy per hop and records a timeline for every outcome.
// A Client is safe for concurrent use; all per-request state lives in a
// cycle owned by one Do call.
type Client struct {
	logger         *zap.Logger
	factory        *agent.Factory
	aggregator     *certs.Aggregator
	jar            cookies.Jar
	multipart      MultipartBuilder
	prober         *probe.Prober
	preferLoopback bool
	userAgent      string
	defaultHeaders []Header
	global         proxy.Global
	system         func() proxy.SystemSettings
	now            func() time.Time
}

type ClientOption func(*Client)

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger:         zap.NewNop(),
		multipart:      BuildMultipartBody,
		preferLoopback: true,
		userAgent:      DefaultUserAgent,
		global:         proxy.SystemGlobal,
		system:         proxy.SystemFromEnvironment,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.factory == nil {
		c.factory = agent.NewFactory(agent.WithLogger(c.logger.Named("agent")))
	}
	if c.aggregator == nil {
		c.aggregator = certs.Default()
	}
	if c.prober == nil {
		c.prober = probe.New(probe.WithLogger(c.logger.Named("probe")))
	}

	return c
}

// WithLogger sets the process logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAgentFactory shares an agent factory between clients
func WithAgentFactory(f *agent.Factory) ClientOption {
	return func(c *Client) {
		c.factory = f
	}
}

// WithAggregator sets the CA aggregator
func WithAggregator(a *certs.Aggregator) ClientOption {
	return func(c *Client) {
		c.aggregator = a
	}
}

// WithCookieJar enables cookie handling through jar
func WithCookieJar(jar cookies.Jar) ClientOption {
	return func(c *Client) {
		c.jar = jar
	}
}

// WithMultipartBuilder replaces the multipart body builder
func WithMultipartBuilder(b MultipartBuilder) ClientOption {
	return func(c *Client) {
		if b != nil {
			c.multipart = b
		}
	}
}

// WithProber sets the loopback connectivity prober
func WithProber(p *probe.Prober) ClientOption {
	return func(c *Client) {
		c.prober = p
	}
}

// WithLoopbackPreference toggles IPv6 preference for localhost names
func WithLoopbackPreference(enabled bool) ClientOption {
	return func(c *Client) {
		c.preferLoopback = enabled
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithDefaultHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.defaultHeaders = append(c.defaultHeaders, Header{Key: key, Value: value})
	}
}

// WithGlobalProxy sets the application-level proxy policy
func WithGlobalProxy(g proxy.Global) ClientOption {
	return func(c *Client) {
		c.global = g
	}
}

// WithSystemProxy replaces the proxy environment lookup
func WithSystemProxy(fn func() proxy.SystemSettings) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.system = fn
		}
	}
}

// Factory returns the agent factory of the client.
func (c *Client) Factory() *agent.Factory {
	return c.factory
}

// cycle is the state of one logical request: its timeline, its redirect
// counter and the settings resolved before the first socket opens.
type cycle struct {
	id        string
	req       *Request
	tl        *timeline.Timeline
	start     time.Time
	redirects int
	ca        *certs.Result
	decision  proxy.Decision
}

type hopResult struct {
	resp    *http.Response
	body    []byte
	elapsed time.Duration
}

// Do executes req, following redirects within its budget. Non-2xx
// outcomes are returned as *RequestError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	id := uuid.New().String()
	cy := &cycle{
		id:    id,
		req:   req,
		tl:    timeline.New(id),
		start: c.now(),
	}

	if err := ValidateURL(req.URL); err != nil {
		return nil, cy.fail(err, nil)
	}

	ca, err := c.aggregator.GetCACertificates(certs.Options{
		CACertFilePath:         req.TLS.CACertFilePath,
		ShouldKeepDefaultCerts: req.TLS.KeepDefaultCACerts,
	})
	if err != nil {
		return nil, cy.fail(err, nil)
	}
	cy.ca = ca
	cy.decision = proxy.Resolve(c.proxyInputs(req))

	h, err := firstHop(req)
	if err != nil {
		return nil, cy.fail(err, nil)
	}

	for {
		res, err := c.send(ctx, cy, h)
		if err != nil {
			return nil, cy.fail(err, nil)
		}

		c.logResponse(cy, res)
		c.storeCookies(h.url, res.resp.Header)
		resp := cy.response(h, res, c.now())

		if isRedirect(res.resp.StatusCode) {
			if cy.redirects >= req.MaxRedirects {
				if len(res.body) > 0 {
					cy.tl.Add(timeline.TypeError, string(res.body))
				}
				return nil, cy.fail(&hwerrors.RedirectBudgetExceededError{Max: req.MaxRedirects, StatusCode: res.resp.StatusCode}, resp)
			}

			location := res.resp.Header.Get("Location")
			if location == "" {
				cy.tl.Add(timeline.TypeError, "Redirect response is missing a Location header")
				return nil, cy.fail(&hwerrors.HTTPError{StatusCode: res.resp.StatusCode, Status: res.resp.Status}, resp)
			}

			cy.redirects++
			next, relative, err := resolveLocation(h.url, location)
			if err != nil {
				cy.tl.Addf(timeline.TypeError, "Invalid redirect location %q: %v", location, err)
				return nil, cy.fail(&hwerrors.HTTPError{StatusCode: res.resp.StatusCode, Status: res.resp.Status}, resp)
			}
			if relative {
				cy.tl.Addf(timeline.TypeInfo, "Resolving relative redirect URL: %s → %s", location, next)
			}
			cy.tl.Addf(timeline.TypeInfo, "Issue another request to this URL: '%s'", next)

			h = h.follow(res.resp.StatusCode, next)
			continue
		}

		if !resp.IsSuccess() {
			if len(res.body) > 0 {
				cy.tl.Add(timeline.TypeError, string(res.body))
			}
			return nil, cy.fail(&hwerrors.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}, resp)
		}

		resp.Timeline = cy.tl.Entries()
		c.logger.Debug("request completed",
			zap.String("id", cy.id),
			zap.Int("status", resp.StatusCode),
			zap.Int("redirects", cy.redirects),
			zap.Duration("total", resp.TotalTime),
		)
		return resp, nil
	}
}

func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req := NewRequest(http.MethodGet, url)
	addHeaders(req, headers)
	return c.Do(ctx, req)
}

func (c *Client) Post(ctx context.Context, url, body string, headers map[string]string) (*Response, error) {
	req := NewRequest(http.MethodPost, url).SetBody(body)
	addHeaders(req, headers)
	return c.Do(ctx, req)
}

func addHeaders(req *Request, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.SetHeader(k, headers[k])
	}
}

func (c *Client) proxyInputs(req *Request) proxy.Inputs {
	in := proxy.Inputs{
		Collection: proxy.InheritCollection,
		Global:     c.global,
	}
	if req.Proxy != nil {
		in.NoProxy = req.Proxy.NoProxy
		in.Collection = req.Proxy.Collection
		if req.Proxy.Global.Mode != "" {
			in.Global = req.Proxy.Global
		}
		if req.Proxy.System != nil {
			in.System = *req.Proxy.System
			return in
		}
	}
	in.System = c.system()
	return in
}

// send performs one hop.
func (c *Client) send(ctx context.Context, cy *cycle, h *hop) (*hopResult, error) {
	if err := ValidateURL(h.url); err != nil {
		return nil, err
	}
	target, _ := neturl.Parse(h.url)

	if cy.req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cy.req.Timeout)
		defer cancel()
	}

	start := c.now()
	cy.tl.Add(timeline.TypeSeparator, "")
	cy.tl.Addf(timeline.TypeInfo, "Preparing request to %s", h.url)
	cy.tl.Addf(timeline.TypeInfo, "Current time is %s", start.UTC().Format("2006-01-02T15:04:05.000Z07:00"))

	httpReq, err := c.buildRequest(ctx, cy, h)
	if err != nil {
		return nil, err
	}
	c.logRequest(cy, h, httpReq)

	tr := &agent.Trace{Sink: cy.tl, Timeout: cy.req.Timeout}
	if host := target.Hostname(); c.preferLoopback && probe.IsLoopbackName(host) && net.ParseIP(host) == nil {
		ip := c.prober.PreferredLoopback(ctx, portOf(target))
		tr.Hosts = map[string]net.IP{strings.ToLower(host): ip}
	}

	route, err := cy.decision.RouteFor(h.url)
	if err != nil {
		cy.tl.Addf(timeline.TypeError, "Proxy setup failed, connecting directly: %v", err)
		c.logger.Warn("proxy setup failed", zap.String("url", h.url), zap.Error(err))
		route = proxy.Route{}
	} else if route.Bypassed {
		cy.tl.Addf(timeline.TypeInfo, "Proxy bypassed for %s", target.Host)
	}

	opts := agent.TLSOptions{RejectUnauthorized: !cy.req.TLS.SkipVerify, CA: cy.ca}
	if cc, ok := certs.MatchClientCertificate(h.url, cy.req.TLS.ClientCertificates); ok {
		material, err := cc.Load(cy.req.CollectionPath)
		if err != nil {
			return nil, err
		}
		opts.Client = material
		cy.tl.Addf(timeline.TypeTLS, "Using client certificate for %s", cc.Domain)
	}

	ag, err := c.factory.Get(route, opts, cy.tl)
	if err != nil {
		if !hwerrors.IsConfiguration(err) {
			err = &hwerrors.ConfigurationError{Key: "clientCertificates", Reason: "invalid client certificate", Cause: err}
		}
		return nil, err
	}

	traceCtx := agent.WithTrace(httpReq.Context(), tr)
	traceCtx = httptrace.WithClientTrace(traceCtx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				cy.tl.Addf(timeline.TypeInfo, "Re-using existing connection with host %s", target.Host)
				if sh := agent.HandlerOf(info.Conn); sh != nil {
					sh.SetSink(cy.tl)
				}
			}
		},
	})
	httpReq = httpReq.WithContext(traceCtx)

	resp, err := ag.RoundTrip(httpReq)
	if err != nil {
		return nil, hwerrors.AsNetworkError("request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hwerrors.AsNetworkError("read body", err)
	}
	if !resp.Close {
		cy.tl.Addf(timeline.TypeInfo, "Connection #0 to host %s left intact", target.Hostname())
	}

	return &hopResult{resp: resp, body: body, elapsed: c.now().Sub(start)}, nil
}

func (c *Client) buildRequest(ctx context.Context, cy *cycle, h *hop) (*http.Request, error) {
	var body io.Reader
	var contentType string
	if !h.body.empty() {
		if len(h.body.multipart) > 0 {
			var err error
			body, contentType, err = c.multipart(h.body.multipart, cy.req.CollectionPath)
			if err != nil {
				if !hwerrors.IsConfiguration(err) {
					err = &hwerrors.ConfigurationError{Key: "body.multipart", Reason: "cannot build multipart body", Cause: err}
				}
				return nil, err
			}
		} else {
			body = bytes.NewReader(h.body.raw)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, h.method, h.url, body)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{Key: "request", Reason: "cannot build request", Cause: err}
	}

	for _, d := range c.defaultHeaders {
		httpReq.Header.Set(d.Key, d.Value)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	overridden := make(map[string]bool)
	for _, hd := range h.headers {
		key := http.CanonicalHeaderKey(hd.Key)
		if key == "Content-Type" && hd.Value == "" {
			continue
		}
		if key == "Host" {
			httpReq.Host = hd.Value
			continue
		}
		if !overridden[key] {
			httpReq.Header.Del(key)
			overridden[key] = true
		}
		httpReq.Header.Add(key, hd.Value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if c.jar != nil && c.jar.ShouldSendCookies() {
		if jarCookies := c.jar.CookieStringForURL(h.url); jarCookies != "" {
			if existing := httpReq.Header.Get("Cookie"); existing != "" {
				jarCookies = existing + "; " + jarCookies
			}
			httpReq.Header.Set("Cookie", jarCookies)
		}
	}

	return httpReq, nil
}

func (c *Client) logRequest(cy *cycle, h *hop, req *http.Request) {
	cy.tl.Addf(timeline.TypeRequest, "%s %s", req.Method, h.url)
	if req.Host != "" {
		cy.tl.Addf(timeline.TypeRequestHeader, "Host: %s", req.Host)
	}
	for _, line := range headerLines(req.Header) {
		cy.tl.Add(timeline.TypeRequestHeader, line)
	}
	if d := h.body.describe(); d != "" {
		cy.tl.Add(timeline.TypeRequestData, d)
	}
}

func (c *Client) logResponse(cy *cycle, res *hopResult) {
	if res.resp.ProtoMajor == 2 {
		cy.tl.Add(timeline.TypeInfo, "Using HTTP/2, server supports multiplexing")
	}
	cy.tl.Addf(timeline.TypeResponse, "%s %s", res.resp.Proto, res.resp.Status)
	for _, line := range headerLines(res.resp.Header) {
		cy.tl.Add(timeline.TypeResponseHeader, line)
	}
	cy.tl.Addf(timeline.TypeInfo, "Request completed in %d ms", res.elapsed.Milliseconds())
}

func (c *Client) storeCookies(url string, header http.Header) {
	if c.jar == nil || !c.jar.ShouldStoreCookies() || len(header.Values("Set-Cookie")) == 0 {
		return
	}
	c.jar.SaveCookies(url, header)
}

func (cy *cycle) response(h *hop, res *hopResult, now time.Time) *Response {
	return &Response{
		StatusCode:   res.resp.StatusCode,
		Status:       res.resp.Status,
		Proto:        res.resp.Proto,
		Headers:      res.resp.Header,
		Body:         res.body,
		URL:          h.url,
		ResponseTime: res.elapsed,
		TotalTime:    now.Sub(cy.start),
		Redirects:    cy.redirects,
		RequestID:    cy.id,
	}
}

// fail closes the cycle with err. Every failure carries the timeline.
func (cy *cycle) fail(err error, resp *Response) error {
	re := &RequestError{
		RequestID: cy.id,
		Request:   cy.req,
		Response:  resp,
		Err:       err,
	}

	var netErr *hwerrors.NetworkError
	switch {
	case errors.As(err, &netErr):
		re.Code = netErr.Code
		re.Status = netErr.Code
		cy.tl.Add(timeline.TypeError, "there was an error executing the request!")
		cy.tl.Add(timeline.TypeError, fmt.Sprint(netErr.Cause))
	case resp != nil:
		re.Status = strconv.Itoa(resp.StatusCode)
	default:
		cy.tl.Add(timeline.TypeError, err.Error())
	}

	re.Timeline = cy.tl.Entries()
	if resp != nil {
		resp.Timeline = re.Timeline
	}
	return re
}

// headerLines renders headers as "Key: value" lines in key order.
func headerLines(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		for _, v := range h[k] {
			lines = append(lines, k+": "+v)
		}
	}
	return lines
}

func portOf(u *neturl.URL) int {
	if p, err := strconv.Atoi(u.Port()); err == nil {
		return p
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}
