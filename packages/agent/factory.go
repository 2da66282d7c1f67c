package agent

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	"github.com/abdul-hamid-achik/hitwire/packages/proxy"
	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

const (
	// DefaultCacheSize bounds the number of cached agents.
	DefaultCacheSize = 100
	// DefaultKeepAlive is the TCP keep-alive interval of pooled connections.
	DefaultKeepAlive = 30 * time.Second
	// DefaultDialTimeout bounds a single TCP connect.
	DefaultDialTimeout = 30 * time.Second
	// DefaultMaxIdleConns is the maximum number of idle connections per agent
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second
)

// Kind identifies how an agent reaches the target.
type Kind string

// Agent kinds.
const (
	KindDirect    Kind = "direct"
	KindHTTPProxy Kind = "http-proxy"
	KindSOCKS     Kind = "socks"
)

// Agent is a pooled transport plus the metadata it was built from.
type Agent struct {
	Kind     Kind
	ProxyURL *url.URL

	factory   *Factory
	transport *http.Transport
	tlsConfig *tls.Config
	upgrade   upgradeFunc
	counts    certs.Count
	key       string
}

// RoundTrip implements http.RoundTripper.
func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	return a.transport.RoundTrip(req)
}

// CloseIdleConnections closes the pooled idle connections of the agent.
func (a *Agent) CloseIdleConnections() {
	a.transport.CloseIdleConnections()
}

// Key returns the cache key of the agent.
func (a *Agent) Key() string {
	return a.key
}

// Factory builds and caches agents. Agents with identical TLS material and
// route are shared so connections and TLS sessions are reused.
type Factory struct {
	logger    *zap.Logger
	cache     *lru.Cache[string, *Agent]
	cacheSize int
	dialer    *net.Dialer
	resolver  *net.Resolver
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCacheSize sets the maximum number of cached agents
func WithCacheSize(n int) Option {
	return func(f *Factory) {
		f.cacheSize = n
	}
}

// WithResolver sets the resolver used for instrumented lookups
func WithResolver(r *net.Resolver) Option {
	return func(f *Factory) {
		f.resolver = r
	}
}

// WithDialTimeout bounds a single TCP connect
func WithDialTimeout(d time.Duration) Option {
	return func(f *Factory) {
		f.dialer.Timeout = d
	}
}

// NewFactory creates a factory with an empty cache.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		logger:    zap.NewNop(),
		cacheSize: DefaultCacheSize,
		dialer: &net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		},
		resolver: net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cacheSize <= 0 {
		f.cacheSize = DefaultCacheSize
	}

	// NewWithEvict only fails for non-positive sizes.
	f.cache, _ = lru.NewWithEvict(f.cacheSize, func(key string, a *Agent) {
		f.logger.Debug("evicting agent", zap.String("kind", string(a.Kind)), zap.String("key", key))
		a.CloseIdleConnections()
	})
	return f
}

// Get returns an agent for route, creating and caching it when needed.
// Construction and reuse are reported to sink.
func (f *Factory) Get(route proxy.Route, opts TLSOptions, sink timeline.Sink) (*Agent, error) {
	kind := KindDirect
	if route.URL != nil {
		kind = KindHTTPProxy
		if route.SOCKS {
			kind = KindSOCKS
		}
	}

	key := cacheKey(kind, route.URL, opts)
	if a, ok := f.cache.Get(key); ok {
		if sink != nil {
			sink.Add(timeline.TypeInfo, "Reusing cached agent (SSL session reuse enabled)")
		}
		f.logger.Debug("reusing agent", zap.String("kind", string(kind)))
		return a, nil
	}

	a, err := f.newAgent(kind, route.URL, opts)
	if err != nil {
		return nil, err
	}
	a.key = key

	if sink != nil {
		state := "enabled"
		if !opts.RejectUnauthorized {
			state = "disabled"
		}
		sink.Add(timeline.TypeInfo, "SSL validation: "+state)
		if route.URL != nil {
			sink.Add(timeline.TypeInfo, "Using proxy: "+route.Redacted())
		}
	}

	f.cache.Add(key, a)
	f.logger.Debug("created agent",
		zap.String("kind", string(kind)),
		zap.String("proxy", route.Redacted()),
		zap.Int("cached", f.cache.Len()),
	)
	return a, nil
}

// Purge drops every cached agent and closes their idle connections.
func (f *Factory) Purge() {
	f.cache.Purge()
}

// Len returns the number of cached agents.
func (f *Factory) Len() int {
	return f.cache.Len()
}

func (f *Factory) newAgent(kind Kind, proxyURL *url.URL, opts TLSOptions) (*Agent, error) {
	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Kind:      kind,
		ProxyURL:  proxyURL,
		factory:   f,
		tlsConfig: tlsConfig,
		upgrade:   withConstructorTLS(tlsConfig, handshake),
		counts:    opts.counts(),
	}

	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSClientConfig:     tlsConfig.Clone(),
		// A non-nil empty map keeps the transport on HTTP/1.1.
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		ExpectContinueTimeout: time.Second,
		DialTLSContext:        a.dialTLS,
	}

	switch kind {
	case KindSOCKS:
		transport.DialContext = a.socksDial
	case KindHTTPProxy:
		transport.DialContext = a.dialTCP
		// Plain HTTP goes to the proxy in absolute form; HTTPS is
		// tunnelled by dialTLS.
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "http" || req.URL.Scheme == "ws" {
				return proxyURL, nil
			}
			return nil, nil
		}
	default:
		transport.DialContext = a.dialTCP
	}

	a.transport = transport
	return a, nil
}

func (f *Factory) resolve(ctx context.Context, tr *Trace, host string) ([]net.IP, error) {
	if ip, ok := tr.Hosts[strings.ToLower(host)]; ok && ip != nil {
		return []net.IP{ip}, nil
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []net.IP{ip}, nil
	}

	addrs, err := f.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

func cacheKey(kind Kind, proxyURL *url.URL, opts TLSOptions) string {
	proxyURI := ""
	if proxyURL != nil {
		proxyURI = proxyURL.String()
	}
	var ca string
	if opts.CA != nil {
		ca = opts.CA.CACertificates
	}
	return fmt.Sprintf("%s|%s|ca=%s|cert=%s|key=%s|pfx=%s|pass=%s|reject=%t",
		kind, proxyURI,
		hashValue([]byte(ca)),
		hashValue(opts.Client.Cert),
		hashValue(opts.Client.Key),
		hashValue(opts.Client.PFX),
		hashValue([]byte(opts.Client.Passphrase)),
		opts.RejectUnauthorized,
	)
}

// hashValue returns a truncated SHA-256 digest, or "" for empty input.
func hashValue(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
