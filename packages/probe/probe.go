// Package probe checks whether loopback services answer on IPv6 so that
// localhost requests can prefer ::1 when it is reachable.
package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	LocalIPv6 = "::1"
	LocalIPv4 = "127.0.0.1"
	Localhost = "localhost"

	// DefaultDialTimeout bounds a single connectivity check.
	DefaultDialTimeout = 2 * time.Second
)

type result struct {
	ok      bool
	checked time.Time
}

// Prober memoizes TCP connectivity checks keyed by host:port. A zero TTL
// keeps results for the lifetime of the prober.
type Prober struct {
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]result
	group singleflight.Group
}

// Option configures a Prober.
type Option func(*Prober)

// WithTTL expires cached results after d. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(p *Prober) {
		p.ttl = d
	}
}

// WithDialTimeout bounds a single check
func WithDialTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a prober.
func New(opts ...Option) *Prober {
	d := &net.Dialer{}
	p := &Prober{
		timeout: DefaultDialTimeout,
		logger:  zap.NewNop(),
		dial:    d.DialContext,
		now:     time.Now,
		cache:   make(map[string]result),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check reports whether a TCP connection to host:port succeeds. Concurrent
// checks for the same key share one dial.
func (p *Prober) Check(ctx context.Context, host string, port int) bool {
	key := net.JoinHostPort(host, strconv.Itoa(port))

	if ok, hit := p.cached(key); hit {
		return ok
	}

	v, _, _ := p.group.Do(key, func() (any, error) {
		if ok, hit := p.cached(key); hit {
			return ok, nil
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		conn, err := p.dial(dialCtx, "tcp", key)
		ok := err == nil
		if ok {
			conn.Close()
		}
		p.logger.Debug("connectivity check", zap.String("addr", key), zap.Bool("reachable", ok))

		p.mu.Lock()
		p.cache[key] = result{ok: ok, checked: p.now()}
		p.mu.Unlock()
		return ok, nil
	})
	return v.(bool)
}

func (p *Prober) cached(key string) (ok, hit bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, found := p.cache[key]
	if !found {
		return false, false
	}
	if p.ttl > 0 && p.now().Sub(r.checked) > p.ttl {
		return false, false
	}
	return r.ok, true
}

// Invalidate drops the cached result for host:port, or every result when
// host is empty.
func (p *Prober) Invalidate(host string, port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if host == "" {
		p.cache = make(map[string]result)
		return
	}
	delete(p.cache, net.JoinHostPort(host, strconv.Itoa(port)))
}

// PreferredLoopback returns ::1 when the IPv6 loopback answers on port,
// else 127.0.0.1.
func (p *Prober) PreferredLoopback(ctx context.Context, port int) net.IP {
	if p.Check(ctx, LocalIPv6, port) {
		return net.ParseIP(LocalIPv6)
	}
	return net.ParseIP(LocalIPv4)
}

// IsLoopbackName reports whether hostname gets loopback resolution:
// localhost, any *.localhost name, 127.0.0.1 or ::1.
func IsLoopbackName(hostname string) bool {
	h := strings.ToLower(strings.Trim(hostname, "[]"))
	if h == LocalIPv4 || h == LocalIPv6 || h == Localhost {
		return true
	}
	return h[strings.LastIndex(h, ".")+1:] == Localhost
}
