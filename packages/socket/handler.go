package socket

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// DefaultTimeout is the inactivity window after which a socket is destroyed.
const DefaultTimeout = 60 * time.Second

// Event names a socket lifecycle event.
type Event string

const (
	EventLookup        Event = "lookup"
	EventConnect       Event = "connect"
	EventSecureConnect Event = "secureConnect"
	EventError         Event = "error"
	EventEnd           Event = "end"
	EventClose         Event = "close"
	EventDestroy       Event = "destroy"
)

// oneShot lists the events that are handled at most once. Errors are
// handled every time until cleanup.
var oneShot = map[Event]bool{
	EventLookup:        true,
	EventConnect:       true,
	EventSecureConnect: true,
	EventEnd:           true,
	EventClose:         true,
	EventDestroy:       true,
}

type state int

const (
	stateArmed state = iota
	stateCleaned
)

// Config configures a Handler.
type Config struct {
	Sink    timeline.Sink
	Host    string
	Port    string
	Timeout time.Duration
}

// Handler writes the lifecycle of one connection to a timeline. It starts
// Armed and moves to Cleaned exactly once, on the first terminal event, a
// timeout or an explicit Cleanup. A cleaned handler ignores every event.
type Handler struct {
	cfg Config

	mu       sync.Mutex
	sink     timeline.Sink
	certLog  *CertificateLogger
	state    state
	handled  map[Event]bool
	timer    *time.Timer
	conn     net.Conn
	received atomic.Int64

	cleanupOnce sync.Once
}

// NewHandler arms a handler. The inactivity timer starts immediately.
func NewHandler(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	h := &Handler{
		cfg:     cfg,
		sink:    cfg.Sink,
		certLog: NewCertificateLogger(cfg.Sink),
		handled: make(map[Event]bool),
	}
	h.timer = time.AfterFunc(cfg.Timeout, h.onTimeout)
	return h
}

// Cleaned reports whether the handler has been released.
func (h *Handler) Cleaned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateCleaned
}

// Handled reports whether a one-shot event already fired.
func (h *Handler) Handled(e Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled[e]
}

// begin claims an event. It returns false once the handler is cleaned or
// when a one-shot event has already been handled.
func (h *Handler) begin(e Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateCleaned {
		return false
	}
	if oneShot[e] {
		if h.handled[e] {
			return false
		}
		h.handled[e] = true
	}
	return true
}

// SetSink points later events at sink. A pooled connection is rebound to
// the request that reuses it.
func (h *Handler) SetSink(sink timeline.Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
	h.certLog = NewCertificateLogger(sink)
}

func (h *Handler) add(t timeline.Type, format string, args ...any) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return
	}
	sink.Add(t, fmt.Sprintf(format, args...))
}

// Lookup records the outcome of name resolution.
func (h *Handler) Lookup(hostname string, addr net.IP, err error) {
	if !h.begin(EventLookup) {
		return
	}
	if err != nil {
		h.add(timeline.TypeError, "Could not resolve host: %s: %s", hostname, err)
		return
	}

	family, shown := "IPv4", addr.String()
	if addr.To4() == nil {
		family, shown = "IPv6", "["+addr.String()+"]"
	}
	h.add(timeline.TypeInfo, "Host %s:%s was resolved.", hostname, h.cfg.Port)
	h.add(timeline.TypeInfo, "%s: %s", family, addr)
	h.add(timeline.TypeInfo, "  Trying %s:%s...", shown, h.cfg.Port)
}

// Connect records an established TCP connection and starts watching it.
func (h *Handler) Connect(conn net.Conn) {
	if !h.begin(EventConnect) {
		return
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.touch()

	address, port := h.cfg.Host, h.cfg.Port
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		address, port = tcp.IP.String(), fmt.Sprint(tcp.Port)
	}
	h.add(timeline.TypeInfo, "Connected to %s (%s) port %s", h.cfg.Host, address, port)
}

// SecureConnect records the TLS handshake result and the peer certificate.
// serverName is the name the certificate was verified against; it defaults
// to the handler host, which differs when tunnelling through a proxy.
func (h *Handler) SecureConnect(cs tls.ConnectionState, serverName string) {
	if !h.begin(EventSecureConnect) {
		return
	}
	h.touch()

	if cs.NegotiatedProtocol != "" {
		h.add(timeline.TypeTLS, "ALPN: server accepted %s", cs.NegotiatedProtocol)
	} else {
		h.add(timeline.TypeTLS, "ALPN: server did not agree to a protocol")
	}
	h.add(timeline.TypeTLS, "SSL connection using %s / %s", VersionName(cs.Version), tls.CipherSuiteName(cs.CipherSuite))
	if serverName == "" {
		serverName = h.cfg.Host
	}
	h.mu.Lock()
	certLog := h.certLog
	h.mu.Unlock()
	certLog.LogCertificateDetails(cs, serverName)
}

// Error records a socket error and releases the handler.
func (h *Handler) Error(err error) {
	if !h.begin(EventError) {
		return
	}
	h.add(timeline.TypeError, "%s", err)
	h.Cleanup()
}

// End records that the peer finished sending.
func (h *Handler) End() {
	if !h.begin(EventEnd) {
		return
	}
	h.add(timeline.TypeInfo, "Connection closed by peer")
	h.Cleanup()
}

// Close records a closed socket.
func (h *Handler) Close(hadError bool) {
	if !h.begin(EventClose) {
		return
	}
	if hadError {
		h.add(timeline.TypeInfo, "Closing connection")
	} else {
		h.add(timeline.TypeInfo, "Connection #0 to host %s left intact", h.cfg.Host)
	}
	h.Cleanup()
}

// Destroy records a forced close.
func (h *Handler) Destroy() {
	if !h.begin(EventDestroy) {
		return
	}
	h.add(timeline.TypeInfo, "Connection destroyed")
	h.Cleanup()
}

// Cleanup stops the timer and detaches the handler. Safe to call any
// number of times from any goroutine.
func (h *Handler) Cleanup() {
	h.cleanupOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.state = stateCleaned
		h.timer.Stop()
		h.conn = nil
	})
}

// touch restarts the inactivity window.
func (h *Handler) touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateArmed {
		h.timer.Reset(h.cfg.Timeout)
	}
}

func (h *Handler) onTimeout() {
	h.mu.Lock()
	if h.state == stateCleaned {
		h.mu.Unlock()
		return
	}
	conn := h.conn
	h.mu.Unlock()

	h.add(timeline.TypeError, "Operation timed out after %d milliseconds with %d bytes received",
		h.cfg.Timeout.Milliseconds(), h.received.Load())
	h.Cleanup()
	if conn != nil {
		_ = conn.Close()
	}
}

// Wrap returns conn instrumented so that I/O resets the inactivity window
// and EOF, errors and Close reach the handler.
func (h *Handler) Wrap(conn net.Conn) net.Conn {
	return &Conn{Conn: conn, handler: h}
}

// Conn is a net.Conn reporting to a Handler.
type Conn struct {
	net.Conn
	handler *Handler
	failed  atomic.Bool
}

// Handler returns the handler the connection reports to.
func (c *Conn) Handler() *Handler {
	return c.handler
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.handler.received.Add(int64(n))
		c.handler.touch()
	}
	if err != nil {
		c.report(err)
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.handler.touch()
	}
	if err != nil {
		c.report(err)
	}
	return n, err
}

func (c *Conn) Close() error {
	c.handler.Close(c.failed.Load())
	return c.Conn.Close()
}

func (c *Conn) report(err error) {
	if errors.Is(err, io.EOF) {
		c.handler.End()
		return
	}
	if errors.Is(err, net.ErrClosed) {
		return
	}
	c.failed.Store(true)
	c.handler.Error(err)
}

// VersionName renders a TLS version the way OpenSSL does.
func VersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	}
	return fmt.Sprintf("0x%04x", v)
}
