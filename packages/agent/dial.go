package agent

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/socket"
	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// dialTCP opens an instrumented TCP connection to addr. The returned
// connection reports to a fresh socket.Handler bound to the request trace
// found in ctx.
func (a *Agent) dialTCP(ctx context.Context, network, addr string) (net.Conn, error) {
	tr := TraceFrom(ctx)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	tr.add(timeline.TypeInfo, "Trying %s...", addr)

	h := socket.NewHandler(socket.Config{Sink: tr.Sink, Host: host, Port: port, Timeout: tr.Timeout})

	ips, err := a.factory.resolve(ctx, tr, host)
	if err != nil {
		h.Lookup(host, nil, err)
		h.Cleanup()
		return nil, err
	}
	if net.ParseIP(host) == nil {
		h.Lookup(host, ips[0], nil)
	}

	var conn net.Conn
	for _, ip := range ips {
		conn, err = a.factory.dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			break
		}
	}
	if err != nil {
		h.Error(err)
		return nil, err
	}

	wrapped := h.Wrap(conn)
	h.Connect(wrapped)
	return wrapped, nil
}

// dialTLS opens a TLS connection to addr through whatever route the agent
// uses. It is installed as the transport's DialTLSContext so handshake
// details reach the timeline.
func (a *Agent) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	tr := TraceFrom(ctx)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	tr.add(timeline.TypeTLS, "ALPN: offers %s", strings.Join(ALPNProtocols, ", "))
	tr.add(timeline.TypeTLS, "CA Certificates: %s", a.counts)

	var raw net.Conn
	switch {
	case a.Kind == KindSOCKS:
		raw, err = a.socksDial(ctx, network, addr)
	case a.dialsProxy(addr):
		// Plain HTTP through an HTTPS proxy: the transport wants TLS to
		// the proxy itself and sends absolute-form requests on it.
		host = a.ProxyURL.Hostname()
		raw, err = a.dialTCP(ctx, network, addr)
	case a.Kind == KindHTTPProxy:
		raw, err = a.tunnel(ctx, network, addr)
	default:
		raw, err = a.dialTCP(ctx, network, addr)
	}
	if err != nil {
		return nil, err
	}

	tlsConn, err := a.upgrade(ctx, raw, &tls.Config{ServerName: host})
	if err != nil {
		if h := handlerOf(raw); h != nil {
			h.Error(err)
		}
		raw.Close()
		return nil, err
	}

	if h := handlerOf(raw); h != nil {
		h.SecureConnect(tlsConn.ConnectionState(), host)
	}
	return tlsConn, nil
}

// dialsProxy reports whether addr is the agent's own HTTPS proxy.
func (a *Agent) dialsProxy(addr string) bool {
	return a.Kind == KindHTTPProxy && a.ProxyURL != nil &&
		a.ProxyURL.Scheme == "https" && strings.EqualFold(addr, canonicalAddr(a.ProxyURL))
}

// tunnel dials the proxy and issues CONNECT for addr.
func (a *Agent) tunnel(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := a.dialTCP(ctx, network, canonicalAddr(a.ProxyURL))
	if err != nil {
		return nil, err
	}

	if a.ProxyURL.Scheme == "https" {
		tlsConn, err := a.upgrade(ctx, conn, &tls.Config{ServerName: a.ProxyURL.Hostname()})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake with proxy failed: %w", err)
		}
		conn = &proxiedConn{Conn: tlsConn, raw: conn}
	}

	if err := connect(ctx, conn, a.ProxyURL, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// connect performs the CONNECT handshake on conn.
func connect(ctx context.Context, conn net.Conn, proxyURL *url.URL, addr string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := proxyURL.User; u != nil {
		password, _ := u.Password()
		creds := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := req.Write(conn); err != nil {
		return fmt.Errorf("failed to send CONNECT to proxy: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy refused CONNECT to %s: %s", addr, resp.Status)
	}
	if br.Buffered() > 0 {
		return fmt.Errorf("proxy sent unexpected data after CONNECT response")
	}
	return nil
}

// proxiedConn is a TLS session to an HTTPS proxy. It keeps the
// instrumented raw connection reachable for handshake logging.
type proxiedConn struct {
	net.Conn
	raw net.Conn
}

// HandlerOf returns the socket handler behind a connection produced by an
// agent, or nil.
func HandlerOf(conn net.Conn) *socket.Handler {
	return handlerOf(conn)
}

func handlerOf(conn net.Conn) *socket.Handler {
	switch c := conn.(type) {
	case *socket.Conn:
		return c.Handler()
	case *proxiedConn:
		return handlerOf(c.raw)
	case *tls.Conn:
		return handlerOf(c.NetConn())
	}
	return nil
}

func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "socks5", "socks5h":
			port = "1080"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
