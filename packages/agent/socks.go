package agent

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// forwardDialer adapts a dial function to proxy.Dialer and
// proxy.ContextDialer so the SOCKS client reaches the proxy through the
// instrumented dialer.
type forwardDialer func(ctx context.Context, network, addr string) (net.Conn, error)

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f(context.Background(), network, addr)
}

func (f forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// socksDial connects to addr through the SOCKS5 proxy of the agent.
func (a *Agent) socksDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var raw net.Conn
	forward := forwardDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		c, err := a.dialTCP(ctx, network, address)
		raw = c
		return c, err
	})

	d, err := proxy.FromURL(a.ProxyURL, forward)
	if err != nil {
		return nil, fmt.Errorf("invalid SOCKS proxy %s: %w", a.ProxyURL.Redacted(), err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS dialer for %s does not support contexts", a.ProxyURL.Redacted())
	}

	conn, err := cd.DialContext(ctx, network, addr)
	if err != nil {
		if h := handlerOf(raw); h != nil {
			h.Error(err)
		}
		return nil, err
	}
	return &proxiedConn{Conn: conn, raw: raw}, nil
}
