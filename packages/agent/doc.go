// Package agent builds the pooled transports used by the request engine.
//
// An Agent is an *http.Transport plus the route and TLS material it was
// built from. Four shapes exist: direct, HTTP proxy (absolute-form for
// plain HTTP, CONNECT tunnel for HTTPS), HTTPS proxy (TLS to the proxy,
// then CONNECT) and SOCKS5. Every connection an agent opens is
// instrumented with a socket.Handler so DNS, connect, TLS and close events
// land on the timeline of the request that carries a Trace in its context.
//
// Agents are cached by the Factory in an LRU keyed by kind, proxy URI and
// a digest of the TLS material, so repeated requests reuse keep-alive
// connections and TLS sessions.
package agent
