// Package proxy decides whether and through which proxy a request is sent.
//
// Resolution is layered: a per-request no-proxy flag, the collection
// policy, the global policy and finally the process environment. Once a
// mode is known, RouteFor applies the bypass rules of that mode to each
// target URL, so a redirect to another host can change the route.
//
// The package also ships Recorder, a small forward proxy with CONNECT
// support used by the record-proxy command and by tests.
package proxy
