// Package http executes logical HTTP requests for hitwire.
//
// A logical request may span several hops. The client disables the
// transport's own redirect handling and follows 301, 302, 303, 307 and 308
// itself so it can:
//   - downgrade to GET and drop the body on 301/302/303
//   - rebuild multipart bodies before resending them on 307/308
//   - re-evaluate proxy bypass rules, client certificates and cookies for
//     every hop
//   - enforce a redirect budget owned by the request, not the client
//
// Every outcome carries a timeline: the curl-like trace of request lines,
// DNS, connect, TLS and response events across all hops.
package http
