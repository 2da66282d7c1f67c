package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// Trace carries the per-request instrumentation settings into the dial
// functions of a shared agent.
type Trace struct {
	// Sink receives connection events. Nil disables them.
	Sink timeline.Sink
	// Timeout is the socket inactivity window.
	Timeout time.Duration
	// Hosts pins hostnames to addresses, bypassing DNS.
	Hosts map[string]net.IP
}

type traceKey struct{}

// WithTrace attaches t to ctx.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the trace attached to ctx, or an empty one.
func TraceFrom(ctx context.Context) *Trace {
	if t, ok := ctx.Value(traceKey{}).(*Trace); ok && t != nil {
		return t
	}
	return &Trace{}
}

func (t *Trace) add(typ timeline.Type, format string, args ...any) {
	if t.Sink == nil {
		return
	}
	t.Sink.Add(typ, fmt.Sprintf(format, args...))
}
