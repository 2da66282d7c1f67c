package timeline

import (
	"fmt"
	"sync"
	"time"
)

// Type classifies a timeline entry.
type Type string

const (
	TypeSeparator      Type = "separator"
	TypeInfo           Type = "info"
	TypeRequest        Type = "request"
	TypeRequestHeader  Type = "requestHeader"
	TypeRequestData    Type = "requestData"
	TypeResponse       Type = "response"
	TypeResponseHeader Type = "responseHeader"
	TypeTLS            Type = "tls"
	TypeError          Type = "error"
)

// Entry is a single line of the trace.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
}

// Sink receives timeline entries. Socket instrumentation writes through it.
type Sink interface {
	Add(t Type, message string)
}

// Timeline is an append-only log owned by one logical request. It is safe
// for concurrent use because connection events arrive from transport
// goroutines.
type Timeline struct {
	mu      sync.Mutex
	id      string
	entries []Entry
	last    time.Time
	now     func() time.Time
}

// New creates an empty timeline tagged with the given request ID.
func New(id string) *Timeline {
	return &Timeline{
		id:      id,
		entries: make([]Entry, 0, 32),
		now:     time.Now,
	}
}

// ID returns the request ID the timeline belongs to.
func (t *Timeline) ID() string {
	return t.id
}

// Add appends an entry. Timestamps are strictly increasing.
func (t *Timeline) Add(typ Type, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now()
	if !ts.After(t.last) {
		ts = t.last.Add(time.Nanosecond)
	}
	t.last = ts
	t.entries = append(t.entries, Entry{Timestamp: ts, Type: typ, Message: message})
}

// Addf appends a formatted entry.
func (t *Timeline) Addf(typ Type, format string, args ...any) {
	t.Add(typ, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the entries recorded so far.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Filter returns the entries of the given type, in order.
func Filter(entries []Entry, typ Type) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
