package socket

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

func messages(tl *timeline.Timeline) []string {
	var out []string
	for _, e := range tl.Entries() {
		out = append(out, e.Message)
	}
	return out
}

func newTestHandler(t *testing.T, timeout time.Duration) (*Handler, *timeline.Timeline) {
	t.Helper()
	tl := timeline.New("test")
	h := NewHandler(Config{Sink: tl, Host: "example.com", Port: "443", Timeout: timeout})
	t.Cleanup(h.Cleanup)
	return h, tl
}

func TestHandler_LookupIsOneShot(t *testing.T) {
	h, tl := newTestHandler(t, time.Minute)

	h.Lookup("example.com", net.ParseIP("93.184.216.34"), nil)
	h.Lookup("example.com", net.ParseIP("10.0.0.1"), nil)

	assert.Equal(t, []string{
		"Host example.com:443 was resolved.",
		"IPv4: 93.184.216.34",
		"  Trying 93.184.216.34:443...",
	}, messages(tl))
	assert.True(t, h.Handled(EventLookup))
}

func TestHandler_LookupIPv6AndFailure(t *testing.T) {
	h, tl := newTestHandler(t, time.Minute)
	h.Lookup("example.com", net.ParseIP("::1"), nil)
	assert.Contains(t, messages(tl), "  Trying [::1]:443...")

	h2, tl2 := newTestHandler(t, time.Minute)
	h2.Lookup("nope.invalid", nil, errors.New("no such host"))
	entries := tl2.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, timeline.TypeError, entries[0].Type)
	assert.Equal(t, "Could not resolve host: nope.invalid: no such host", entries[0].Message)
}

func TestHandler_CloseCleansUpAndIgnoresLaterEvents(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	h, tl := newTestHandler(t, time.Minute)
	h.Connect(client)
	h.Close(false)
	h.Error(errors.New("late"))
	h.Destroy()

	assert.True(t, h.Cleaned())
	assert.Equal(t, []string{
		"Connected to example.com (example.com) port 443",
		"Connection #0 to host example.com left intact",
	}, messages(tl))
}

func TestHandler_ErrorTriggersCleanup(t *testing.T) {
	h, tl := newTestHandler(t, time.Minute)
	h.Error(errors.New("connection reset by peer"))

	assert.True(t, h.Cleaned())
	errs := timeline.Filter(tl.Entries(), timeline.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "connection reset by peer", errs[0].Message)
}

func TestHandler_TimeoutDestroysSocket(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	h, tl := newTestHandler(t, 30*time.Millisecond)
	conn := h.Wrap(client)
	h.Connect(conn)

	require.Eventually(t, h.Cleaned, time.Second, 5*time.Millisecond)
	assert.Contains(t, messages(tl), "Operation timed out after 30 milliseconds with 0 bytes received")

	// The peer sees the forced close.
	_ = server.SetReadDeadline(time.Now().Add(time.Second))
	_, err := server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandler_ActivityResetsTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	h, _ := newTestHandler(t, 150*time.Millisecond)
	conn := h.Wrap(client)
	h.Connect(conn)

	go func() { _, _ = io.Copy(io.Discard, server) }()

	for i := 0; i < 6; i++ {
		_, err := conn.Write([]byte("ping"))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	assert.False(t, h.Cleaned())
}

func TestConn_EOFEndsHandler(t *testing.T) {
	client, server := net.Pipe()

	h, tl := newTestHandler(t, time.Minute)
	conn := h.Wrap(client)
	h.Connect(conn)

	go func() {
		_, _ = server.Write([]byte("hi"))
		_ = server.Close()
	}()

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.True(t, h.Cleaned())
	assert.Contains(t, messages(tl), "Connection closed by peer")
}

func TestHandler_CleanupIsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Cleanup()
		}()
	}
	wg.Wait()
	assert.True(t, h.Cleaned())
}

func TestHandler_SecureConnect(t *testing.T) {
	cert := generateCert(t, "example.com", []string{"example.com", "www.example.com"})
	h, tl := newTestHandler(t, time.Minute)

	h.SecureConnect(tls.ConnectionState{
		Version:            tls.VersionTLS13,
		CipherSuite:        tls.TLS_AES_128_GCM_SHA256,
		NegotiatedProtocol: "http/1.1",
		PeerCertificates:   []*x509.Certificate{cert},
		VerifiedChains:     [][]*x509.Certificate{{cert}},
	}, "")

	joined := strings.Join(messages(tl), "\n")
	assert.Contains(t, joined, "ALPN: server accepted http/1.1")
	assert.Contains(t, joined, "SSL connection using TLSv1.3 / TLS_AES_128_GCM_SHA256")
	assert.Contains(t, joined, "SSL certificate verify ok.")
}

func TestHandler_SetSinkMovesLaterEvents(t *testing.T) {
	h, first := newTestHandler(t, time.Minute)
	h.Lookup("example.com", net.ParseIP("93.184.216.34"), nil)
	before := first.Len()

	second := timeline.New("reuse")
	h.SetSink(second)
	h.Close(false)

	assert.Equal(t, before, first.Len())
	assert.Equal(t, []string{"Connection #0 to host example.com left intact"}, messages(second))
	assert.True(t, h.Cleaned())
}
