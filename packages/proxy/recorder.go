package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
)

// Recording is one request seen by the forward proxy.
type Recording struct {
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Target     string            `json:"target"`
	Tunnel     bool              `json:"tunnel"`
	Headers    map[string]string `json:"headers"`
	StatusCode int               `json:"statusCode"`
	Duration   time.Duration     `json:"duration"`
}

// Recorder is a forward HTTP proxy that records what passes through it.
// Plain requests arrive in absolute form and are forwarded; CONNECT
// requests open a blind TCP tunnel.
type Recorder struct {
	port        int
	logger      *zap.Logger
	exclude     []string
	sanitize    []string
	username    string
	password    string
	dialTimeout time.Duration
	proxy       *goproxy.ProxyHttpServer

	mutex      sync.Mutex
	recordings []Recording
}

// Option is a functional option for Recorder
type Option func(*Recorder)

// WithPort sets the listen port used by StartWithContext
func WithPort(port int) Option {
	return func(r *Recorder) {
		r.port = port
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithExclude skips recording for targets containing any of the given strings
func WithExclude(targets []string) Option {
	return func(r *Recorder) {
		r.exclude = targets
	}
}

// WithSanitize sets headers to redact
func WithSanitize(headers []string) Option {
	return func(r *Recorder) {
		r.sanitize = headers
	}
}

// WithBasicAuth requires Proxy-Authorization with the given credentials
func WithBasicAuth(username, password string) Option {
	return func(r *Recorder) {
		r.username = username
		r.password = password
	}
}

// NewRecorder creates a new recording proxy
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		port:        8888,
		logger:      zap.NewNop(),
		sanitize:    []string{"Authorization", "Cookie", "Proxy-Authorization", "X-Api-Key", "Api-Key"},
		dialTimeout: 10 * time.Second,
		recordings:  make([]Recording, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.proxy = r.newProxy()
	return r
}

// pending is the per-request state carried in goproxy's ProxyCtx.
type pending struct {
	start   time.Time
	headers map[string]string
}

func (r *Recorder) newProxy() *goproxy.ProxyHttpServer {
	p := goproxy.NewProxyHttpServer()
	p.Verbose = false
	p.Logger = zap.NewStdLog(r.logger)
	// The recorder never chains to an environment proxy.
	p.Tr = &http.Transport{Proxy: nil, DisableKeepAlives: true}
	dialer := &net.Dialer{Timeout: r.dialTimeout}
	p.ConnectDial = dialer.Dial
	p.NonproxyHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "forward proxy requires absolute-form request targets", http.StatusBadRequest)
		r.record(req, http.StatusBadRequest, pending{start: time.Now(), headers: r.sanitizeHeaders(req.Header)})
	})

	p.OnRequest().HandleConnectFunc(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		state := pending{start: time.Now(), headers: r.sanitizeHeaders(ctx.Req.Header)}
		if !r.authorized(ctx.Req) {
			ctx.Resp = authRequired(ctx.Req)
			r.record(ctx.Req, http.StatusProxyAuthRequired, state)
			return goproxy.RejectConnect, host
		}
		r.record(ctx.Req, http.StatusOK, state)
		return goproxy.OkConnect, host
	})

	p.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		ctx.UserData = pending{start: time.Now(), headers: r.sanitizeHeaders(req.Header)}
		if !r.authorized(req) {
			return req, authRequired(req)
		}
		req.Header.Del("Proxy-Authorization")
		return req, nil
	})

	p.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if resp == nil {
			msg := "upstream request failed"
			if ctx.Error != nil {
				msg = ctx.Error.Error()
				r.logger.Debug("upstream request failed", zap.String("target", ctx.Req.URL.String()), zap.Error(ctx.Error))
			}
			resp = goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, msg)
		}
		state, _ := ctx.UserData.(pending)
		r.record(ctx.Req, resp.StatusCode, state)
		return resp
	})

	return p
}

func authRequired(req *http.Request) *http.Response {
	resp := goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusProxyAuthRequired, "proxy authentication required")
	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	resp.Header.Set("Proxy-Authenticate", `Basic realm="hitwire"`)
	return resp
}

// StartWithContext listens on the configured port until ctx is done
func (r *Recorder) StartWithContext(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	r.logger.Info("forward proxy listening", zap.Int("port", r.port))

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeHTTP implements http.Handler.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.proxy.ServeHTTP(w, req)
}

func (r *Recorder) authorized(req *http.Request) bool {
	if r.username == "" && r.password == "" {
		return true
	}
	header := req.Header.Get("Proxy-Authorization")
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	user, pass, _ := strings.Cut(string(decoded), ":")
	return user == r.username && pass == r.password
}

func (r *Recorder) record(req *http.Request, status int, state pending) {
	if req == nil {
		return
	}
	target := req.URL.String()
	if req.Method == http.MethodConnect {
		target = req.Host
	}
	if r.shouldExclude(target) {
		return
	}
	if state.start.IsZero() {
		state.start = time.Now()
	}

	rec := Recording{
		Timestamp:  state.start,
		Method:     req.Method,
		Target:     target,
		Tunnel:     req.Method == http.MethodConnect,
		Headers:    state.headers,
		StatusCode: status,
		Duration:   time.Since(state.start),
	}

	r.mutex.Lock()
	r.recordings = append(r.recordings, rec)
	r.mutex.Unlock()

	r.logger.Debug("proxied request",
		zap.String("method", rec.Method),
		zap.String("target", rec.Target),
		zap.Int("status", status),
		zap.Duration("duration", rec.Duration),
	)
}

func (r *Recorder) shouldExclude(target string) bool {
	for _, exclude := range r.exclude {
		if exclude != "" && strings.Contains(target, exclude) {
			return true
		}
	}
	return false
}

func (r *Recorder) sanitizeHeaders(h http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		redact := false
		for _, s := range r.sanitize {
			if strings.EqualFold(key, s) {
				redact = true
				break
			}
		}
		if redact {
			result[key] = "[REDACTED]"
		} else {
			result[key] = values[0]
		}
	}
	return result
}

// GetRecordings returns all recorded requests
func (r *Recorder) GetRecordings() []Recording {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	result := make([]Recording, len(r.recordings))
	copy(result, r.recordings)
	return result
}

// Clear clears all recordings
func (r *Recorder) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.recordings = make([]Recording, 0)
}

// ExportToJSON exports recordings to JSON format
func (r *Recorder) ExportToJSON() ([]byte, error) {
	return json.MarshalIndent(r.GetRecordings(), "", "  ")
}
