package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	"github.com/abdul-hamid-achik/hitwire/packages/cookies"
	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
	"github.com/abdul-hamid-achik/hitwire/packages/proxy"
	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

func isolatedAggregator() *certs.Aggregator {
	a := certs.NewAggregator(nil)
	a.SystemFiles = nil
	a.RootDirs = nil
	a.Getenv = func(string) string { return "" }
	return a
}

func newTestClient(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithAggregator(isolatedAggregator()),
		WithSystemProxy(func() proxy.SystemSettings { return proxy.SystemSettings{} }),
	}
	return NewClient(append(base, opts...)...)
}

func messages(entries []timeline.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func requestError(t *testing.T, err error) *RequestError {
	t.Helper()
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr), "expected *RequestError, got %T: %v", err, err)
	require.NotEmpty(t, reqErr.Timeline)
	return reqErr
}

// chainServer redirects /hop/N to /hop/N-1 until /hop/0 answers 200.
func chainServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if n == 0 {
			fmt.Fprint(w, "done")
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/test", r.URL.Path)
		assert.Equal(t, DefaultUserAgent, r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "hello"}`))
	}))
	defer server.Close()

	client := newTestClient()
	resp, err := client.Get(context.Background(), server.URL+"/test", nil)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header("Content-Type"))
	assert.True(t, resp.IsJSON())
	assert.Contains(t, resp.BodyString(), "hello")
	assert.NotEmpty(t, resp.RequestID)

	msgs := messages(resp.Timeline)
	assert.Equal(t, timeline.TypeSeparator, resp.Timeline[0].Type)
	assert.Contains(t, msgs, "Preparing request to "+server.URL+"/test")
	assert.Contains(t, msgs, "GET "+server.URL+"/test")
	assert.Contains(t, msgs, "HTTP/1.1 200 OK")
	assert.Contains(t, msgs, "Content-Type: application/json")
}

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name": "test"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 123}`))
	}))
	defer server.Close()

	client := newTestClient()
	req := NewRequest(http.MethodPost, server.URL).SetJSON(map[string]string{"name": "test"})
	resp, err := client.Do(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Contains(t, resp.BodyString(), "123")
	assert.Contains(t, messages(resp.Timeline), "{\n  \"name\": \"test\"\n}")
}

func TestClient_HeadersKeepOrderAndDuplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"a", "b"}, r.Header.Values("X-Multi"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		assert.Equal(t, "custom-agent", r.UserAgent())
		assert.Equal(t, "api.test", r.Host)
		assert.Equal(t, "default", r.Header.Get("X-Default"))
	}))
	defer server.Close()

	client := newTestClient(WithDefaultHeader("X-Default", "default"))
	req := NewRequest(http.MethodGet, server.URL).
		SetHeader("X-Multi", "a").
		SetHeader("X-Multi", "b").
		SetHeader("Content-Type", "").
		SetHeader("User-Agent", "custom-agent").
		SetHeader("Host", "api.test")

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	for _, e := range timeline.Filter(resp.Timeline, timeline.TypeRequestHeader) {
		assert.NotEqual(t, "Content-Type: ", e.Message)
	}
}

func TestClient_FollowsRedirectChainWithinBudget(t *testing.T) {
	var hits atomic.Int32
	srv := chainServer(t, &hits)

	client := newTestClient()
	resp, err := client.Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/hop/5"))
	require.NoError(t, err)

	assert.Equal(t, "done", resp.BodyString())
	assert.Equal(t, 5, resp.Redirects)
	assert.Equal(t, int32(6), hits.Load())
	assert.Equal(t, srv.URL+"/hop/0", resp.URL)

	for i := 1; i < len(resp.Timeline); i++ {
		assert.True(t, resp.Timeline[i].Timestamp.After(resp.Timeline[i-1].Timestamp), "entry %d out of order", i)
	}
	assert.Len(t, timeline.Filter(resp.Timeline, timeline.TypeSeparator), 6)
	assert.Len(t, timeline.Filter(resp.Timeline, timeline.TypeResponse), 6)
}

func TestClient_RedirectBudgetExceeded(t *testing.T) {
	var hits atomic.Int32
	srv := chainServer(t, &hits)

	client := newTestClient()
	req := NewRequest(http.MethodGet, srv.URL+"/hop/4").SetMaxRedirects(3)
	_, err := client.Do(context.Background(), req)

	reqErr := requestError(t, err)
	var budget *hwerrors.RedirectBudgetExceededError
	require.True(t, errors.As(err, &budget))
	assert.Equal(t, 3, budget.Max)
	assert.Equal(t, http.StatusFound, budget.StatusCode)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, "302", reqErr.Status)
	require.NotNil(t, reqErr.Response)
	assert.Equal(t, http.StatusFound, reqErr.Response.StatusCode)
	assert.Equal(t, reqErr.Timeline, reqErr.Response.Timeline)
}

func TestClient_ZeroBudgetFollowsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := chainServer(t, &hits)

	client := newTestClient()
	_, err := client.Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/hop/1").SetMaxRedirects(0))

	var budget *hwerrors.RedirectBudgetExceededError
	require.True(t, errors.As(err, &budget))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_MethodChangingRedirects(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			type seen struct {
				method, body, contentType string
				contentLength             int64
			}
			var final seen
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/start" {
					w.Header().Set("Location", "/next")
					w.WriteHeader(status)
					return
				}
				body, _ := io.ReadAll(r.Body)
				final = seen{r.Method, string(body), r.Header.Get("Content-Type"), r.ContentLength}
			}))
			defer srv.Close()

			req := NewRequest(http.MethodPost, srv.URL+"/start").
				SetHeader("Content-Type", "text/plain").
				SetHeader("X-Keep", "1").
				SetBody("payload")

			resp, err := newTestClient().Do(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, 1, resp.Redirects)
			assert.Equal(t, http.MethodGet, final.method)
			assert.Empty(t, final.body)
			assert.Empty(t, final.contentType)
			assert.Zero(t, final.contentLength)
		})
	}
}

func TestClient_MethodPreservingRedirects(t *testing.T) {
	for _, status := range []int{http.StatusTemporaryRedirect, http.StatusPermanentRedirect} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			var method, body, contentType string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/start" {
					w.Header().Set("Location", "/next")
					w.WriteHeader(status)
					return
				}
				b, _ := io.ReadAll(r.Body)
				method, body, contentType = r.Method, string(b), r.Header.Get("Content-Type")
			}))
			defer srv.Close()

			req := NewRequest(http.MethodPut, srv.URL+"/start").
				SetHeader("Content-Type", "application/octet-stream").
				SetBody("exact\x00bytes")

			_, err := newTestClient().Do(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, http.MethodPut, method)
			assert.Equal(t, "exact\x00bytes", body)
			assert.Equal(t, "application/octet-stream", contentType)
		})
	}
}

func TestClient_HeadKeepsMethodOnFound(t *testing.T) {
	var methods []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/next", http.StatusFound)
		}
	}))
	defer srv.Close()

	_, err := newTestClient().Do(context.Background(), NewRequest(http.MethodHead, srv.URL+"/start"))
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodHead, http.MethodHead}, methods)
}

func TestClient_MultipartRegeneratedOnRedirect(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.txt"), []byte("file contents"), 0o644))

	var builds atomic.Int32
	builder := func(fields []MultipartField, collectionPath string) (io.Reader, string, error) {
		builds.Add(1)
		return BuildMultipartBody(fields, collectionPath)
	}

	type part struct{ name, value string }
	var received [][]part
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var parts []part
		mr, err := r.MultipartReader()
		if !assert.NoError(t, err) {
			return
		}
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(p)
			parts = append(parts, part{p.FormName(), string(data)})
		}
		mu.Lock()
		received = append(received, parts)
		mu.Unlock()

		if r.URL.Path == "/upload" {
			w.Header().Set("Location", "/stored")
			w.WriteHeader(http.StatusTemporaryRedirect)
		}
	}))
	defer srv.Close()

	req := NewRequest(http.MethodPost, srv.URL+"/upload").SetMultipart(
		MultipartField{Name: "title", Value: "report"},
		MultipartField{Name: "file", Path: "upload.txt"},
	)
	req.CollectionPath = dir

	client := newTestClient(WithMultipartBuilder(builder))
	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(2), builds.Load())
	require.Len(t, received, 2)
	want := []part{{"title", "report"}, {"file", "file contents"}}
	assert.Equal(t, want, received[0])
	assert.Equal(t, want, received[1])
}

func TestClient_MissingCACertificateFailsBeforeDialing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL)
	req.TLS.CACertFilePath = filepath.Join(t.TempDir(), "missing.pem")

	_, err := newTestClient().Do(context.Background(), req)
	reqErr := requestError(t, err)
	assert.True(t, hwerrors.IsConfiguration(err))
	assert.Nil(t, reqErr.Response)
	assert.Empty(t, reqErr.Code)
	assert.Zero(t, hits.Load())
}

func TestClient_CookiesFollowRedirects(t *testing.T) {
	var cookieOnNext string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			w.Header().Set("Set-Cookie", "a=1")
			http.Redirect(w, r, "/next", http.StatusFound)
		case "/next":
			cookieOnNext = r.Header.Get("Cookie")
		}
	}))
	defer srv.Close()

	jar, err := cookies.NewMemoryJar()
	require.NoError(t, err)

	client := newTestClient(WithCookieJar(jar))
	_, err = client.Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/start"))
	require.NoError(t, err)
	assert.Equal(t, "a=1", cookieOnNext)
}

func TestClient_CookiePolicies(t *testing.T) {
	var cookieOnNext string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			w.Header().Set("Set-Cookie", "a=1")
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		cookieOnNext = r.Header.Get("Cookie")
	}))
	defer srv.Close()

	jar, err := cookies.NewMemoryJar()
	require.NoError(t, err)
	client := newTestClient(WithCookieJar(jar))

	jar.SetPolicy(false, true)
	_, err = client.Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/start"))
	require.NoError(t, err)
	assert.Empty(t, cookieOnNext, "nothing stored")

	jar.SetPolicy(true, false)
	_, err = client.Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/start"))
	require.NoError(t, err)
	assert.Empty(t, cookieOnNext, "stored but not sent")
	assert.Equal(t, "a=1", jar.CookieStringForURL(srv.URL+"/next"))
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"missing"}`)
	}))
	defer srv.Close()

	_, err := newTestClient().Do(context.Background(), NewRequest(http.MethodGet, srv.URL))
	reqErr := requestError(t, err)

	var httpErr *hwerrors.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "404", reqErr.Status)
	assert.Empty(t, reqErr.Code)
	require.NotNil(t, reqErr.Response)
	assert.Equal(t, `{"error":"missing"}`, reqErr.Response.BodyString())

	errorsLogged := messages(timeline.Filter(reqErr.Timeline, timeline.TypeError))
	assert.Contains(t, errorsLogged, `{"error":"missing"}`)
}

func TestClient_RedirectWithoutLocation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestClient().Do(context.Background(), NewRequest(http.MethodGet, srv.URL))
	reqErr := requestError(t, err)

	var httpErr *hwerrors.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, messages(reqErr.Timeline), "Redirect response is missing a Location header")
}

func TestClient_RelativeAndAbsoluteLocations(t *testing.T) {
	var other *httptest.Server
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a/start":
			w.Header().Set("Location", "next")
			w.WriteHeader(http.StatusFound)
		case "/a/next":
			w.Header().Set("Location", other.URL+"/end")
			w.WriteHeader(http.StatusFound)
		}
	}))
	defer srv.Close()
	other = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "other")
	}))
	defer other.Close()

	resp, err := newTestClient().Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/a/start"))
	require.NoError(t, err)
	assert.Equal(t, "other", resp.BodyString())
	assert.Equal(t, other.URL+"/end", resp.URL)
	assert.Contains(t, messages(resp.Timeline), "Resolving relative redirect URL: next → "+srv.URL+"/a/next")
}

func TestClient_HostHeaderStaysWithItsOrigin(t *testing.T) {
	var otherHost string
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		otherHost = r.Host
		fmt.Fprint(w, "other")
	}))
	defer other.Close()

	var sameHosts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sameHosts = append(sameHosts, r.Host)
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/middle", http.StatusFound)
		case "/middle":
			http.Redirect(w, r, other.URL+"/end", http.StatusFound)
		}
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL+"/start").SetHeader("Host", "api.internal")
	resp, err := newTestClient().Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "other", resp.BodyString())
	assert.Equal(t, []string{"api.internal", "api.internal"}, sameHosts)
	assert.Equal(t, strings.TrimPrefix(other.URL, "http://"), otherHost)
}

func TestClient_NetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = newTestClient().Do(context.Background(), NewRequest(http.MethodGet, "http://"+addr+"/"))
	reqErr := requestError(t, err)

	assert.Equal(t, hwerrors.CodeConnRefused, reqErr.Code)
	assert.Equal(t, hwerrors.CodeConnRefused, reqErr.Status)
	assert.Nil(t, reqErr.Response)
	assert.Contains(t, messages(reqErr.Timeline), "there was an error executing the request!")

	var netErr *hwerrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
}

func TestClient_PerHopTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL).SetTimeout(50 * time.Millisecond)
	_, err := newTestClient().Do(context.Background(), req)
	reqErr := requestError(t, err)

	assert.Contains(t, []string{hwerrors.CodeTimedOut, hwerrors.CodeConnAborted}, reqErr.Code)
}

func TestClient_InvalidURL(t *testing.T) {
	_, err := newTestClient().Do(context.Background(), NewRequest(http.MethodGet, "ftp://example.com/file"))
	requestError(t, err)
	assert.True(t, hwerrors.IsConfiguration(err))
}

func TestClient_ProxySetupFailureFallsBackToDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "direct")
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL)
	req.Proxy = &ProxySettings{Collection: proxy.Collection{Config: proxy.Config{Protocol: "gopher", Hostname: "proxy.test"}}}

	resp, err := newTestClient().Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "direct", resp.BodyString())

	var found bool
	for _, m := range messages(timeline.Filter(resp.Timeline, timeline.TypeError)) {
		found = found || strings.HasPrefix(m, "Proxy setup failed, connecting directly")
	}
	assert.True(t, found)
}

func TestClient_ProxyAndBypass(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer upstream.Close()

	recorder := proxy.NewRecorder()
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()
	pu, _ := url.Parse(proxySrv.URL)

	settings := func(bypass string) *ProxySettings {
		return &ProxySettings{Collection: proxy.Collection{Config: proxy.Config{
			Protocol:    "http",
			Hostname:    pu.Hostname(),
			Port:        pu.Port(),
			BypassProxy: bypass,
		}}}
	}

	client := newTestClient()

	req := NewRequest(http.MethodGet, upstream.URL+"/via-proxy")
	req.Proxy = settings("*.internal")
	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, recorder.GetRecordings(), 1)
	assert.Equal(t, upstream.URL+"/via-proxy", recorder.GetRecordings()[0].Target)

	recorder.Clear()
	req = NewRequest(http.MethodGet, upstream.URL+"/direct")
	req.Proxy = settings("127.0.0.1")
	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, recorder.GetRecordings())
	assert.Contains(t, messages(resp.Timeline), "Proxy bypassed for "+strings.TrimPrefix(upstream.URL, "http://"))

	recorder.Clear()
	req = NewRequest(http.MethodGet, upstream.URL+"/no-proxy")
	req.Proxy = settings("")
	req.Proxy.NoProxy = true
	_, err = client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, recorder.GetRecordings())
}

func TestClient_ConcurrentRedirectBudgetsAreIndependent(t *testing.T) {
	var hits atomic.Int32
	srv := chainServer(t, &hits)
	client := newTestClient()

	var wg sync.WaitGroup
	results := make([]int, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Do(context.Background(), NewRequest(http.MethodGet, srv.URL+"/hop/3"))
			errs[i] = err
			if resp != nil {
				results[i] = resp.Redirects
			}
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 3, results[i])
	}
}

func TestClient_LoopbackNameResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Host)
	}))
	defer srv.Close()
	_, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))

	resp, err := newTestClient().Do(context.Background(), NewRequest(http.MethodGet, "http://app.localhost:"+port+"/"))
	require.NoError(t, err)
	assert.Equal(t, "app.localhost:"+port, resp.BodyString())
	assert.Contains(t, messages(resp.Timeline), "Host app.localhost:"+port+" was resolved.")
}

func TestBuildMultipartBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644))

	body, contentType, err := BuildMultipartBody([]MultipartField{
		{Name: "k", Value: "v"},
		{Name: "f", Path: "a.txt"},
	}, dir)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(contentType, "multipart/form-data; boundary="))

	_, params, _ := strings.Cut(contentType, "boundary=")
	mr := multipart.NewReader(body, params)
	p, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "k", p.FormName())
	p, err = mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", p.FileName())

	_, _, err = BuildMultipartBody([]MultipartField{{Name: "f", Path: "../escape.txt"}}, dir)
	assert.True(t, hwerrors.IsConfiguration(err))

	_, _, err = BuildMultipartBody([]MultipartField{{Name: "f", Path: "missing.txt"}}, dir)
	assert.True(t, hwerrors.IsConfiguration(err))
}

func TestHopFollow(t *testing.T) {
	h := &hop{
		method: http.MethodPost,
		url:    "http://a.test/start",
		headers: []Header{
			{Key: "content-type", Value: "text/plain"},
			{Key: "Content-Length", Value: "7"},
			{Key: "X-Trace", Value: "1"},
		},
		body: &payload{raw: []byte("payload")},
	}

	next := h.follow(http.StatusSeeOther, "http://a.test/next")
	assert.Equal(t, http.MethodGet, next.method)
	assert.Nil(t, next.body)
	assert.Equal(t, []Header{{Key: "X-Trace", Value: "1"}}, next.headers)
	assert.Len(t, h.headers, 3, "original hop untouched")

	kept := h.follow(http.StatusPermanentRedirect, "http://a.test/next")
	assert.Equal(t, http.MethodPost, kept.method)
	assert.Same(t, h.body, kept.body)
	assert.Equal(t, h.headers, kept.headers)
}

func TestHopFollow_HostHeader(t *testing.T) {
	h := &hop{
		method:  http.MethodGet,
		url:     "http://a.test/start",
		headers: []Header{{Key: "host", Value: "api.internal"}, {Key: "X-Trace", Value: "1"}},
	}

	tests := []struct {
		name string
		next string
		want []Header
	}{
		{"same origin", "http://a.test/next", h.headers},
		{"other host", "http://b.test/next", []Header{{Key: "X-Trace", Value: "1"}}},
		{"other port", "http://a.test:8080/next", []Header{{Key: "X-Trace", Value: "1"}}},
		{"other scheme", "https://a.test/next", []Header{{Key: "X-Trace", Value: "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.follow(http.StatusFound, tt.next).headers)
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/x"))
	assert.Error(t, ValidateURL("example.com"))
	assert.Error(t, ValidateURL("http://"))
	assert.Error(t, ValidateURL("file:///etc/passwd"))
}
