package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientVia(t *testing.T, proxyURL string, base *http.Transport) *http.Client {
	t.Helper()
	u, err := url.Parse(proxyURL)
	require.NoError(t, err)
	tr := base
	if tr == nil {
		tr = &http.Transport{}
	}
	tr.Proxy = http.ProxyURL(u)
	return &http.Client{Transport: tr}
}

func TestRecorder_ForwardsPlainRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Proxy-Authorization"))
		w.Header().Set("X-Upstream", "yes")
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	recorder := NewRecorder()
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	req, err := http.NewRequest(http.MethodGet, upstream.URL+"/path", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")

	resp, err := clientVia(t, proxySrv.URL, nil).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	recordings := recorder.GetRecordings()
	require.Len(t, recordings, 1)
	assert.Equal(t, upstream.URL+"/path", recordings[0].Target)
	assert.False(t, recordings[0].Tunnel)
	assert.Equal(t, "[REDACTED]", recordings[0].Headers["Authorization"])
}

func TestRecorder_TunnelsConnect(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer upstream.Close()

	recorder := NewRecorder()
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	base := upstream.Client().Transport.(*http.Transport).Clone()
	resp, err := clientVia(t, proxySrv.URL, base).Get(upstream.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "secure", string(body))

	recordings := recorder.GetRecordings()
	require.Len(t, recordings, 1)
	assert.True(t, recordings[0].Tunnel)
	assert.Equal(t, http.MethodConnect, recordings[0].Method)
	assert.Equal(t, upstream.Listener.Addr().String(), recordings[0].Target)
}

func TestRecorder_BasicAuth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	recorder := NewRecorder(WithBasicAuth("bob", "pw"))
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	resp, err := clientVia(t, proxySrv.URL, nil).Get(upstream.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusProxyAuthRequired, resp.StatusCode)

	u, _ := url.Parse(proxySrv.URL)
	u.User = url.UserPassword("bob", "pw")
	resp, err = clientVia(t, u.String(), nil).Get(upstream.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecorder_ExcludeAndClear(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	recorder := NewRecorder(WithExclude([]string{"/health"}))
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	client := clientVia(t, proxySrv.URL, nil)
	for _, p := range []string{"/health", "/api"} {
		resp, err := client.Get(upstream.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Len(t, recorder.GetRecordings(), 1)
	data, err := recorder.ExportToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "/api")

	recorder.Clear()
	assert.Empty(t, recorder.GetRecordings())
}

func TestRecorder_ConnectRequiresAuth(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer upstream.Close()

	recorder := NewRecorder(WithBasicAuth("bob", "pw"))
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	base := upstream.Client().Transport.(*http.Transport).Clone()
	_, err := clientVia(t, proxySrv.URL, base).Get(upstream.URL)
	require.Error(t, err)

	u, _ := url.Parse(proxySrv.URL)
	u.User = url.UserPassword("bob", "pw")
	base = upstream.Client().Transport.(*http.Transport).Clone()
	resp, err := clientVia(t, u.String(), base).Get(upstream.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	recordings := recorder.GetRecordings()
	require.Len(t, recordings, 2)
	assert.Equal(t, http.StatusProxyAuthRequired, recordings[0].StatusCode)
	assert.Equal(t, http.StatusOK, recordings[1].StatusCode)
	assert.True(t, recordings[1].Tunnel)
	assert.Equal(t, "[REDACTED]", recordings[1].Headers["Proxy-Authorization"])
}

func TestRecorder_RejectsOriginFormRequests(t *testing.T) {
	recorder := NewRecorder()
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	resp, err := http.Get(proxySrv.URL + "/direct")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	recordings := recorder.GetRecordings()
	require.Len(t, recordings, 1)
	assert.Equal(t, http.StatusBadRequest, recordings[0].StatusCode)
}

func TestRecorder_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	recorder := NewRecorder()
	proxySrv := httptest.NewServer(recorder)
	defer proxySrv.Close()

	resp, err := clientVia(t, proxySrv.URL, nil).Get(target + "/gone")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	recordings := recorder.GetRecordings()
	require.Len(t, recordings, 1)
	assert.Equal(t, http.StatusBadGateway, recordings[0].StatusCode)
}
