package proxy

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

// SystemSettings are the proxy environment variables of the process.
type SystemSettings struct {
	HTTPProxy  string `json:"http_proxy,omitempty"`
	HTTPSProxy string `json:"https_proxy,omitempty"`
	NoProxy    string `json:"no_proxy,omitempty"`
}

// SystemFromEnvironment reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY (or
// their lowercase forms).
func SystemFromEnvironment() SystemSettings {
	cfg := httpproxy.FromEnvironment()
	return SystemSettings{
		HTTPProxy:  cfg.HTTPProxy,
		HTTPSProxy: cfg.HTTPSProxy,
		NoProxy:    cfg.NoProxy,
	}
}

// Present reports whether an HTTP or HTTPS proxy is configured.
func (s SystemSettings) Present() bool {
	return s.HTTPProxy != "" || s.HTTPSProxy != ""
}

// ProxyFor returns the proxy for rawURL. HTTPS targets only use
// HTTPSProxy; everything else uses HTTPProxy. A nil URL means direct.
func (s SystemSettings) ProxyFor(rawURL string) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	raw, name := s.HTTPProxy, "http_proxy"
	if strings.EqualFold(target.Scheme, "https") || strings.EqualFold(target.Scheme, "wss") {
		raw, name = s.HTTPSProxy, "https_proxy"
	}
	if raw == "" {
		return nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !supportedProtocols[strings.ToLower(u.Scheme)] {
		return nil, &hwerrors.ConfigurationError{
			Key:    name,
			Reason: fmt.Sprintf("invalid system %s %q", name, raw),
			Cause:  err,
		}
	}
	return u, nil
}
