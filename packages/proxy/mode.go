package proxy

import (
	"fmt"
	"net/url"
	"strings"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

// Mode is the effective proxy mode of a request.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeOn     Mode = "on"
	ModeSystem Mode = "system"
)

// Auth holds proxy credentials.
type Auth struct {
	Enabled  bool   `json:"enabled"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Config is an explicit proxy endpoint.
type Config struct {
	Protocol    string `json:"protocol"`
	Hostname    string `json:"hostname"`
	Port        string `json:"port,omitempty"`
	Auth        Auth   `json:"auth"`
	BypassProxy string `json:"bypassProxy,omitempty"`
}

// SOCKS4 is not offered because the SOCKS dialer only speaks SOCKS5.
var supportedProtocols = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// IsSOCKS reports whether the protocol names a SOCKS proxy.
func (c Config) IsSOCKS() bool {
	return strings.Contains(strings.ToLower(c.Protocol), "socks")
}

// URL builds the proxy URI. A missing or unknown protocol and a missing
// hostname are configuration errors.
func (c Config) URL() (*url.URL, error) {
	protocol := strings.ToLower(strings.TrimSpace(c.Protocol))
	if protocol == "" || c.Hostname == "" {
		return nil, &hwerrors.ConfigurationError{
			Key:    "proxy",
			Reason: "proxy protocol and hostname are required when proxy is enabled",
		}
	}
	if !supportedProtocols[protocol] {
		return nil, &hwerrors.ConfigurationError{
			Key:    "proxy.protocol",
			Reason: fmt.Sprintf("unsupported proxy protocol %q", c.Protocol),
		}
	}
	if strings.ContainsAny(c.Hostname, "/@ ") {
		return nil, &hwerrors.ConfigurationError{
			Key:    "proxy.hostname",
			Reason: fmt.Sprintf("invalid proxy hostname %q", c.Hostname),
		}
	}

	host := c.Hostname
	if c.Port != "" {
		host = host + ":" + c.Port
	}
	u := &url.URL{Scheme: protocol, Host: host}
	if c.Auth.Enabled {
		u.User = url.UserPassword(c.Auth.Username, c.Auth.Password)
	}
	return u, nil
}

// Collection is the normalized collection-level proxy policy.
type Collection struct {
	Disabled bool
	Inherit  bool
	Config   Config
}

// InheritCollection is the policy used when a collection says nothing.
var InheritCollection = Collection{Inherit: true}

// Global is the normalized application-level proxy policy.
type Global struct {
	Mode   Mode
	Config Config
}

// SystemGlobal defers to the proxy environment variables.
var SystemGlobal = Global{Mode: ModeSystem}

// Inputs gathers every layer that takes part in mode resolution.
type Inputs struct {
	NoProxy    bool
	Collection Collection
	Global     Global
	System     SystemSettings
}

// Decision is the resolved proxy policy of a request.
type Decision struct {
	Mode   Mode
	Config Config
	System SystemSettings
}

// Resolve computes the effective proxy mode. An explicit no-proxy flag or a
// disabled collection proxy turns proxying off. A collection proxy that
// does not inherit is used as is. An inheriting collection follows the
// global policy, and system mode only applies when a proxy variable is set.
func Resolve(in Inputs) Decision {
	if in.NoProxy || in.Collection.Disabled {
		return Decision{Mode: ModeOff}
	}
	if !in.Collection.Inherit {
		return Decision{Mode: ModeOn, Config: in.Collection.Config}
	}

	switch in.Global.Mode {
	case ModeOn:
		return Decision{Mode: ModeOn, Config: in.Global.Config}
	case ModeOff:
		return Decision{Mode: ModeOff}
	}

	if in.System.Present() {
		return Decision{Mode: ModeSystem, System: in.System}
	}
	return Decision{Mode: ModeOff}
}

// BypassList returns the bypass rules that apply to this decision.
func (d Decision) BypassList() string {
	switch d.Mode {
	case ModeOn:
		return d.Config.BypassProxy
	case ModeSystem:
		return d.System.NoProxy
	}
	return ""
}

// Route is the proxy chosen for one target URL. A nil URL means direct.
type Route struct {
	URL      *url.URL
	SOCKS    bool
	Bypassed bool
}

// Redacted returns the proxy URI with the password masked.
func (r Route) Redacted() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Redacted()
}

// RouteFor selects the proxy for rawURL. Errors describe a proxy that
// cannot be set up; callers may fall back to a direct connection.
func (d Decision) RouteFor(rawURL string) (Route, error) {
	switch d.Mode {
	case ModeOn:
		if !ShouldUseProxy(rawURL, d.Config.BypassProxy) {
			return Route{Bypassed: true}, nil
		}
		u, err := d.Config.URL()
		if err != nil {
			return Route{}, err
		}
		return Route{URL: u, SOCKS: d.Config.IsSOCKS()}, nil
	case ModeSystem:
		if !ShouldUseProxy(rawURL, d.System.NoProxy) {
			return Route{Bypassed: true}, nil
		}
		u, err := d.System.ProxyFor(rawURL)
		if err != nil || u == nil {
			return Route{}, err
		}
		return Route{URL: u, SOCKS: strings.Contains(u.Scheme, "socks")}, nil
	}
	return Route{}, nil
}
