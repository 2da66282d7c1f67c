package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCollection(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Collection
	}{
		{"absent", "", InheritCollection},
		{"false", `false`, Collection{Disabled: true}},
		{"inherit string", `"inherit"`, InheritCollection},
		{
			"new format",
			`{"inherit": false, "config": {"protocol": "https", "hostname": "p.test", "port": 8443, "auth": {"username": "u", "password": "p"}, "bypassProxy": "*.local"}}`,
			Collection{Config: Config{Protocol: "https", Hostname: "p.test", Port: "8443", Auth: Auth{Enabled: true, Username: "u", Password: "p"}, BypassProxy: "*.local"}},
		},
		{
			"new format disabled with auth disabled",
			`{"inherit": false, "disabled": true, "config": {"hostname": "p.test", "auth": {"username": "u", "disabled": true}}}`,
			Collection{Disabled: true, Config: Config{Protocol: "http", Hostname: "p.test", Auth: Auth{Username: "u"}}},
		},
		{
			"legacy enabled true",
			`{"enabled": true, "protocol": "http", "hostname": "p.test", "port": 8080, "auth": {"enabled": true, "username": "user", "password": "pass"}, "bypassProxy": "localhost"}`,
			Collection{Config: Config{Protocol: "http", Hostname: "p.test", Port: "8080", Auth: Auth{Enabled: true, Username: "user", Password: "pass"}, BypassProxy: "localhost"}},
		},
		{
			"legacy enabled false",
			`{"enabled": false, "protocol": "http", "hostname": "p.test"}`,
			Collection{Disabled: true, Config: Config{Protocol: "http", Hostname: "p.test"}},
		},
		{
			"legacy global",
			`{"enabled": "global", "protocol": "http", "hostname": "", "port": null}`,
			Collection{Inherit: true, Config: Config{Protocol: "http"}},
		},
		{
			"plain object",
			`{"protocol": "socks5", "hostname": "s.test", "port": "1080"}`,
			Collection{Config: Config{Protocol: "socks5", Hostname: "s.test", Port: "1080"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCollection(tt.raw))
		})
	}
}

func TestParseGlobal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Global
	}{
		{"absent", "", SystemGlobal},
		{"false", `false`, Global{Mode: ModeOff}},
		{"system", `"system"`, SystemGlobal},
		{"object", `{"protocol": "http", "hostname": "g.test", "port": 3128}`, Global{Mode: ModeOn, Config: Config{Protocol: "http", Hostname: "g.test", Port: "3128"}}},
		{"legacy on", `{"mode": "on", "protocol": "http", "hostname": "g.test"}`, Global{Mode: ModeOn, Config: Config{Protocol: "http", Hostname: "g.test"}}},
		{"legacy system", `{"mode": "system"}`, SystemGlobal},
		{"legacy off", `{"mode": "off", "hostname": "g.test"}`, Global{Mode: ModeOff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGlobal(tt.raw))
		})
	}
}
