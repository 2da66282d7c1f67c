package proxy

import (
	"github.com/tidwall/gjson"
)

// ParseCollection normalizes a collection-level proxy value. Accepted
// shapes:
//
//	(absent) or "inherit"                      inherit the global policy
//	false                                      disabled
//	{"inherit": bool, "disabled": bool, "config": {...}}
//	{"enabled": true|false|"global", "protocol": ..., ...}   legacy
//	{"protocol": ..., "hostname": ...}         explicit proxy
func ParseCollection(raw string) Collection {
	if raw == "" {
		return InheritCollection
	}
	v := gjson.Parse(raw)

	if v.Type == gjson.False {
		return Collection{Disabled: true}
	}
	// "inherit" and anything unrecognized fall back to inheriting.
	if !v.IsObject() {
		return InheritCollection
	}

	if inherit := v.Get("inherit"); inherit.IsBool() {
		return Collection{
			Disabled: v.Get("disabled").Bool(),
			Inherit:  inherit.Bool(),
			Config:   parseEndpoint(v.Get("config"), false),
		}
	}

	enabled := v.Get("enabled")
	if !enabled.Exists() {
		return Collection{Config: parseEndpoint(v, false)}
	}

	switch {
	case enabled.Type == gjson.True:
		return Collection{Config: parseEndpoint(v, true)}
	case enabled.Type == gjson.False:
		return Collection{Disabled: true, Config: parseEndpoint(v, true)}
	default:
		// "global"
		return Collection{Inherit: true, Config: parseEndpoint(v, true)}
	}
}

// ParseGlobal normalizes the application-level proxy value. Accepted
// shapes are false, "system", an endpoint object, or the legacy
// {"mode": "on"|"off"|"system", ...}. An absent value means system.
func ParseGlobal(raw string) Global {
	if raw == "" {
		return SystemGlobal
	}
	v := gjson.Parse(raw)

	switch v.Type {
	case gjson.False:
		return Global{Mode: ModeOff}
	case gjson.String:
		switch v.String() {
		case "system":
			return SystemGlobal
		case "off":
			return Global{Mode: ModeOff}
		}
		return SystemGlobal
	}
	if !v.IsObject() {
		return SystemGlobal
	}

	mode := v.Get("mode")
	if !mode.Exists() {
		return Global{Mode: ModeOn, Config: parseEndpoint(v, false)}
	}
	switch Mode(mode.String()) {
	case ModeOn:
		return Global{Mode: ModeOn, Config: parseEndpoint(v, true)}
	case ModeSystem:
		return SystemGlobal
	}
	return Global{Mode: ModeOff}
}

// parseEndpoint reads protocol, hostname, port, auth and bypass rules. In
// the legacy shape auth is on only when auth.enabled is true; otherwise it
// is on when a username is present and auth.disabled is not set.
func parseEndpoint(v gjson.Result, legacy bool) Config {
	protocol := v.Get("protocol").String()
	if protocol == "" {
		protocol = "http"
	}

	var port string
	if p := v.Get("port"); p.Exists() && p.Type != gjson.Null {
		port = p.String()
	}

	auth := Auth{
		Username: v.Get("auth.username").String(),
		Password: v.Get("auth.password").String(),
	}
	if legacy {
		auth.Enabled = v.Get("auth.enabled").Bool()
	} else if e := v.Get("auth.enabled"); e.Exists() {
		auth.Enabled = e.Bool()
	} else {
		auth.Enabled = auth.Username != "" && !v.Get("auth.disabled").Bool()
	}

	return Config{
		Protocol:    protocol,
		Hostname:    v.Get("hostname").String(),
		Port:        port,
		Auth:        auth,
		BypassProxy: v.Get("bypassProxy").String(),
	}
}
