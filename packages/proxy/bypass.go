package proxy

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPorts maps URL schemes to the port assumed when a URL has none.
var DefaultPorts = map[string]int{
	"ftp":    21,
	"gopher": 70,
	"http":   80,
	"https":  443,
	"ws":     80,
	"wss":    443,
}

var (
	ruleSeparator = regexp.MustCompile(`[,;\s]`)
	rulePort      = regexp.MustCompile(`^(.+):(\d+)$`)
	hostPort      = regexp.MustCompile(`:\d*$`)
)

// ShouldUseProxy evaluates a bypass list against rawURL. "*" disables the
// proxy for every URL and an empty list enables it for every URL. Otherwise
// a single matching rule bypasses the proxy. Rules are separated by commas,
// semicolons or whitespace and take the forms "host", "host:port",
// "*.suffix" or ".suffix".
func ShouldUseProxy(rawURL, bypass string) bool {
	if bypass == "*" {
		return false
	}
	if strings.TrimSpace(bypass) == "" {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	// Strip the port from Host rather than using Hostname() so IPv6
	// brackets stay in place.
	hostname := strings.ToLower(hostPort.ReplaceAllString(u.Host, ""))
	port, _ := strconv.Atoi(u.Port())
	if port == 0 {
		port = DefaultPorts[scheme]
	}

	for _, rule := range ruleSeparator.Split(bypass, -1) {
		if rule == "" {
			continue
		}
		if ruleMatches(strings.ToLower(rule), hostname, port) {
			return false
		}
	}
	return true
}

func ruleMatches(rule, hostname string, port int) bool {
	ruleHost := rule
	if m := rulePort.FindStringSubmatch(rule); m != nil {
		ruleHost = m[1]
		rulePortNum, _ := strconv.Atoi(m[2])
		if rulePortNum != 0 && rulePortNum != port {
			return false
		}
	}

	if !strings.HasPrefix(ruleHost, "*") && !strings.HasPrefix(ruleHost, ".") {
		return hostname == ruleHost
	}

	ruleHost = strings.TrimPrefix(ruleHost, "*")
	return strings.HasSuffix(hostname, ruleHost)
}
