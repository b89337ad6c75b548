// Package allowlist implements the host[:port] / *.suffix[:port] matching
// rules shared by the state store's is_endpoint_allowed (spec.md 4.1), the
// remote MCP registry (4.7), and the gateway health supervisor (4.8).
package allowlist

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// List is a parsed allowlist of entries. Entries are either exact hosts
// ("api.example.com") or wildcard suffixes ("*.example.com"), each
// optionally constrained to a port.
type List struct {
	entries []entry
}

type entry struct {
	wildcard bool
	suffix   string // for wildcard entries, the part after "*."
	host     string // for exact entries
	port     string // empty means "any default port for the scheme"
}

// Parse builds a List from a comma-separated env-var-style string such as
// "api.example.com,*.example.com:8443".
func Parse(raw string) *List {
	l := &List{}
	if strings.TrimSpace(raw) == "" {
		return l
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, port := splitHostPort(part)
		if strings.HasPrefix(host, "*.") {
			l.entries = append(l.entries, entry{wildcard: true, suffix: host[2:], port: port})
		} else {
			l.entries = append(l.entries, entry{host: host, port: port})
		}
	}
	return l
}

func splitHostPort(s string) (host, port string) {
	if idx := strings.LastIndex(s, ":"); idx != -1 && !strings.Contains(s[idx+1:], ".") {
		// crude port detection: everything after the last colon is numeric
		if _, err := strconv.Atoi(s[idx+1:]); err == nil {
			return s[:idx], s[idx+1:]
		}
	}
	return s, ""
}

// Allowed reports whether rawURL is permitted by the list, per spec.md
// rules: empty list denies all; IPv6 literals always denied; scheme must
// be http or https; default ports are 443 for https and 80 for http;
// wildcard entries match only strict subdomains, never the bare root.
func (l *List) Allowed(rawURL string) bool {
	if len(l.entries) == 0 {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := u.Hostname()
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && strings.Contains(host, ":") {
		return false // IPv6 literal
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	for _, e := range l.entries {
		if e.port != "" && e.port != port {
			continue
		}
		if e.wildcard {
			if !strings.HasSuffix(host, "."+e.suffix) {
				continue
			}
			if e.port == "" && port != defaultPort(u.Scheme) {
				continue
			}
			return true
		}
		if e.port == "" {
			// exact entry without explicit port only matches the default port
			if host == e.host && port == defaultPort(u.Scheme) {
				return true
			}
			continue
		}
		if host == e.host {
			return true
		}
	}
	return false
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}
