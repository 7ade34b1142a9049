// Package origin decides which browser origins may open signaling sessions.
package origin

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Wildcard in an allow list admits every well-formed origin.
const Wildcard = "*"

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default ports
// dropped) and the host[:port] portion for same-host comparisons. The opaque
// origin "null" is returned as-is with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy is an immutable origin allow list.
//
// The zero Policy is same-host only: an origin is accepted when its host[:port]
// equals the request Host header. Scheme is not compared so the relay keeps
// working behind a TLS-terminating proxy.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy normalizes every entry of allowed. An empty list yields the
// same-host policy.
func NewPolicy(allowed []string) (Policy, error) {
	var p Policy
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if raw == Wildcard {
			p.any = true
			continue
		}
		normalized, _, ok := NormalizeHeader(raw)
		if !ok {
			return Policy{}, fmt.Errorf("invalid allowed origin %q", raw)
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{})
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// SameHostOnly reports whether no explicit allow list was configured.
func (p Policy) SameHostOnly() bool {
	return !p.any && len(p.allowed) == 0
}

// AllowsAny reports whether the wildcard was configured.
func (p Policy) AllowsAny() bool { return p.any }

// Allowed returns the configured origins in sorted order, excluding the
// wildcard.
func (p Policy) Allowed() []string {
	out := lo.Keys(p.allowed)
	slices.Sort(out)
	return out
}

// Allows reports whether a raw Origin header may access requestHost. The
// normalized origin is returned for echoing in CORS headers.
func (p Policy) Allows(originHeader, requestHost string) (string, bool) {
	normalized, originHost, ok := NormalizeHeader(originHeader)
	if !ok {
		return "", false
	}
	if p.any {
		return normalized, true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return normalized, ok
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		// "null" cannot match a host.
		return normalized, false
	}
	reqHost, ok := normalizeAuthority(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return normalized, false
	}
	return normalized, reqHost == originHost
}

// Check applies the policy to r. Requests without an Origin header are not
// browser cross-origin requests and pass.
func (p Policy) Check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if strings.TrimSpace(header) == "" {
		return true
	}
	_, ok := p.Allows(header, r.Host)
	return ok
}

// normalizeAuthority lowercases host[:port], validates the port and drops the
// scheme's default port. IPv6 literals come back bracketed.
func normalizeAuthority(raw, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(raw)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string. The hostname is
// returned without brackets for IPv6 literals; the port is not validated.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, found := strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		hostname, port, _ = strings.Cut(rawHost, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid in an authority.
		return "", "", false
	}
}
