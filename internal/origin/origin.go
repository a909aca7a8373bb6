// Package origin checks browser Origin headers against the gateway's allowed
// origins. Signaling clients are browsers, so both the HTTP surface and the
// WebSocket upgrade use the same Policy.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Policy decides which browser origins may reach the gateway.
//
// An empty allow list means same-host only: the Origin host[:port] must match
// the request Host. Otherwise each entry is "*" or a normalized origin.
type Policy struct {
	allowed []string
}

func NewPolicy(allowedOrigins []string) Policy {
	return Policy{allowed: append([]string(nil), allowedOrigins...)}
}

// Check returns the normalized origin of r and whether it is allowed. Requests
// without an Origin header are not browser cross-origin requests and pass with
// an empty origin.
func (p Policy) Check(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(header)
	if !ok {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, r.Host, p.allowed)
}

// CheckOrigin adapts p to websocket.Upgrader.CheckOrigin.
func (p Policy) CheckOrigin(r *http.Request) bool {
	_, ok := p.Check(r)
	return ok
}

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion for same-host comparisons. "null" is returned as-is with an empty
// host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
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

// IsAllowed reports whether normalizedOrigin (from NormalizeHeader) may access
// requestHost under allowedOrigins.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	// Scheme is not compared: a TLS-terminating proxy in front of the gateway
	// makes HTTPS origins arrive on plain HTTP requests.
	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}

	requestAuthority, ok := normalizeAuthority(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == requestAuthority
}

// normalizeAuthority lowercases host[:port], validates the port, drops the
// scheme's default port and brackets IPv6 literals.
func normalizeAuthority(authority, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
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

// splitHostPort splits host[:port]. IPv6 hostnames come back without
// brackets; the port is not validated.
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

	hostname, port, found := strings.Cut(rawHost, ":")
	if !found {
		return rawHost, "", true
	}
	if hostname == "" || port == "" || strings.Contains(port, ":") {
		// Unbracketed IPv6 literals are not valid authorities.
		return "", "", false
	}
	return hostname, port, true
}
