// Package origin implements the browser Origin policy for WebSocket
// upgrades.
package origin

import (
	"net/url"
	"strings"
)

// Allowed reports whether a request carrying the given Origin header may open
// a connection.
//
// Non-browser clients send no Origin header and are always allowed; the
// protocol's own version gate and client-id checks apply to them like anyone
// else. When allowlist is non-empty, each entry is either "*" or a full
// origin ("https://example.com"). With an empty allowlist the policy is
// same-host: the Origin's host[:port] must match the request's Host header.
func Allowed(originHeader, requestHost string, allowlist []string) bool {
	o := strings.TrimSpace(originHeader)
	if o == "" {
		return true
	}

	if len(allowlist) > 0 {
		for _, allowed := range allowlist {
			if allowed == "*" || strings.EqualFold(allowed, o) {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(o)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, strings.TrimSpace(requestHost))
}
