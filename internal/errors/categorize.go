package errors

import (
	"net/url"
	"strings"
)

// categorizeURL reduces a URL to a coarse category string for telemetry.
// Hostnames and paths are never reported verbatim.
func categorizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1":
		return "local"
	case strings.Contains(u.Path, "/stream"):
		return "stream-endpoint"
	case strings.Contains(u.Path, "/session"):
		return "session-endpoint"
	case strings.Contains(u.Path, "/notifications"):
		return "poll-endpoint"
	default:
		return "remote"
	}
}
