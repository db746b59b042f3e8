package outbound

import (
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// ResolveServerReachProxy picks the proxy URL used to reach the relay: an
// explicit --proxy flag wins, otherwise HTTPS_PROXY/HTTP_PROXY (and their
// lowercase forms) are consulted the way any well-behaved HTTP client would.
func ResolveServerReachProxy(explicit string, targetIsHTTPS bool) (*url.URL, error) {
	if explicit != "" {
		return url.Parse(explicit)
	}
	cfg := httpproxy.FromEnvironment()
	raw := cfg.HTTPProxy
	if targetIsHTTPS {
		raw = cfg.HTTPSProxy
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}
