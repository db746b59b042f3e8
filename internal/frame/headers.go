package frame

import "net/http"

// hopByHop is the fixed set of headers stripped from both inbound proxy
// requests and outbound target responses so they never leak across the
// relay. Comparison is case-insensitive via http.Header's canonicalization.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Upgrade",
	"Te",
	"Trailers",
}

// SanitizeHeaders returns a copy of h with the hop-by-hop header set removed.
func SanitizeHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], v...)
	}
	for _, k := range hopByHop {
		out.Del(k)
	}
	return out
}

// HeadersToMap converts an http.Header into the plain map[string][]string
// shape used on the wire.
func HeadersToMap(h http.Header) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string][]string, len(h))
	for k, v := range h {
		m[k] = append([]string(nil), v...)
	}
	return m
}

// MapToHeaders converts the wire map[string][]string shape back into an
// http.Header.
func MapToHeaders(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h[k] = append([]string(nil), v...)
	}
	return h
}
