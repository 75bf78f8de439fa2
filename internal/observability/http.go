package observability

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta is the client identity attached to websocket lifecycle
// events: the correlation id the caller supplied, the device the app
// self-reports, and the best-effort client address.
type RequestMeta struct {
	RequestID string
	DeviceID  string
	IP        string
}

// MetaFromRequest extracts RequestMeta once at handshake time. The IP
// prefers the first X-Forwarded-For hop so proxied deployments report the
// caller rather than the proxy.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		RequestID: r.Header.Get("X-Request-Id"),
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
