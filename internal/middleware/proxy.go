package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies makes c.RealIP() honour X-Real-IP and X-Forwarded-For only
// when the direct peer sits inside one of trustedCIDRs.
//
// The gateway is deployed behind a reverse proxy. Without this, c.RealIP()
// would return the proxy's address for every request, so every client would
// share one per-IP login budget and the security event log would record the
// proxy instead of the caller. Trusting the headers from anyone, on the other
// hand, would let an attacker rotate a forged X-Forwarded-For to dodge the
// per-IP limits on /login and /verify_2fa.
//
// TRUSTED_PROXIES defaults to the loopback and private ranges:
//   - "127.0.0.0/8"    -- proxy on the same host
//   - "10.0.0.0/8"     -- Docker and Kubernetes overlay networks
//   - "172.16.0.0/12"  -- Docker default bridge
//   - "192.168.0.0/16" -- LAN
//   - "fd00::/8"       -- IPv6 unique local
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	// Echo consults IPExtractor whenever a handler calls c.RealIP().
	e.IPExtractor = buildIPExtractor(trustedCIDRs)
}

// buildIPExtractor returns an IPExtractor that reads forwarding headers only
// from connections originating in trusted CIDRs. Invalid entries are logged
// and skipped; the server still starts.
func buildIPExtractor(trustedCIDRs []string) echo.IPExtractor {
	var trusted []*net.IPNet
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		trusted = append(trusted, network)
	}

	return func(req *http.Request) string {
		directIP := extractDirectIP(req.RemoteAddr)

		// A direct client's headers are its own claims and are ignored.
		if !isTrusted(directIP, trusted) {
			return directIP
		}

		// X-Real-IP first (nginx and Traefik set it).
		if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}

		// Fall back to X-Forwarded-For; the leftmost entry is the original
		// client when every hop is a trusted proxy.
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			client, _, _ := strings.Cut(xff, ",")
			if client = strings.TrimSpace(client); client != "" {
				return client
			}
		}

		return directIP
	}
}

// extractDirectIP strips the port from a "host:port" RemoteAddr.
func extractDirectIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// isTrusted reports whether ipStr falls inside any trusted network.
func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
