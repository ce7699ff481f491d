package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"github.com/CaioWing/Ledger/internal/domain"
)

// SessionInfo snapshots the client of a request. RemoteAddr is expected to
// have been resolved by chi's RealIP middleware. Header bytes that are not
// valid UTF-8 are replaced so the snapshot hashes the same once stored.
func SessionInfo(r *http.Request) *domain.SessionInfo {
	info := &domain.SessionInfo{IPAddress: domain.ValidUTF8(clientIP(r))}

	if raw := r.UserAgent(); raw != "" {
		ua := useragent.New(raw)
		name, version := ua.Browser()
		info.Browser = domain.ValidUTF8(strings.TrimSpace(name + " " + version))
		info.OS = domain.ValidUTF8(ua.OS())
		switch {
		case ua.Bot():
			info.Device = "bot"
		case ua.Mobile():
			info.Device = "mobile"
		default:
			info.Device = "desktop"
		}
	}
	return info
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
