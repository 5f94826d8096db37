package admin

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/blockreasons/idgen"
	"github.com/hazyhaar/blockreasons/kit"
	"github.com/hazyhaar/blockreasons/safety"
)

// responseHeaders are set on every admin response. The API only serves
// JSON, so nothing it returns may render or be framed.
var responseHeaders = [][2]string{
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// Harden applies responseHeaders, caps the request body at maxBody and
// refuses requests a page on the web could make: a Host that is neither a
// loopback name, an IP literal nor listenAddr's host (DNS rebinding), and a
// browser Origin that differs from the Host.
func Harden(maxBody int64, listenAddr string) func(http.Handler) http.Handler {
	listenHost := hostname(listenAddr)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range responseHeaders {
				w.Header().Set(h[0], h[1])
			}
			if !allowedHost(r.Host, listenHost) {
				writeError(w, http.StatusForbidden, errForeignHost)
				return
			}
			if o := r.Header.Get("Origin"); o != "" && !sameHost(o, r.Host) {
				writeError(w, http.StatusForbidden, errCrossOrigin)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			}
			next.ServeHTTP(w, r)
		})
	}
}

var (
	errCrossOrigin = errors.New("cross-origin request refused")
	errForeignHost = errors.New("request for a foreign host refused")
)

// allowedHost accepts hosts a rebinding attack cannot produce. Rebinding
// needs a DNS name the attacker controls, so IP literals always pass.
func allowedHost(host, listenHost string) bool {
	h := hostname(host)
	switch {
	case h == "":
		return false
	case h == "localhost", net.ParseIP(h) != nil:
		return true
	}
	return listenHost != "" && h == listenHost
}

// hostname strips the port and brackets and lowercases.
func hostname(hostport string) string {
	h := hostport
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		h = host
	}
	return strings.ToLower(strings.Trim(h, "[]"))
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// RequestID tags each request with an id carried in the context, the
// X-Request-ID response header and one access log line.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	gen := idgen.RequestIDs()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := gen()
			ctx := kit.WithCaller(r.Context(), kit.Caller{
				Transport:  kit.TransportHTTP,
				RequestID:  id,
				RemoteAddr: r.RemoteAddr,
			})
			w.Header().Set("X-Request-ID", id)
			logger.Debug("admin: request", "request_id", id, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DefaultStack is the middleware applied by Service.Handler. listenAddr is
// the admin listener address; its host, when a name, is accepted as Host.
func DefaultStack(logger *slog.Logger, listenAddr string) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID(logger),
		Harden(safety.MaxBody, listenAddr),
	}
}
