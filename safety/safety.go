// Package safety holds the guards applied wherever data scraped from the host
// page crosses into something that acts on it: post URLs handed to the
// archive client, markup injected back into the page, and request bodies read
// by the admin API.
package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// MaxBody is the default cap for request and response bodies (8 MiB).
const MaxBody int64 = 8 << 20

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("safety: only http and https schemes are allowed")

// ErrNoHost is returned when a URL has no hostname.
var ErrNoHost = errors.New("safety: URL has no host")

// ErrPrivateHost is returned when a URL names a private or loopback address.
var ErrPrivateHost = errors.New("safety: URL targets a private or loopback address")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("safety: body exceeds limit")

// ErrInvalidHost is returned when a hostname is not a valid IDNA name.
var ErrInvalidHost = errors.New("safety: invalid hostname")

// ValidatePostURL checks that rawURL is an absolute http(s) URL with a host
// that is not a literal private IP. Hostnames are not resolved: the URL is
// only ever forwarded to the archive, never dialled directly. Unicode
// hostnames are checked in their ASCII form so look-alikes of localhost
// are caught.
func ValidatePostURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safety: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return ErrNoHost
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateHost
		}
		return nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHost, err)
	}
	if ascii == "localhost" || strings.HasSuffix(ascii, ".localhost") {
		return ErrPrivateHost
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

var privateRanges = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
