package httpclient

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// CheckSSRF rejects URLs whose scheme is not http/https, or whose
// resolved host is loopback, RFC1918-private, link-local, unspecified,
// "localhost", or ends in ".local"/".internal" — the guard required for
// any outbound HTTP fetch tool (§4.3).
func CheckSSRF(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not permitted", u.Scheme)
	}

	host := u.Hostname()
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("host %q is not permitted", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname, not a literal IP: resolve so a DNS-rebinding attempt
		// against a private address is still caught.
		addrs, err := net.LookupIP(host)
		if err != nil {
			// Unresolvable hosts fail at request time anyway; let the
			// request itself surface the network error.
			return nil
		}
		for _, addr := range addrs {
			if err := checkIP(addr); err != nil {
				return err
			}
		}
		return nil
	}
	return checkIP(ip)
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address %s is not permitted", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private address %s is not permitted", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s is not permitted", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s is not permitted", ip)
	default:
		return nil
	}
}
