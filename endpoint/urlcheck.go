package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// CheckURL validates that raw is an HTTPS URL whose host is not on a
// loopback, link-local or private network. Hostnames are resolved with r and
// every returned address must pass.
func CheckURL(ctx context.Context, r Resolver, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return &ValidationError{Field: "url", Message: "must use https"}
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return &ValidationError{Field: "url", Message: "missing host"}
	}
	if IsLocalName(host) {
		return &ValidationError{Field: "url", Message: "host is not publicly routable"}
	}

	if addr, parseErr := netip.ParseAddr(host); parseErr == nil {
		return CheckAddr(addr)
	}

	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return &ValidationError{Field: "url", Message: fmt.Sprintf("host %q does not resolve", host)}
	}
	for _, addr := range addrs {
		if err := CheckAddr(addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckAddr rejects loopback, private, link-local, multicast and other
// addresses that are not publicly routable.
func CheckAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return &ValidationError{Field: "url", Message: "host is not publicly routable"}
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return &ValidationError{Field: "url", Message: "host is not publicly routable"}
		}
	}
	return nil
}

// IsLocalName reports whether host is localhost or a name under it.
func IsLocalName(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}
