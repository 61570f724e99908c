package security

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	ErrEndpointScheme = errors.New("endpoint scheme must be http or https")
	ErrEndpointHost   = errors.New("endpoint host is not allowed")
)

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
	"host.docker.internal":     true,
}

// Shared address space (RFC 6598) is not covered by netip.Addr.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// ValidateEndpointURL checks that a configured outbound endpoint (relay, price
// feed) is a public http(s) host. Internal addresses are rejected both as
// literals and after DNS resolution.
func ValidateEndpointURL(rawURL string) error {
	return validateEndpoint(rawURL, net.LookupHost)
}

func validateEndpoint(rawURL string, lookup func(host string) ([]string, error)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ErrEndpointScheme
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: URL must have a host", ErrEndpointHost)
	}
	if blockedHosts[host] {
		return fmt.Errorf("%w: %q", ErrEndpointHost, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	resolved, err := lookup(host)
	if err != nil {
		return fmt.Errorf("cannot resolve endpoint host %s: %w", host, err)
	}
	for _, s := range resolved {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if err := checkAddr(addr); err != nil {
			return fmt.Errorf("endpoint host %q resolves to blocked address: %w", host, err)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	var kind string
	switch {
	case addr.IsLoopback():
		kind = "loopback"
	case addr.IsPrivate():
		kind = "private"
	case sharedAddressSpace.Contains(addr):
		kind = "shared"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		kind = "link-local"
	case addr.IsMulticast():
		kind = "multicast"
	case addr.IsUnspecified():
		kind = "unspecified"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s address %s", ErrEndpointHost, kind, addr)
}
