package alerts

import (
	"context"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/leozw/agentpulse/internal/core"
)

var blockedSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".lan",
	".home.arpa",
	".intranet",
	".corp",
}

var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"100.100.100.200":          true,
	"fd00:ec2::254":            true,
}

// ValidateWebhookURL rejects destinations that could reach the service's own
// network: non-https schemes, local names, private or loopback literals and
// cloud metadata endpoints. When resolver is non-nil the host's addresses are
// checked as well.
func ValidateWebhookURL(ctx context.Context, raw string, resolver Resolver) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return core.Validation("webhook_url must be an absolute URL")
	}
	if u.Scheme != "https" {
		return core.Validation("webhook_url must use https")
	}
	if u.User != nil {
		return core.Validation("webhook_url must not carry credentials")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return core.Validation("webhook_url must have a host")
	}
	if metadataHosts[host] {
		return core.Validation("webhook_url host is not allowed")
	}
	if host == "localhost" {
		return core.Validation("webhook_url host is not allowed")
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return core.Validation("webhook_url host is not allowed")
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if forbiddenAddr(addr) {
			return core.Validation("webhook_url host is not allowed")
		}
		return nil
	}

	// Resolvers accept shorthand, decimal, octal and hex IPv4 (127.1,
	// 2130706433, 0x7f000001); only the dotted-quad spelling is allowed.
	if _, ok := parseLegacyIPv4(host); ok {
		return core.Validation("webhook_url IPv4 host must be a dotted-quad address")
	}
	if numericLabel(lastLabel(host)) {
		return core.Validation("webhook_url host is not a valid address")
	}

	if resolver == nil {
		return nil
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return core.Validation("webhook_url host does not resolve")
	}
	for _, addr := range addrs {
		if forbiddenAddr(addr) {
			return core.Validation("webhook_url host resolves to a private address")
		}
	}
	return nil
}

var (
	ipv4Compatible = netip.MustParsePrefix("::/96")
	nat64WellKnown = netip.MustParsePrefix("64:ff9b::/96")
	nat64Local     = netip.MustParsePrefix("64:ff9b:1::/48")
	sixToFour      = netip.MustParsePrefix("2002::/16")
	sharedAddress  = netip.MustParsePrefix("100.64.0.0/10")
)

func forbiddenAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if metadataHosts[addr.String()] {
		return true
	}
	if addr.Is6() {
		// IPv6 forms that carry an IPv4 address the network may route to.
		if ipv4Compatible.Contains(addr) || nat64WellKnown.Contains(addr) || nat64Local.Contains(addr) {
			return true
		}
		if sixToFour.Contains(addr) {
			b := addr.As16()
			return forbiddenAddr(netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}))
		}
	}
	if sharedAddress.Contains(addr) {
		return true
	}
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		addr.IsMulticast() ||
		addr.IsInterfaceLocalMulticast()
}

// parseLegacyIPv4 parses host the way inet_aton does: one to four parts,
// each decimal, octal (leading 0) or hex (0x), the last part filling the
// remaining bytes.
func parseLegacyIPv4(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, false
	}

	values := make([]uint64, len(parts))
	for i, part := range parts {
		v, ok := parseIPv4Part(part)
		if !ok {
			return netip.Addr{}, false
		}
		values[i] = v
	}

	var ip uint64
	for i, v := range values[:len(values)-1] {
		if v > 0xff {
			return netip.Addr{}, false
		}
		ip |= v << (8 * (3 - i))
	}
	last := values[len(values)-1]
	if last >= 1<<(8*(5-len(values))) {
		return netip.Addr{}, false
	}
	ip |= last

	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}), true
}

func parseIPv4Part(part string) (uint64, bool) {
	if part == "" {
		return 0, false
	}
	base := 10
	digits := part
	switch {
	case len(part) > 1 && (part[:2] == "0x" || part[:2] == "0X"):
		base, digits = 16, part[2:]
		if digits == "" {
			return 0, true
		}
	case len(part) > 1 && part[0] == '0':
		base, digits = 8, part[1:]
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lastLabel(host string) string {
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return host
}

// numericLabel reports whether label would make a URL host parse as IPv4.
func numericLabel(label string) bool {
	if label == "" {
		return false
	}
	if strings.HasPrefix(label, "0x") {
		_, err := strconv.ParseUint(label[2:], 16, 64)
		return label == "0x" || err == nil
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
