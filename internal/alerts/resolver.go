package alerts

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Resolver returns the addresses a webhook host points at.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolver asks a single nameserver for A and AAAA records.
type DNSResolver struct {
	client     *dns.Client
	nameserver string
}

func NewDNSResolver(nameserver string) *DNSResolver {
	return &DNSResolver{
		client:     &dns.Client{Timeout: 5 * time.Second},
		nameserver: nameserver,
	}
}

func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, m, r.nameserver)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("failed to resolve %s: %s", host, dns.RcodeToString[resp.Rcode])
		}

		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rec.A); ok {
					addrs = append(addrs, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rec.AAAA); ok {
					addrs = append(addrs, a)
				}
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no A or AAAA records for %s", host)
	}
	return addrs, nil
}
