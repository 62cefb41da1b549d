package dns

import (
	"context"
	"net"

	coredns "github.com/artpar/shipyard/internal/core/dns"
)

// Lookuper is the subset of net.Resolver used for verification.
type Lookuper interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Resolver performs DNS lookups for domain verification.
type Resolver struct {
	resolver Lookuper
}

// NewResolver creates a resolver backed by lookup, or the system resolver when nil.
func NewResolver(lookup Lookuper) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{resolver: lookup}
}

// Resolve performs DNS lookups for the given hostname and returns a VerificationInput
// that can be passed to the pure verification function.
func (r *Resolver) Resolve(ctx context.Context, hostname string) coredns.VerificationInput {
	input := coredns.VerificationInput{
		Hostname: hostname,
	}

	// A host without a CNAME resolves to itself.
	cname, err := r.resolver.LookupCNAME(ctx, hostname)
	if err == nil && cname != "" && coredns.NormalizeHostname(cname) != coredns.NormalizeHostname(hostname) {
		input.CNAMERecords = []string{cname}
	}

	ips, err := r.resolver.LookupIPAddr(ctx, hostname)
	if err == nil {
		for _, ip := range ips {
			input.ARecords = append(input.ARecords, ip.IP)
		}
	}

	if len(input.CNAMERecords) == 0 && len(input.ARecords) == 0 {
		input.LookupError = "no DNS records found for " + hostname
	}

	return input
}
