package socks5

import (
	"context"
	"fmt"
	"net"
)

// Resolver resolves an FQDN to an ordered, non-empty list of candidate
// addresses, or returns an error. Spec.md §4.6 treats resolution as a
// blocking synchronous primitive; design note §9 calls out that a
// production implementation would instead push this to a worker and
// resume via the selector's Notify/HandleBlock path — REQUEST_RESOLVING
// exists as its own state for exactly that reason, even though this
// core resolves inline.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// stdResolver resolves via the stdlib resolver, matching spec.md's
// "consumed as a blocking synchronous primitive" contract.
type stdResolver struct {
	r *net.Resolver
}

// NewResolver returns the default synchronous Resolver.
func NewResolver() Resolver {
	return &stdResolver{r: net.DefaultResolver}
}

func (s *stdResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := s.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %q", ErrResolveFailed, host)
	}
	out := make([]net.IP, len(addrs))
	for i, a := range addrs {
		out[i] = a.IP
	}
	return out, nil
}
