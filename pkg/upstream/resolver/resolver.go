// Package resolver defines the DNS resolver collaborator the upstream
// core consumes for lazy re-resolution, plus a production
// implementation over github.com/miekg/dns and a fixture-based
// implementation for tests.
package resolver

import (
	"net/netip"
	"time"
)

// RecordType is the DNS record type a query asks for.
type RecordType int

const (
	TypeA RecordType = iota
	TypeAAAA
)

func (t RecordType) String() string {
	if t == TypeAAAA {
		return "AAAA"
	}
	return "A"
}

// Result is one resolved address returned in a reply.
type Result struct {
	Type RecordType
	Addr netip.Addr
}

// ResolveFunc is the completion callback a query is issued with; err is
// non-nil on failure (timeout, NXDOMAIN, transport error), in which
// case results is empty.
type ResolveFunc func(results []Result, err error)

// Resolver issues an asynchronous DNS query; the completion callback
// runs on a goroutine the implementation owns, not synchronously within
// Resolve.
type Resolver interface {
	Resolve(name string, qtype RecordType, timeout time.Duration, retransmits int, cb ResolveFunc)
}
