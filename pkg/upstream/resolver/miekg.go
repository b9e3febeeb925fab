package resolver

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Miekg resolves upstream hostnames against a real recursive resolver
// using github.com/miekg/dns, retrying up to the caller-supplied
// retransmit count when an exchange fails.
type Miekg struct {
	// Server is the recursive resolver to query, host:port.
	Server string
}

// NewMiekg returns a Miekg resolver that queries server (host:port).
func NewMiekg(server string) *Miekg {
	return &Miekg{Server: server}
}

// Resolve issues the query on its own goroutine and invokes cb on
// completion.
func (m *Miekg) Resolve(name string, qtype RecordType, timeout time.Duration, retransmits int, cb ResolveFunc) {
	go m.resolveSync(name, qtype, timeout, retransmits, cb)
}

func (m *Miekg) resolveSync(name string, qtype RecordType, timeout time.Duration, retransmits int, cb ResolveFunc) {
	client := &dns.Client{Timeout: timeout}

	msg := new(dns.Msg)
	qt := dns.TypeA
	if qtype == TypeAAAA {
		qt = dns.TypeAAAA
	}
	msg.SetQuestion(dns.Fqdn(name), qt)
	msg.RecursionDesired = true

	var (
		reply *dns.Msg
		err   error
	)

	attempts := retransmits + 1
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		reply, _, err = client.Exchange(msg, m.Server)
		if err == nil {
			break
		}
	}

	if err != nil {
		cb(nil, err)
		return
	}
	if reply.Rcode != dns.RcodeSuccess {
		cb(nil, fmt.Errorf("resolver: %s query for %q: %s", qtype, name, dns.RcodeToString[reply.Rcode]))
		return
	}

	var results []Result
	for _, rr := range reply.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			addr, ok := netip.AddrFromSlice(rec.A.To4())
			if ok {
				results = append(results, Result{Type: TypeA, Addr: addr})
			}
		case *dns.AAAA:
			addr, ok := netip.AddrFromSlice(rec.AAAA.To16())
			if ok {
				results = append(results, Result{Type: TypeAAAA, Addr: addr})
			}
		}
	}

	cb(results, nil)
}
