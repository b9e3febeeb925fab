package upstream

import (
	"math/rand/v2"
	"net/netip"
	"strings"

	"github.com/mailward/upstream/pkg/upstream/resolver"
)

// resolveAddrs kicks off a fresh A+AAAA resolve for u, unless the
// upstream is NoResolve, names a path socket, already has a resolve in
// flight, or no configured Ctx/resolver backs it — in any of those
// cases it is a silent no-op, dropped and retried on the next lazy
// tick rather than reported as an error.
func (u *Upstream) resolveAddrs() {
	u.mu.Lock()
	list := u.list
	noResolve := u.noResolve
	name := u.name
	u.mu.Unlock()

	if list == nil || noResolve || strings.HasPrefix(name, "/") {
		return
	}

	ctx := list.ctx
	if ctx == nil {
		return
	}

	res, logger, configured := ctx.snapshot()
	if res == nil || !configured {
		return
	}

	list.mu.Lock()
	timeout := list.limits.DNSTimeout
	retransmits := list.limits.DNSRetransmits
	list.mu.Unlock()

	u.mu.Lock()
	if u.dnsRequests > 0 {
		u.mu.Unlock()
		return
	}
	u.dnsRequests = 2
	u.mu.Unlock()

	if logger != nil {
		logger.Debug("resolving upstream addresses", "uid", u.uid, "name", name)
	}

	res.Resolve(name, resolver.TypeA, timeout, retransmits, func(results []resolver.Result, err error) {
		u.dnsReply(results, err)
	})
	res.Resolve(name, resolver.TypeAAAA, timeout, retransmits, func(results []resolver.Result, err error) {
		u.dnsReply(results, err)
	})
}

// dnsReply is the completion callback for one of the two in-flight
// queries (A or AAAA). A failed query (ResolveError) is silently
// absorbed: no entries are staged for it, and the in-flight counter
// still decrements normally.
func (u *Upstream) dnsReply(results []resolver.Result, err error) {
	u.mu.Lock()

	if err == nil {
		for _, r := range results {
			u.pendingAddrs = append(u.pendingAddrs, &AddrElt{addr: netip.AddrPortFrom(r.Addr, 0)})
		}
	}

	u.dnsRequests--
	remaining := u.dnsRequests

	if remaining <= 0 {
		u.reconcileAddrsLocked()
	}

	u.mu.Unlock()
}

// reconcileAddrsLocked merges the staged address set accumulated from
// the A and AAAA replies into the upstream's live address set,
// preserving each surviving address's error history so that a name
// resolving to an overlapping set across refreshes doesn't erase
// accumulated health data. Caller must hold u.mu.
func (u *Upstream) reconcileAddrsLocked() {
	staged := u.pendingAddrs
	u.pendingAddrs = nil

	if len(staged) == 0 {
		return
	}

	port := u.defaultPort
	if u.addrs.len() > 0 {
		port = u.addrs.elts[0].addr.Port()
	}

	// 10% probability of freshening accumulated error counts on refresh.
	resetErrors := rand.Float64() < 0.1

	merged := make([]*AddrElt, 0, len(staged))
	for _, s := range staged {
		s.addr = netip.AddrPortFrom(s.addr.Addr(), port)

		var matched *AddrElt
		for _, old := range u.addrs.elts {
			if old.sameHost(s) {
				matched = old
				break
			}
		}

		if matched != nil {
			errs := matched.errors
			if resetErrors {
				errs = 0
			}
			merged = append(merged, &AddrElt{addr: s.addr, errors: errs})
		} else {
			merged = append(merged, &AddrElt{addr: s.addr, errors: 0})
		}
	}

	u.addrs = &addrSet{elts: merged}
	u.addrs.sort()
}
