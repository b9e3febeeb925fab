package upstream

import (
	"fmt"
	"net/netip"
	"sort"
)

// AddrElt is one resolved address bound to an error counter. A plain
// net/netip address covers IPv4/IPv6; unixPath is set instead for
// local-socket upstreams, which netip cannot represent.
type AddrElt struct {
	addr     netip.AddrPort
	unixPath string
	errors   uint
}

// String renders the address the way a dialer would expect to see it.
func (a *AddrElt) String() string {
	if a.unixPath != "" {
		return a.unixPath
	}
	return a.addr.String()
}

// IsUnix reports whether this address is a local socket path.
func (a *AddrElt) IsUnix() bool {
	return a.unixPath != ""
}

// AddrPort returns the network address, or the zero value for a unix
// socket entry.
func (a *AddrElt) AddrPort() netip.AddrPort {
	return a.addr
}

// familyWeight orders addresses UNIX (2) before IPv4 (1) before IPv6 (0).
func (a *AddrElt) familyWeight() int {
	switch {
	case a.unixPath != "":
		return 2
	case a.addr.Addr().Is4() || a.addr.Addr().Is4In6():
		return 1
	default:
		return 0
	}
}

// sameHost compares two addresses ignoring port, the way the DNS
// reconciliation pass needs to when matching staged addresses against
// existing ones (ports from a fresh resolve are meaningless).
func (a *AddrElt) sameHost(b *AddrElt) bool {
	if a.unixPath != "" || b.unixPath != "" {
		return a.unixPath == b.unixPath
	}
	return a.addr.Addr() == b.addr.Addr()
}

// addrSet is the ordered, cyclically-rotated address sequence owned by
// an Upstream.
type addrSet struct {
	elts []*AddrElt
	cur  int
}

func newAddrSet() *addrSet {
	return &addrSet{}
}

func (s *addrSet) sort() {
	sort.SliceStable(s.elts, func(i, j int) bool {
		return s.elts[i].familyWeight() > s.elts[j].familyWeight()
	})
}

func (s *addrSet) add(e *AddrElt) {
	s.elts = append(s.elts, e)
	s.sort()
}

func (s *addrSet) len() int {
	return len(s.elts)
}

// next advances the cursor cyclically, skipping any address with
// strictly more accumulated errors than the one we're leaving.
func (s *addrSet) next() (*AddrElt, error) {
	n := len(s.elts)
	if n == 0 {
		return nil, fmt.Errorf("upstream: no addresses")
	}
	if n == 1 {
		return s.elts[0], nil
	}

	idx := s.cur
	for {
		nextIdx := (idx + 1) % n
		cur, nxt := s.elts[idx], s.elts[nextIdx]
		s.cur = nextIdx
		if nxt.errors <= cur.errors {
			return nxt, nil
		}
		idx = nextIdx
	}
}

// at returns the address currently under the cursor without mutation.
func (s *addrSet) at() (*AddrElt, error) {
	if len(s.elts) == 0 {
		return nil, fmt.Errorf("upstream: no addresses")
	}
	return s.elts[s.cur], nil
}
