package upstream

import (
	"sync"
	"time"
)

// RotationAlg selects how Get picks among the alive upstreams of a
// list.
type RotationAlg int

const (
	// RotUndef means "no explicit algorithm chosen"; Get falls back to
	// its default_rotation argument.
	RotUndef RotationAlg = iota
	RotRandom
	RotMasterSlave
	RotRoundRobin
	RotHashed
	RotSequential
)

// timerKind tracks which of the two purposes (lazy resolve vs revive)
// an Upstream's single timer slot currently serves; at most one is ever
// armed at a time.
type timerKind int

const (
	timerStopped timerKind = iota
	timerLazyResolve
	timerRevive
)

// noAliveIdx is the activeIdx sentinel for an upstream currently absent
// from its list's alive set.
const noAliveIdx = -1

// Upstream is a single named endpoint with one or more resolved
// addresses, tracked weight, error state, and a back-reference to its
// owning list.
type Upstream struct {
	mu sync.Mutex

	name        string
	noResolve   bool
	defaultPort uint16

	weight    uint
	curWeight uint

	errorsCount uint
	lastFail    time.Time
	checked     uint64

	dnsRequests int // in-flight A/AAAA queries; guarded by mu

	addrs        *addrSet
	pendingAddrs []*AddrElt

	activeIdx int

	uid string

	timer     *time.Timer
	timerKind timerKind

	list *UpstreamList
	data any
}

func newUpstream(name string, weight uint, noResolve bool, defaultPort uint16) *Upstream {
	return &Upstream{
		name:        name,
		weight:      weight,
		curWeight:   weight,
		noResolve:   noResolve,
		defaultPort: defaultPort,
		addrs:       newAddrSet(),
		activeIdx:   noAliveIdx,
		uid:         shortUID(name),
	}
}

// Name returns the name this upstream was created with: the host,
// address literal or socket path of its spec in default mode (without
// port or weight), or the whole spec in nameserver mode.
func (u *Upstream) Name() string {
	return u.name
}

// UID returns the short, stable diagnostic identifier derived from the
// upstream's name; it appears in every log line this package emits for
// the upstream.
func (u *Upstream) UID() string {
	return u.uid
}

// GetData returns the userdata attached at AddUpstream time.
func (u *Upstream) GetData() any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.data
}

// SetData replaces the userdata, returning the previous value.
func (u *Upstream) SetData(data any) any {
	u.mu.Lock()
	defer u.mu.Unlock()
	prev := u.data
	u.data = data
	return prev
}

// SetWeight overrides the static weight used by MasterSlave rotation
// and as the refill value for RoundRobin's cur_weight.
func (u *Upstream) SetWeight(weight uint) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.weight = weight
}

// AddrNext advances the address cursor cyclically, skipping over any
// address with strictly more accumulated errors than the one being
// left, and returns the new current address.
func (u *Upstream) AddrNext() (*AddrElt, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.addrs.next()
}

// AddrCur returns the address currently under the cursor without
// advancing it.
func (u *Upstream) AddrCur() (*AddrElt, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.addrs.at()
}

// IsAlive reports whether the upstream is currently a member of its
// list's alive set.
func (u *Upstream) IsAlive() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.activeIdx != noAliveIdx
}
