package upstream

import (
	"math/rand/v2"
	"sync"
)

// Flags is a bitset of defaults propagated from a list to the upstreams
// it creates.
type Flags uint32

// FlagNoResolve marks a list (and, propagated, its upstreams) as never
// eligible for DNS resolution — numeric/path tokens are marked so
// automatically, and SetFlags applies it in bulk to upstreams added
// afterwards for lists that are always numeric (e.g. a nameserver list).
const FlagNoResolve Flags = 1 << 0

// UpstreamList is a rotation domain: a set of upstreams selected
// between for one logical backend service.
type UpstreamList struct {
	mu sync.Mutex

	ctx *Ctx

	ups   []*Upstream
	alive []*Upstream

	limits   Limits
	rotAlg   RotationAlg
	hashSeed uint64
	curElt   int
	flags    Flags

	watchers []*watcherEntry
}

// Create returns an empty list inheriting ctx's limits, or
// DefaultLimits() when ctx is nil.
func Create(ctx *Ctx) *UpstreamList {
	l := &UpstreamList{
		ctx:      ctx,
		rotAlg:   RotUndef,
		hashSeed: hashSeed,
	}
	if ctx != nil {
		l.limits = ctx.Limits()
	} else {
		l.limits = DefaultLimits()
	}
	return l
}

// SetLimits overrides this list's limits, independent of its context.
func (l *UpstreamList) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
}

// SetFlags sets the default flags propagated to upstreams added after
// this call.
func (l *UpstreamList) SetFlags(flags Flags) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags = flags
}

// SetRotation sets the list's default rotation algorithm.
func (l *UpstreamList) SetRotation(alg RotationAlg) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotAlg = alg
}

// Count returns the total number of upstreams, alive or ejected.
func (l *UpstreamList) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ups)
}

// AliveCount returns the number of currently alive upstreams.
func (l *UpstreamList) AliveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.alive)
}

// Foreach calls fn once per upstream in stable insertion order. fn must
// not call back into the list (it is invoked under the list lock).
func (l *UpstreamList) Foreach(fn func(*Upstream)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range l.ups {
		fn(u)
	}
}

// repairIndices fixes active_idx for every alive upstream to match its
// current position; caller must hold l.mu.
func (l *UpstreamList) repairIndices() {
	for i, u := range l.alive {
		u.mu.Lock()
		u.activeIdx = i
		u.mu.Unlock()
	}
}

// restoreAllLocked re-inserts every upstream into alive, cancels any
// pending timer, and reports which upstreams were restored so the
// caller can fire ONLINE watchers outside the lock. Caller must hold
// l.mu.
func (l *UpstreamList) restoreAllLocked() []*Upstream {
	l.alive = l.alive[:0]
	restored := make([]*Upstream, 0, len(l.ups))

	for _, u := range l.ups {
		u.mu.Lock()
		u.activeIdx = len(l.alive)
		u.stopTimerLocked()
		u.mu.Unlock()

		l.alive = append(l.alive, u)
		restored = append(restored, u)
	}

	return restored
}

// restoreOne re-inserts a single ejected upstream into alive (the
// revive-timer path) and fires ONLINE for it.
func (l *UpstreamList) restoreOne(u *Upstream) {
	l.mu.Lock()

	u.mu.Lock()
	if u.activeIdx != noAliveIdx {
		// Already alive (e.g. a concurrent mass-restore beat us here).
		u.mu.Unlock()
		l.mu.Unlock()
		return
	}
	u.activeIdx = len(l.alive)
	errs := u.errorsCount
	u.mu.Unlock()

	l.alive = append(l.alive, u)
	fire := l.fireLocked(u, EventOnline, errs)
	l.mu.Unlock()

	fire()
}

// Get picks an upstream using the list's own rotation if set, else
// defaultRotation. key is only consulted for Hashed rotation.
func (l *UpstreamList) Get(defaultRotation RotationAlg, key []byte) (*Upstream, bool) {
	return l.get(defaultRotation, key, false)
}

// GetForced picks an upstream using forcedRotation, falling back to the
// list's own rotation only if forcedRotation is RotUndef.
func (l *UpstreamList) GetForced(forcedRotation RotationAlg, key []byte) (*Upstream, bool) {
	return l.get(forcedRotation, key, true)
}

func (l *UpstreamList) get(rotation RotationAlg, key []byte, forced bool) (*Upstream, bool) {
	l.mu.Lock()

	if len(l.alive) == 0 {
		restored := l.restoreAllLocked()
		watchers := l.matchingWatchersLocked(EventOnline)
		l.mu.Unlock()
		for _, u := range restored {
			u.mu.Lock()
			errs := u.errorsCount
			u.mu.Unlock()
			notifyWatchers(watchers, u, EventOnline, errs)
		}
		l.mu.Lock()
	}

	var alg RotationAlg
	if !forced {
		if l.rotAlg != RotUndef {
			alg = l.rotAlg
		} else {
			alg = rotation
		}
	} else {
		if rotation != RotUndef {
			alg = rotation
		} else {
			alg = l.rotAlg
		}
	}

	if alg == RotHashed && len(key) == 0 {
		alg = RotRandom
	}

	var picked *Upstream

	switch alg {
	case RotHashed:
		picked = l.pickHashedLocked(key)
	case RotRoundRobin:
		picked = l.pickRoundRobinLocked(true)
	case RotMasterSlave:
		picked = l.pickRoundRobinLocked(false)
	case RotSequential:
		if l.curElt >= len(l.alive) {
			l.curElt = 0
			l.mu.Unlock()
			return nil, false
		}
		picked = l.alive[l.curElt]
		l.curElt++
	case RotRandom:
		fallthrough
	default:
		picked = l.pickRandomLocked()
	}

	if picked != nil {
		picked.mu.Lock()
		picked.checked++
		picked.mu.Unlock()
	}

	l.mu.Unlock()

	if picked == nil {
		return nil, false
	}
	return picked, true
}

// pickRandomLocked picks a uniform index in [0, len-1) — the upper
// bound is deliberately exclusive of the last slot, matching the
// reference implementation's random-range helper bit-for-bit; with more
// than one upstream alive, the last one is never picked by this
// rotation. Caller holds l.mu.
func (l *UpstreamList) pickRandomLocked() *Upstream {
	n := len(l.alive)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return l.alive[0]
	}
	idx := rand.IntN(n - 1)
	return l.alive[idx]
}

// pickRoundRobinLocked implements both RoundRobin (useCur=true, mutates
// cur_weight) and MasterSlave (useCur=false, reads static weight only).
// Caller holds l.mu.
func (l *UpstreamList) pickRoundRobinLocked(useCur bool) *Upstream {
	if len(l.alive) == 0 {
		return nil
	}

	var maxWeight uint
	var selected *Upstream

	for _, u := range l.alive {
		u.mu.Lock()
		w := u.weight
		if useCur {
			w = u.curWeight
		}
		if selected == nil || w > maxWeight {
			selected = u
			maxWeight = w
		}
		u.mu.Unlock()
	}

	if maxWeight == 0 {
		selected = l.minCheckedLocked()
	}

	if useCur && selected != nil {
		selected.mu.Lock()
		if selected.curWeight > 0 {
			selected.curWeight--
		} else {
			selected.curWeight = selected.weight
		}
		selected.mu.Unlock()
	}

	return selected
}

// minCheckedLocked picks the upstream minimizing checked*(errors+1),
// the fallback used once every weight in the list has hit zero. Caller
// holds l.mu.
func (l *UpstreamList) minCheckedLocked() *Upstream {
	const maxCheckedHalf = ^uint64(0) / 2

	var selected *Upstream
	var minScore uint64
	var minChecked uint64 = ^uint64(0)

	for _, u := range l.alive {
		u.mu.Lock()
		score := u.checked * uint64(u.errorsCount+1)
		checked := u.checked
		u.mu.Unlock()

		if selected == nil || score < minScore {
			selected = u
			minScore = score
			minChecked = checked
		}
	}

	if minChecked > maxCheckedHalf {
		for _, u := range l.alive {
			u.mu.Lock()
			u.checked = 0
			u.mu.Unlock()
		}
	}

	return selected
}

// pickHashedLocked applies the consistent-hash jump over the alive
// set. Caller holds l.mu.
func (l *UpstreamList) pickHashedLocked(key []byte) *Upstream {
	if len(l.alive) == 0 {
		return nil
	}
	k := keyedHash64(key, l.hashSeed)
	idx := jumpConsistentHash(k, int32(len(l.alive)))
	return l.alive[idx]
}
