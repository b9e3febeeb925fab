package upstream

import "time"

// Fail reports a failed attempt against u. addrFailure additionally
// bumps the error counter of the specific address currently under the
// cursor, so AddrNext steers future callers away from it.
//
// Repeated failures within the list's ErrorTime window beyond
// MaxErrors eject u from its list's alive set (if the list has more
// than one upstream) and arm a jittered revive timer; against a
// single-upstream list, u is never ejected — instead, once ReviveTime
// has elapsed since the first failure, its error count resets and a
// fresh DNS resolve is triggered.
func (u *Upstream) Fail(addrFailure bool) {
	u.mu.Lock()
	list := u.list
	u.mu.Unlock()

	if list == nil {
		if addrFailure {
			u.mu.Lock()
			if elt, err := u.addrs.at(); err == nil {
				elt.errors++
			}
			u.mu.Unlock()
		}
		return
	}

	list.fail(u, addrFailure)
}

// Ok reports a successful attempt against u: if it currently carries
// errors, they (and the current address's error count) are reset and
// SUCCESS watchers fire. A no-op on an already-healthy or already-
// ejected upstream.
func (u *Upstream) Ok() {
	u.mu.Lock()
	list := u.list
	u.mu.Unlock()

	if list == nil {
		return
	}

	list.ok(u)
}

func (l *UpstreamList) fail(u *Upstream, addrFailure bool) {
	l.mu.Lock()
	u.mu.Lock()

	now := time.Now()

	var (
		fireFailure    bool
		failureCount   uint
		doEject        bool
		errsAtEject    uint
		doReresolve    bool
	)

	if u.errorsCount == 0 {
		u.lastFail = now
		u.errorsCount = 1
		fireFailure = true
		failureCount = 1
	} else if !now.Before(u.lastFail) {
		u.errorsCount++
		fireFailure = true
		failureCount = u.errorsCount

		var rate, maxRate float64
		if now.After(u.lastFail) {
			rate = float64(u.errorsCount) / now.Sub(u.lastFail).Seconds()
			maxRate = l.limits.maxErrorRate()
		} else {
			rate, maxRate = 1, 0
		}

		if rate > maxRate {
			if len(l.ups) > 1 {
				errsAtEject = u.errorsCount
				u.errorsCount = 0
				doEject = true
			} else if now.Sub(u.lastFail).Seconds() > l.limits.ReviveTime.Seconds() {
				u.errorsCount = 0
				doReresolve = true
			}
		}
	}

	if addrFailure {
		if elt, err := u.addrs.at(); err == nil {
			elt.errors++
		}
	}

	var afterEject func()
	if doEject {
		afterEject = l.ejectLocked(u, errsAtEject)
	}

	var afterFailure func()
	if fireFailure {
		afterFailure = l.fireLocked(u, EventFailure, failureCount)
	}

	u.mu.Unlock()
	l.mu.Unlock()

	if afterFailure != nil {
		afterFailure()
	}
	if afterEject != nil {
		afterEject()
	}
	if doReresolve {
		u.resolveAddrs()
	}
}

func (l *UpstreamList) ok(u *Upstream) {
	l.mu.Lock()
	u.mu.Lock()

	var afterSuccess func()
	if u.errorsCount > 0 && u.activeIdx != noAliveIdx {
		u.errorsCount = 0
		if elt, err := u.addrs.at(); err == nil {
			elt.errors = 0
		}
		afterSuccess = l.fireLocked(u, EventSuccess, 0)
	}

	u.mu.Unlock()
	l.mu.Unlock()

	if afterSuccess != nil {
		afterSuccess()
	}
}

// ejectLocked removes u from alive, repairs remaining indices, arms a
// jittered revive timer, and returns a closure the caller must invoke
// after releasing both locks: it fires OFFLINE(errsAtEject) watchers
// and kicks a fresh DNS resolve for u.
func (l *UpstreamList) ejectLocked(u *Upstream, errsAtEject uint) func() {
	idx := u.activeIdx
	l.alive = append(l.alive[:idx], l.alive[idx+1:]...)
	u.activeIdx = noAliveIdx
	l.repairIndices()

	delay := jitterDuration(l.limits.ReviveTime, l.limits.ReviveJitter)
	u.armTimerLocked(timerRevive, delay)

	offlineFire := l.fireLocked(u, EventOffline, errsAtEject)

	return func() {
		offlineFire()
		u.resolveAddrs()
	}
}
