package upstream

import "time"

// stopTimerLocked cancels any armed timer and returns the upstream to
// the stopped state. Caller must hold u.mu.
func (u *Upstream) stopTimerLocked() {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.timerKind = timerStopped
}

// armTimerLocked stops any previous timer (enforcing "at most one armed
// timer" regardless of kind) and arms a new one of kind kind, firing fn
// after delay. Caller must hold u.mu.
func (u *Upstream) armTimerLocked(kind timerKind, delay time.Duration) {
	u.stopTimerLocked()
	u.timerKind = kind

	var fn func()
	switch kind {
	case timerLazyResolve:
		fn = u.fireLazyResolve
	case timerRevive:
		fn = u.fireRevive
	default:
		return
	}

	u.timer = time.AfterFunc(delay, fn)
}

// fireLazyResolve is the lazy-resolve timer callback: it kicks off a
// fresh resolve and re-arms itself for the next cycle.
func (u *Upstream) fireLazyResolve() {
	u.mu.Lock()
	if u.timerKind != timerLazyResolve {
		// Superseded by a revive timer or stopped since this fired.
		u.mu.Unlock()
		return
	}
	u.timerKind = timerStopped
	u.timer = nil
	list := u.list
	u.mu.Unlock()

	u.resolveAddrs()

	if list == nil {
		return
	}

	list.mu.Lock()
	lazyResolveTime := list.limits.LazyResolveTime
	list.mu.Unlock()

	u.mu.Lock()
	if u.list != nil && u.timerKind == timerStopped {
		when := jitterDuration(lazyResolveTime, 0.1)
		u.armTimerLocked(timerLazyResolve, when)
	}
	u.mu.Unlock()
}

// fireRevive is the revive timer callback: it stops the timer and
// returns the upstream to its list's alive set via the restore path.
func (u *Upstream) fireRevive() {
	u.mu.Lock()
	u.timerKind = timerStopped
	u.timer = nil
	list := u.list
	u.mu.Unlock()

	if list == nil {
		return
	}

	list.restoreOne(u)
}
