package upstream

// Event identifies an upstream state transition a watcher can observe.
type Event uint32

const (
	EventOnline Event = 1 << iota
	EventOffline
	EventFailure
	EventSuccess

	// EventAll matches every event.
	EventAll = EventOnline | EventOffline | EventFailure | EventSuccess
)

// WatchFunc is invoked for a matching event with the upstream it
// occurred on, the event, an event-specific count (error count for
// Failure/Offline, current error count for Online, zero for Success)
// and the userdata passed to AddWatchCallback.
type WatchFunc func(u *Upstream, event Event, count uint, ud any)

type watcherEntry struct {
	mask  Event
	fn    WatchFunc
	dtor  func(any)
	ud    any
}

// AddWatchCallback registers fn to be called, in insertion order
// alongside any other matching watcher, whenever an event in mask
// occurs on any upstream of this list. dtor, if non-nil, runs exactly
// once when the list is destroyed.
func (l *UpstreamList) AddWatchCallback(mask Event, fn WatchFunc, dtor func(any), ud any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, &watcherEntry{mask: mask, fn: fn, dtor: dtor, ud: ud})
}

// Destroy releases the list's resources and runs every watcher's
// destructor exactly once.
func (l *UpstreamList) Destroy() {
	l.mu.Lock()
	watchers := l.watchers
	l.watchers = nil
	for _, u := range l.ups {
		u.mu.Lock()
		u.list = nil
		u.stopTimerLocked()
		u.mu.Unlock()
	}
	l.ups = nil
	l.alive = nil
	l.mu.Unlock()

	for _, w := range watchers {
		if w.dtor != nil {
			w.dtor(w.ud)
		}
	}
}

// matchingWatchersLocked returns the watchers that match event, in
// insertion order. Caller must hold l.mu.
func (l *UpstreamList) matchingWatchersLocked(event Event) []*watcherEntry {
	if len(l.watchers) == 0 {
		return nil
	}
	matched := make([]*watcherEntry, 0, len(l.watchers))
	for _, w := range l.watchers {
		if w.mask&event != 0 {
			matched = append(matched, w)
		}
	}
	return matched
}

// fireLocked snapshots matching watchers for event while the caller
// holds l.mu, then returns a closure the caller should invoke after
// unlocking — watcher callbacks must never run under the list lock,
// since a watcher is free to call back into the list (e.g. AliveCount).
func (l *UpstreamList) fireLocked(u *Upstream, event Event, count uint) func() {
	watchers := l.matchingWatchersLocked(event)
	if len(watchers) == 0 {
		return func() {}
	}
	return func() { notifyWatchers(watchers, u, event, count) }
}

func notifyWatchers(watchers []*watcherEntry, u *Upstream, event Event, count uint) {
	for _, w := range watchers {
		w.fn(u, event, count, w.ud)
	}
}
