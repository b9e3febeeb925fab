package upstream

import (
	"sync"
	"testing"
	"time"
)

func TestAddWatchCallbackMatchesOnlyRegisteredMask(t *testing.T) {
	l := Create(nil)
	l.SetLimits(Limits{ReviveTime: time.Hour, ErrorTime: 10, MaxErrors: 1})

	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if _, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	var mu sync.Mutex
	var offlineFired, successFired bool

	l.AddWatchCallback(EventOffline, func(u *Upstream, event Event, count uint, ud any) {
		mu.Lock()
		offlineFired = true
		mu.Unlock()
	}, nil, nil)
	l.AddWatchCallback(EventSuccess, func(u *Upstream, event Event, count uint, ud any) {
		mu.Lock()
		successFired = true
		mu.Unlock()
	}, nil, nil)

	a.Fail(false)
	a.Fail(false)

	mu.Lock()
	defer mu.Unlock()
	if !offlineFired {
		t.Fatal("expected the EventOffline watcher to fire on ejection")
	}
	if successFired {
		t.Fatal("the EventSuccess watcher should not have fired for a failure")
	}
}

func TestWatchersRunInInsertionOrderWithoutDeadlock(t *testing.T) {
	l := Create(nil)
	l.SetLimits(Limits{ReviveTime: time.Hour, ErrorTime: 10, MaxErrors: 1})

	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if _, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var aliveDuringCallback int

	l.AddWatchCallback(EventOffline, func(u *Upstream, event Event, count uint, ud any) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		// Calling back into the list from a watcher must not deadlock,
		// which it would if fireLocked ran callbacks under l.mu.
		aliveDuringCallback = l.AliveCount()
	}, nil, nil)
	l.AddWatchCallback(EventOffline, func(u *Upstream, event Event, count uint, ud any) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}, nil, nil)

	a.Fail(false)
	a.Fail(false)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("watchers did not fire in insertion order: %v", order)
	}
	if aliveDuringCallback != 1 {
		t.Fatalf("AliveCount() during callback = %d, want 1", aliveDuringCallback)
	}
}

func TestDestroyRunsEachDestructorExactlyOnce(t *testing.T) {
	l := Create(nil)
	if _, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	var mu sync.Mutex
	calls := 0

	l.AddWatchCallback(EventAll, func(u *Upstream, event Event, count uint, ud any) {}, func(ud any) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil)

	l.Destroy()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("destructor ran %d times, want 1", calls)
	}
}
