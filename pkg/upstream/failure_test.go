package upstream

import (
	"sync"
	"testing"
	"time"
)

func TestFailEjectsFromMultiUpstreamList(t *testing.T) {
	l := Create(nil)
	l.SetLimits(Limits{ReviveTime: time.Hour, ReviveJitter: 0, ErrorTime: 10, MaxErrors: 1})

	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if _, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	a.Fail(false)
	a.Fail(false)

	if a.IsAlive() {
		t.Fatal("upstream should have been ejected after exceeding the error budget")
	}
	if l.AliveCount() != 1 {
		t.Fatalf("AliveCount = %d, want 1 after ejection", l.AliveCount())
	}
}

func TestFailNeverEjectsSingleUpstreamList(t *testing.T) {
	l := Create(nil)
	l.SetLimits(Limits{ReviveTime: time.Hour, ReviveJitter: 0, ErrorTime: 10, MaxErrors: 1})

	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	for i := 0; i < 5; i++ {
		a.Fail(false)
	}

	if !a.IsAlive() {
		t.Fatal("the sole upstream of a single-upstream list must never be ejected")
	}
}

func TestOkResetsErrorsAndFiresSuccess(t *testing.T) {
	l := Create(nil)
	l.SetLimits(Limits{ReviveTime: time.Hour, ErrorTime: 10, MaxErrors: 100})

	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	a.Fail(false)

	var mu sync.Mutex
	var successFired bool
	l.AddWatchCallback(EventSuccess, func(u *Upstream, event Event, count uint, ud any) {
		mu.Lock()
		successFired = true
		mu.Unlock()
	}, nil, nil)

	a.Ok()

	a.mu.Lock()
	errs := a.errorsCount
	a.mu.Unlock()
	if errs != 0 {
		t.Fatalf("errorsCount = %d, want 0 after Ok()", errs)
	}

	mu.Lock()
	defer mu.Unlock()
	if !successFired {
		t.Fatal("expected EventSuccess to fire")
	}
}

func TestFailBumpsCurrentAddrErrors(t *testing.T) {
	l := Create(nil)
	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	a.Fail(true)

	elt, err := a.AddrCur()
	if err != nil {
		t.Fatalf("AddrCur: %v", err)
	}
	if elt.errors != 1 {
		t.Fatalf("address error count = %d, want 1", elt.errors)
	}
}

func TestEjectedUpstreamRevivesAfterTimer(t *testing.T) {
	l := Create(nil)
	l.SetLimits(Limits{ReviveTime: 20 * time.Millisecond, ReviveJitter: 0, ErrorTime: 10, MaxErrors: 1})

	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if _, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	a.Fail(false)
	a.Fail(false)
	if a.IsAlive() {
		t.Fatal("expected ejection")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.IsAlive() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("upstream did not revive within the deadline")
}
