package upstream

import "testing"

func TestAddUpstreamNumericDefaultMode(t *testing.T) {
	l := Create(nil)

	u, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if !u.IsAlive() {
		t.Fatal("freshly added upstream should be alive")
	}
	if addr, err := u.AddrCur(); err != nil || addr.String() != "10.0.0.1:25" {
		t.Fatalf("AddrCur = %v, %v; want 10.0.0.1:25", addr, err)
	}
}

func TestAddUpstreamUnixPath(t *testing.T) {
	l := Create(nil)
	u, err := l.AddUpstream("/var/run/mta.sock", 0, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	addr, err := u.AddrCur()
	if err != nil {
		t.Fatalf("AddrCur: %v", err)
	}
	if !addr.IsUnix() || addr.String() != "/var/run/mta.sock" {
		t.Fatalf("expected unix socket address, got %v", addr)
	}
}

func TestMasterSlavePromotesFirstUpstreamWeight(t *testing.T) {
	l := Create(nil)
	l.SetRotation(RotMasterSlave)

	first, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	second, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	first.mu.Lock()
	w := first.weight
	first.mu.Unlock()
	if w != 1 {
		t.Fatalf("first upstream's weight should be promoted to 1, got %d", w)
	}

	second.mu.Lock()
	w2 := second.weight
	second.mu.Unlock()
	if w2 != 0 {
		t.Fatalf("only the first upstream should be promoted, got weight %d for the second", w2)
	}
}

func TestRoundRobinFavorsHigherWeight(t *testing.T) {
	l := Create(nil)
	heavy, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	heavy.SetWeight(10)
	light, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	light.SetWeight(1)

	heavyPicks := 0
	for i := 0; i < 11; i++ {
		u, ok := l.Get(RotRoundRobin, nil)
		if !ok {
			t.Fatal("Get returned no upstream")
		}
		if u == heavy {
			heavyPicks++
		}
	}

	if heavyPicks < 9 {
		t.Fatalf("expected the heavy upstream to dominate round-robin picks, got %d/11", heavyPicks)
	}
}

func TestSequentialExhaustsThenReturnsFalse(t *testing.T) {
	l := Create(nil)
	for _, spec := range []string{"10.0.0.1:25", "10.0.0.2:25", "10.0.0.3:25"} {
		if _, err := l.AddUpstream(spec, 25, ParseDefault, nil); err != nil {
			t.Fatalf("AddUpstream(%q): %v", spec, err)
		}
	}

	seen := make(map[*Upstream]bool)
	for i := 0; i < 3; i++ {
		u, ok := l.Get(RotSequential, nil)
		if !ok {
			t.Fatalf("Get unexpectedly exhausted at iteration %d", i)
		}
		seen[u] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct upstreams visited, got %d", len(seen))
	}

	if _, ok := l.Get(RotSequential, nil); ok {
		t.Fatal("expected exhaustion (false) on the 4th sequential Get")
	}

	// The cursor resets on exhaustion, so the next round starts fresh.
	if _, ok := l.Get(RotSequential, nil); !ok {
		t.Fatal("expected Get to succeed again after the cursor reset")
	}
}

func TestHashedIsDeterministicForAFixedKey(t *testing.T) {
	l := Create(nil)
	for _, spec := range []string{"10.0.0.1:25", "10.0.0.2:25", "10.0.0.3:25", "10.0.0.4:25"} {
		if _, err := l.AddUpstream(spec, 25, ParseDefault, nil); err != nil {
			t.Fatalf("AddUpstream(%q): %v", spec, err)
		}
	}

	key := []byte("recipient@example.com")
	first, ok := l.Get(RotHashed, key)
	if !ok {
		t.Fatal("Get returned no upstream")
	}
	for i := 0; i < 20; i++ {
		got, ok := l.Get(RotHashed, key)
		if !ok {
			t.Fatal("Get returned no upstream")
		}
		if got != first {
			t.Fatalf("hashed rotation should return the same upstream for a fixed key, got a different one at iteration %d", i)
		}
	}
}

func TestHashedWithoutKeyFallsBackToRandom(t *testing.T) {
	l := Create(nil)
	for _, spec := range []string{"10.0.0.1:25", "10.0.0.2:25"} {
		if _, err := l.AddUpstream(spec, 25, ParseDefault, nil); err != nil {
			t.Fatalf("AddUpstream(%q): %v", spec, err)
		}
	}

	// Should not panic or error even with a nil/empty key.
	for i := 0; i < 5; i++ {
		if _, ok := l.Get(RotHashed, nil); !ok {
			t.Fatal("Get returned no upstream")
		}
	}
}

func TestGetRestoresWholeListWhenAllEjected(t *testing.T) {
	l := Create(nil)
	a, err := l.AddUpstream("10.0.0.1:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	b, err := l.AddUpstream("10.0.0.2:25", 25, ParseDefault, nil)
	if err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	l.mu.Lock()
	l.alive = l.alive[:0]
	a.activeIdx = noAliveIdx
	b.activeIdx = noAliveIdx
	l.mu.Unlock()

	u, ok := l.Get(RotRandom, nil)
	if !ok {
		t.Fatal("Get should mass-restore an empty alive set rather than fail")
	}
	if l.AliveCount() != 2 {
		t.Fatalf("AliveCount = %d, want 2 after mass restore", l.AliveCount())
	}
	if u == nil {
		t.Fatal("expected a non-nil upstream")
	}
}
