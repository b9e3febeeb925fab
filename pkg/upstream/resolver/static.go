package resolver

import (
	"fmt"
	"sync"
	"time"
)

// Static resolves names from an in-memory fixture map, for tests that
// need deterministic, synchronous-feeling DNS behavior without a real
// network. Safe for concurrent use.
type Static struct {
	mu      sync.Mutex
	records map[string][]Result
	// Delay, if non-zero, is applied before invoking the callback to
	// exercise the core's in-flight bookkeeping under latency.
	Delay time.Duration
}

// NewStatic returns an empty Static resolver.
func NewStatic() *Static {
	return &Static{records: make(map[string][]Result)}
}

// Set installs the results Resolve should return for name; pass nil to
// make subsequent queries fail with NXDOMAIN-like behavior.
func (s *Static) Set(name string, results []Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = results
}

// Resolve implements Resolver.
func (s *Static) Resolve(name string, qtype RecordType, _ time.Duration, _ int, cb ResolveFunc) {
	go func() {
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}

		s.mu.Lock()
		all, ok := s.records[name]
		s.mu.Unlock()

		if !ok || all == nil {
			cb(nil, fmt.Errorf("resolver: no records for %q", name))
			return
		}

		var filtered []Result
		for _, r := range all {
			if r.Type == qtype {
				filtered = append(filtered, r)
			}
		}
		cb(filtered, nil)
	}()
}
