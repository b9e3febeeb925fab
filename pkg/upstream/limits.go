// Package upstream implements the upstream selection and health-tracking
// core of a mail filtering daemon: weighted/hashed/round-robin selection
// over pools of remote endpoints, failure detection with temporary
// ejection and jittered revival, and lazy DNS re-resolution with
// per-address error history preserved across refreshes.
//
// The package never dials a socket itself — callers obtain an address
// from Get, dial it themselves, and report the outcome back via Ok or
// Fail.
package upstream

import "time"

// Limits bounds the failure/revival and DNS re-resolution behavior of
// every upstream in a list. The zero value is not useful; use
// DefaultLimits to obtain sane defaults and override individual fields.
type Limits struct {
	// ReviveTime is how long an ejected upstream waits before it is
	// returned to the alive set, subject to ReviveJitter.
	ReviveTime time.Duration
	// ReviveJitter is a fraction (0-1) of ReviveTime applied as
	// uniform(-jitter, +jitter) spread to avoid thundering-herd revival.
	ReviveJitter float64
	// ErrorTime is the rolling window, in seconds, over which MaxErrors
	// is evaluated.
	ErrorTime float64
	// MaxErrors is the error budget within ErrorTime before a multi-
	// upstream list ejects the offending upstream.
	MaxErrors uint
	// DNSTimeout bounds a single DNS query attempt.
	DNSTimeout time.Duration
	// DNSRetransmits is how many times the resolver collaborator
	// retries a timed-out query before giving up.
	DNSRetransmits int
	// LazyResolveTime is the nominal period between background DNS
	// refreshes of a hostname upstream; actual firing is jittered ±10%.
	LazyResolveTime time.Duration
}

// DefaultLimits mirrors the reference defaults: 60s revive, 40% jitter,
// a 10s error window with a 4-error budget, 1s DNS timeout with 2
// retransmits, and an hourly lazy-resolve cadence.
func DefaultLimits() Limits {
	return Limits{
		ReviveTime:      60 * time.Second,
		ReviveJitter:    0.4,
		ErrorTime:       10,
		MaxErrors:       4,
		DNSTimeout:      1 * time.Second,
		DNSRetransmits:  2,
		LazyResolveTime: 1 * time.Hour,
	}
}

// maxErrorRate returns the failure rate, in errors per second, that
// triggers ejection.
func (l Limits) maxErrorRate() float64 {
	if l.ErrorTime <= 0 {
		return 0
	}
	return float64(l.MaxErrors) / l.ErrorTime
}
