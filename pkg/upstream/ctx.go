package upstream

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mailward/upstream/pkg/upstream/resolver"
)

// Ctx is the process-wide owner of shared resources: the DNS resolver
// collaborator, default limits, and the registry of every upstream
// created through any list, used for a global re-resolve sweep.
//
// Ctx is created once at startup and Configure'd once runtime
// dependencies (a resolver, a logger) become available; Unref tears it
// down at shutdown, after every list that used it has been destroyed.
type Ctx struct {
	mu sync.RWMutex

	limits     Limits
	configured bool
	resolver   resolver.Resolver
	logger     *slog.Logger

	upstreams []*Upstream
}

// ConfigOverrides carries the subset of limits a caller's configuration
// layer wants to override; a nil field leaves the corresponding Limits
// default untouched, mirroring the reference implementation's
// only-overwrite-if-set behavior.
type ConfigOverrides struct {
	ErrorTime       *float64
	MaxErrors       *uint
	ReviveTime      *time.Duration
	ReviveJitter    *float64
	LazyResolveTime *time.Duration
	DNSTimeout      *time.Duration
	DNSRetransmits  *int
}

// Init creates a Ctx with default limits and an empty upstream
// registry. It is not yet usable for DNS resolution until Configure is
// called.
func Init() *Ctx {
	return &Ctx{limits: DefaultLimits()}
}

// Limits returns a copy of the context's current limits.
func (c *Ctx) Limits() Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits
}

// Configure attaches a resolver and logger, applies any configuration
// overrides, and schedules an initial lazy-resolve timer for every
// registered upstream that doesn't already have one and isn't
// NoResolve. Note: unlike a discrepancy in the reference implementation
// (where a revive-time override was mistakenly sourced from the
// max-errors config field), ReviveTime here is wired from
// ConfigOverrides.ReviveTime.
func (c *Ctx) Configure(overrides ConfigOverrides, res resolver.Resolver, logger *slog.Logger) {
	c.mu.Lock()

	if overrides.ErrorTime != nil {
		c.limits.ErrorTime = *overrides.ErrorTime
	}
	if overrides.MaxErrors != nil {
		c.limits.MaxErrors = *overrides.MaxErrors
	}
	if overrides.ReviveTime != nil {
		c.limits.ReviveTime = *overrides.ReviveTime
	}
	if overrides.ReviveJitter != nil {
		c.limits.ReviveJitter = *overrides.ReviveJitter
	}
	if overrides.LazyResolveTime != nil {
		c.limits.LazyResolveTime = *overrides.LazyResolveTime
	}
	if overrides.DNSTimeout != nil {
		c.limits.DNSTimeout = *overrides.DNSTimeout
	}
	if overrides.DNSRetransmits != nil {
		c.limits.DNSRetransmits = *overrides.DNSRetransmits
	}

	c.resolver = res
	c.logger = logger
	c.configured = true

	upstreams := append([]*Upstream(nil), c.upstreams...)
	c.mu.Unlock()

	if res == nil {
		return
	}

	for _, u := range upstreams {
		u.mu.Lock()
		if u.timerKind == timerStopped && !u.noResolve && u.list != nil {
			limits := u.list.limits
			when := jitterDuration(limits.LazyResolveTime, 0.1)
			u.armTimerLocked(timerLazyResolve, when)
		}
		u.mu.Unlock()
	}
}

// Reresolve triggers immediate DNS re-resolution for every registered
// upstream, independent of each upstream's lazy-resolve schedule. Kicks
// are issued concurrently since each is just firing off a query, not
// waiting on one.
func (c *Ctx) Reresolve() {
	c.mu.RLock()
	upstreams := append([]*Upstream(nil), c.upstreams...)
	c.mu.RUnlock()

	var g errgroup.Group
	for _, u := range upstreams {
		u := u
		g.Go(func() error {
			u.resolveAddrs()
			return nil
		})
	}
	_ = g.Wait()
}

// Unref stops the timer of every still-registered upstream, clears the
// registry and marks the Ctx unconfigured, so later resolves through it
// are no-ops. Safe to call once, after every list built from this Ctx
// has been destroyed.
func (c *Ctx) Unref() {
	c.mu.Lock()
	upstreams := c.upstreams
	c.upstreams = nil
	c.configured = false
	c.mu.Unlock()

	for _, u := range upstreams {
		u.mu.Lock()
		u.stopTimerLocked()
		u.mu.Unlock()
	}
}

func (c *Ctx) register(u *Upstream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreams = append(c.upstreams, u)
}

func (c *Ctx) snapshot() (res resolver.Resolver, logger *slog.Logger, configured bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver, c.logger, c.configured
}
