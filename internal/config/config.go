// Package config handles TOML configuration parsing for upstreamd.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mailward/upstream/pkg/upstream"
)

// Document is the top-level configuration file: global limits plus one
// or more named upstream lists.
type Document struct {
	Limits LimitsConfig `toml:"limits"`
	Lists  []ListConfig `toml:"list"`
}

// LimitsConfig overrides upstream.DefaultLimits; zero/empty fields fall
// back to the library default rather than to Go's zero value.
type LimitsConfig struct {
	ReviveTime      string  `toml:"revive_time"`
	ReviveJitter    float64 `toml:"revive_jitter"`
	ErrorTime       float64 `toml:"error_time"`
	MaxErrors       uint    `toml:"max_errors"`
	DNSTimeout      string  `toml:"dns_timeout"`
	DNSRetransmits  int     `toml:"dns_retransmits"`
	LazyResolveTime string  `toml:"lazy_resolve_time"`
}

// ListConfig is one [[list]] block: a named pool of upstream endpoints.
type ListConfig struct {
	Name        string `toml:"name"`
	Rotation    string `toml:"rotation"`
	DefaultPort uint16 `toml:"default_port"`
	Nameserver  bool   `toml:"nameserver"`
	Upstreams   []string `toml:"upstreams"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	doc := &Document{}
	if err := toml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return doc, nil
}

func validate(doc *Document) error {
	seen := make(map[string]bool, len(doc.Lists))
	for i, l := range doc.Lists {
		if l.Name == "" {
			return fmt.Errorf("list[%d]: name is required", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("list[%d]: duplicate name %q", i, l.Name)
		}
		seen[l.Name] = true

		if len(l.Upstreams) == 0 {
			return fmt.Errorf("list[%q]: at least one upstream entry is required", l.Name)
		}

		if l.Rotation != "" {
			if _, ok := rotationByName[l.Rotation]; !ok {
				return fmt.Errorf("list[%q]: unknown rotation %q", l.Name, l.Rotation)
			}
		}
	}

	for _, d := range []string{doc.Limits.ReviveTime, doc.Limits.DNSTimeout, doc.Limits.LazyResolveTime} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}

	return nil
}

var rotationByName = map[string]upstream.RotationAlg{
	"random":       upstream.RotRandom,
	"master-slave": upstream.RotMasterSlave,
	"round-robin":  upstream.RotRoundRobin,
	"hash":         upstream.RotHashed,
	"sequential":   upstream.RotSequential,
}

// Overrides converts the [limits] block to upstream.ConfigOverrides,
// leaving a field nil (and so the library default in force) wherever
// the TOML value was left unset.
func (d *Document) Overrides() (upstream.ConfigOverrides, error) {
	var out upstream.ConfigOverrides

	if d.Limits.ReviveTime != "" {
		v, err := time.ParseDuration(d.Limits.ReviveTime)
		if err != nil {
			return out, fmt.Errorf("limits.revive_time: %w", err)
		}
		out.ReviveTime = &v
	}
	if d.Limits.ReviveJitter != 0 {
		v := d.Limits.ReviveJitter
		out.ReviveJitter = &v
	}
	if d.Limits.ErrorTime != 0 {
		v := d.Limits.ErrorTime
		out.ErrorTime = &v
	}
	if d.Limits.MaxErrors != 0 {
		v := d.Limits.MaxErrors
		out.MaxErrors = &v
	}
	if d.Limits.DNSTimeout != "" {
		v, err := time.ParseDuration(d.Limits.DNSTimeout)
		if err != nil {
			return out, fmt.Errorf("limits.dns_timeout: %w", err)
		}
		out.DNSTimeout = &v
	}
	if d.Limits.DNSRetransmits != 0 {
		v := d.Limits.DNSRetransmits
		out.DNSRetransmits = &v
	}
	if d.Limits.LazyResolveTime != "" {
		v, err := time.ParseDuration(d.Limits.LazyResolveTime)
		if err != nil {
			return out, fmt.Errorf("limits.lazy_resolve_time: %w", err)
		}
		out.LazyResolveTime = &v
	}

	return out, nil
}

// BuildLists constructs one *upstream.UpstreamList per [[list]] block,
// keyed by name, parsing each entry's Upstreams against ctx.
func (d *Document) BuildLists(ctx *upstream.Ctx) (map[string]*upstream.UpstreamList, error) {
	lists := make(map[string]*upstream.UpstreamList, len(d.Lists))

	for _, lc := range d.Lists {
		l := upstream.Create(ctx)

		if lc.Rotation != "" {
			l.SetRotation(rotationByName[lc.Rotation])
		}
		if lc.Nameserver {
			l.SetFlags(upstream.FlagNoResolve)
		}

		mode := upstream.ParseDefault
		if lc.Nameserver {
			mode = upstream.ParseNameserver
		}

		for _, spec := range lc.Upstreams {
			if _, err := l.AddUpstream(spec, lc.DefaultPort, mode, nil); err != nil {
				return nil, fmt.Errorf("list[%q]: %w", lc.Name, err)
			}
		}

		lists[lc.Name] = l
	}

	return lists, nil
}
