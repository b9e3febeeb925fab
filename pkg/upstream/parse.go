package upstream

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ParseMode selects how AddUpstream interprets its spec string.
type ParseMode int

const (
	// ParseDefault accepts host[:port][:weight], a bracketed IPv6
	// literal, or a leading-/ local socket path.
	ParseDefault ParseMode = iota
	// ParseNameserver requires spec to be a numeric address, optionally
	// followed by a port (bracketed for IPv6).
	ParseNameserver
)

// ParseError reports a malformed upstream spec token; AddUpstream leaves
// the list unchanged when returning one. ParseLine skips such tokens and
// reports only whether any token was added.
type ParseError struct {
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("upstream: invalid spec %q: %s", e.Token, e.Reason)
}

var rotationPrefixes = []struct {
	prefix string
	alg    RotationAlg
}{
	{"random:", RotRandom},
	{"master-slave:", RotMasterSlave},
	{"round-robin:", RotRoundRobin},
	{"hash:", RotHashed},
	{"sequential:", RotSequential},
}

const tokenSeparators = ";, \n\r\t"

// AddUpstream parses one endpoint spec and, on success, appends it to
// the list (both to the full set and to alive) and returns it.
func (l *UpstreamList) AddUpstream(spec string, defaultPort uint16, mode ParseMode, userdata any) (*Upstream, error) {
	if mode == ParseNameserver {
		return l.addNumeric(spec, defaultPort, userdata)
	}
	return l.addDefault(spec, defaultPort, userdata)
}

func (l *UpstreamList) addNumeric(spec string, defaultPort uint16, userdata any) (*Upstream, error) {
	ap, ok := parseNumericAddr(spec, defaultPort)
	if !ok {
		return nil, &ParseError{Token: spec, Reason: "nameserver mode requires a numeric address"}
	}

	u := newUpstream(spec, 0, true, defaultPort)
	u.addrs.add(&AddrElt{addr: ap})
	l.insert(u, userdata)
	return u, nil
}

func (l *UpstreamList) addDefault(spec string, defaultPort uint16, userdata any) (*Upstream, error) {
	host, port, weight, isPath, err := parseHostPortWeight(spec, defaultPort)
	if err != nil {
		return nil, err
	}

	if isPath {
		u := newUpstream(host, weight, true, 0)
		u.addrs.add(&AddrElt{unixPath: host})
		l.insert(u, userdata)
		return u, nil
	}

	host, err = normalizeHostname(host)
	if err != nil {
		return nil, &ParseError{Token: spec, Reason: err.Error()}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		u := newUpstream(host, weight, true, port)
		u.addrs.add(&AddrElt{addr: netip.AddrPortFrom(addr, port)})
		l.insert(u, userdata)
		return u, nil
	}

	// Hostname: resolution deferred to the lazy-resolve timer.
	u := newUpstream(host, weight, false, port)
	l.insert(u, userdata)
	return u, nil
}

// insert appends u to ups/alive under the list lock, applies the
// master-slave first-upstream weight promotion and the list's default
// flags, registers it with the owning Ctx (if any), and, when that Ctx
// is configured with a resolver and u is resolvable, schedules its
// initial lazy-resolve timer.
func (l *UpstreamList) insert(u *Upstream, userdata any) {
	l.mu.Lock()

	if u.weight == 0 && l.rotAlg == RotMasterSlave && len(l.ups) == 0 {
		u.weight = 1
		u.curWeight = 1
	}
	if l.flags&FlagNoResolve != 0 {
		u.noResolve = true
	}

	u.data = userdata
	u.list = l
	u.activeIdx = len(l.alive)

	l.ups = append(l.ups, u)
	l.alive = append(l.alive, u)

	ctx := l.ctx
	lazyResolveTime := l.limits.LazyResolveTime
	l.mu.Unlock()

	if ctx == nil {
		return
	}

	ctx.register(u)
	res, _, configured := ctx.snapshot()
	if !configured || res == nil || u.noResolve {
		return
	}

	u.mu.Lock()
	when := jitterDuration(lazyResolveTime, 0.1)
	u.armTimerLocked(timerLazyResolve, when)
	u.mu.Unlock()
}

// ParseLine parses an optional leading rotation prefix followed by a
// separator-delimited list of upstream tokens, adding each. It reports
// whether at least one token was added.
func (l *UpstreamList) ParseLine(str string, defaultPort uint16, userdata any) bool {
	rest := str
	for _, rp := range rotationPrefixes {
		if strings.HasPrefix(str, rp.prefix) {
			l.SetRotation(rp.alg)
			rest = str[len(rp.prefix):]
			break
		}
	}

	added := false
	for _, tok := range splitTokens(rest) {
		if tok == "" {
			continue
		}
		if _, err := l.AddUpstream(tok, defaultPort, ParseDefault, userdata); err == nil {
			added = true
		}
	}

	return added
}

// FromStrings parses each string in values as one ParseLine call
// (the Go-native equivalent of FromUcl's "iterate string elements").
func (l *UpstreamList) FromStrings(values []string, defaultPort uint16, userdata any) bool {
	added := false
	for _, v := range values {
		if l.ParseLine(v, defaultPort, userdata) {
			added = true
		}
	}
	return added
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(tokenSeparators, r)
	})
}

func parseHostPortWeight(spec string, defaultPort uint16) (host string, port uint16, weight uint, isPath bool, err error) {
	if spec == "" {
		return "", 0, 0, false, &ParseError{Token: spec, Reason: "empty token"}
	}

	if strings.HasPrefix(spec, "/") {
		return spec, 0, 0, true, nil
	}

	if strings.HasPrefix(spec, "[") {
		end := strings.IndexByte(spec, ']')
		if end < 0 {
			return "", 0, 0, false, &ParseError{Token: spec, Reason: "unterminated ipv6 literal"}
		}
		host = spec[1:end]
		p, w, perr := parsePortWeight(spec[end+1:], defaultPort)
		if perr != nil {
			return "", 0, 0, false, &ParseError{Token: spec, Reason: perr.Error()}
		}
		return host, p, w, false, nil
	}

	parts := strings.Split(spec, ":")
	if parts[0] == "" {
		return "", 0, 0, false, &ParseError{Token: spec, Reason: "missing host"}
	}

	port = defaultPort

	switch len(parts) {
	case 1:
	case 2:
		p, perr := strconv.ParseUint(parts[1], 10, 16)
		if perr != nil {
			return "", 0, 0, false, &ParseError{Token: spec, Reason: "invalid port"}
		}
		port = uint16(p)
	case 3:
		p, perr := strconv.ParseUint(parts[1], 10, 16)
		if perr != nil {
			return "", 0, 0, false, &ParseError{Token: spec, Reason: "invalid port"}
		}
		port = uint16(p)
		w, werr := strconv.ParseUint(parts[2], 10, 32)
		if werr != nil {
			return "", 0, 0, false, &ParseError{Token: spec, Reason: "invalid weight"}
		}
		weight = uint(w)
	default:
		return "", 0, 0, false, &ParseError{Token: spec, Reason: "too many colon-separated fields"}
	}

	return parts[0], port, weight, false, nil
}

func parsePortWeight(rest string, defaultPort uint16) (uint16, uint, error) {
	rest = strings.TrimPrefix(rest, ":")
	if rest == "" {
		return defaultPort, 0, nil
	}

	parts := strings.Split(rest, ":")
	port := defaultPort
	var weight uint

	if parts[0] != "" {
		p, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port")
		}
		port = uint16(p)
	}
	if len(parts) >= 2 {
		w, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid weight")
		}
		weight = uint(w)
	}

	return port, weight, nil
}

// parseNumericAddr parses str as host[:port], where host must be a
// numeric IPv4/IPv6 literal (bracketed for IPv6); a bare literal
// without a port uses defaultPort.
func parseNumericAddr(str string, defaultPort uint16) (netip.AddrPort, bool) {
	if ap, err := netip.ParseAddrPort(str); err == nil {
		return ap, true
	}
	if addr, err := netip.ParseAddr(str); err == nil {
		return netip.AddrPortFrom(addr, defaultPort), true
	}

	host, port, isPath := strings.HasPrefix(str, "["), false, false
	_ = isPath
	if host {
		end := strings.IndexByte(str, ']')
		if end < 0 {
			return netip.AddrPort{}, false
		}
		addr, err := netip.ParseAddr(str[1:end])
		if err != nil {
			return netip.AddrPort{}, false
		}
		p := defaultPort
		if rest := strings.TrimPrefix(str[end+1:], ":"); rest != "" {
			v, err := strconv.ParseUint(rest, 10, 16)
			if err != nil {
				return netip.AddrPort{}, false
			}
			p = uint16(v)
		}
		return netip.AddrPortFrom(addr, p), true
	}

	_ = port
	return netip.AddrPort{}, false
}

// normalizeHostname passes internationalized hostnames through IDNA
// ToASCII so DNS lookups use the correct punycode form; numeric
// literals and already-ASCII hosts pass through unchanged.
func normalizeHostname(host string) (string, error) {
	if host == "" {
		return host, nil
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// Not every token (e.g. a bare single-label name used in tests)
		// is valid under strict IDNA lookup rules; fall back to the raw
		// host rather than rejecting an otherwise well-formed spec.
		return host, nil
	}
	return ascii, nil
}
