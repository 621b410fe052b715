// Package ext implements the EXT routing daemon: a stub representing a
// single neighbouring AS. Ported in full from the original tool's
// lib/ext.py — the only complete reference routing daemon in the
// original source — and Go-ified in kbgp's idiom (typed struct fields,
// explicit error returns instead of raised exceptions).
package ext

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/egpsim/egpsim/aspath"
	"github.com/egpsim/egpsim/daemon"
	"github.com/egpsim/egpsim/packet"
)

// Params is the per-router EXT configuration.
type Params struct {
	ASID     string `json:"AS-ID"`
	Relation string `json:"relation"`
}

type defaultRoute struct {
	path   string
	public bool
}

// Daemon is the EXT routing daemon.
type Daemon struct {
	asID     string
	relation string
	router   daemon.Router
	verbose  bool
	outlog   []string

	iface   string
	ifaceUp bool
	bound   bool

	defaults          map[string]defaultRoute
	current           map[string]string
	received          map[string]map[string]string // neighbourIP -> dest -> path
	destsOffered      map[string]bool
	destsWithNewRoute map[string]bool
	sentCount         uint64
}

// New creates an unconfigured EXT daemon.
func New() *Daemon {
	return &Daemon{
		defaults:          make(map[string]defaultRoute),
		current:           make(map[string]string),
		received:          make(map[string]map[string]string),
		destsOffered:      make(map[string]bool),
		destsWithNewRoute: make(map[string]bool),
	}
}

// SetParameters decodes this router's AS-ID and relation to its
// neighbour.
func (d *Daemon) SetParameters(raw json.RawMessage) error {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("ext: invalid parameters: %w", err)
	}
	d.asID = p.ASID
	d.relation = p.Relation
	return nil
}

// BindToRouter attaches the daemon to its host router.
func (d *Daemon) BindToRouter(r daemon.Router) error {
	d.router = r
	return nil
}

// SetVerbose toggles logging.
func (d *Daemon) SetVerbose(v bool) { d.verbose = v }

func (d *Daemon) log(format string, args ...any) {
	if d.verbose {
		d.outlog = append(d.outlog, fmt.Sprintf(format, args...))
	}
}

// GetOutlog returns this tick's log lines; FinalizeIteration clears them.
func (d *Daemon) GetOutlog() []string { return d.outlog }

// FinalizeIteration clears per-tick scratch state.
func (d *Daemon) FinalizeIteration() { d.outlog = nil }

// GetCurrentRoutes returns dest -> AS-path currently in use.
func (d *Daemon) GetCurrentRoutes() map[string]string {
	routes := make(map[string]string, len(d.current))
	for dest, path := range d.current {
		routes[dest] = path
	}
	return routes
}

// AddDefault registers a default route for dest, public or private,
// seeded by an "advert" or "addprivatepath" simulator event.
func (d *Daemon) AddDefault(dest, path string, public bool) {
	d.defaults[dest] = defaultRoute{path: path, public: public}
	if d.current[dest] == "" {
		d.current[dest] = path
		if d.router != nil {
			_ = d.router.FIB().SetEntryLocal(dest)
		}
	}
	if public {
		d.destsWithNewRoute[dest] = true
	}
}

// isLocal reports whether dest's default path contains a single
// distinct ASN after collapsing consecutive duplicates.
func (d *Daemon) isLocal(dest string) bool {
	def, ok := d.defaults[dest]
	if !ok {
		return false
	}
	return aspath.UniqueCount(def.path) == 1
}

// Update enforces the single-interface constraint and reacts to the
// interface's up/down transition.
func (d *Daemon) Update(ifaceStates map[string]daemon.InterfaceState, now int) error {
	if len(ifaceStates) > 1 {
		return fmt.Errorf("ext: configured with %d interfaces, must have exactly one", len(ifaceStates))
	}
	var iface string
	var state daemon.InterfaceState
	for i, s := range ifaceStates {
		iface, state = i, s
	}
	if iface == "" {
		return nil
	}
	wasUp, known := d.bound, d.ifaceUp
	d.iface = iface
	if !wasUp {
		d.bound = true
		d.ifaceUp = state.Up
		return nil
	}
	if known && !state.Up {
		// Down transition: flush everything we learned from the neighbour.
		for dest := range d.current {
			if d.router != nil {
				d.router.FIB().RemoveEntry(dest)
			}
		}
		d.received = make(map[string]map[string]string)
		d.current = make(map[string]string)
		for dest, def := range d.defaults {
			d.current[dest] = def.path
			if d.router != nil {
				_ = d.router.FIB().SetEntryLocal(dest)
			}
		}
	} else if !known && state.Up {
		for dest, def := range d.defaults {
			if def.public {
				d.destsWithNewRoute[dest] = true
			}
		}
	}
	d.ifaceUp = state.Up
	return nil
}

// ProcessRoutingPacket parses an inbound packet's update/withdrawal
// lines. A duplicate update or withdrawal for the same destination
// within one packet is a fatal error, diverging deliberately from EGP's
// silent-ignore behavior.
func (d *Daemon) ProcessRoutingPacket(iface string, p *packet.Packet) error {
	speaker := p.Source
	if d.received[speaker] == nil {
		d.received[speaker] = make(map[string]string)
	}
	seen := make(map[string]bool)
	for _, line := range p.Payload.Entries() {
		switch {
		case strings.HasPrefix(line, "speaker:"):
			// informational
		case strings.HasPrefix(line, "EGP-update"):
			dest, path, ok := parseUpdate(line)
			if !ok {
				return fmt.Errorf("ext: malformed update line %q", line)
			}
			if seen[dest] {
				return fmt.Errorf("ext: duplicate update for %s in one packet", dest)
			}
			seen[dest] = true
			d.receiveUpdate(speaker, iface, dest, path)
		case strings.HasPrefix(line, "EGP-withdrawal"):
			dest, ok := parseWithdraw(line)
			if !ok {
				return fmt.Errorf("ext: malformed withdrawal line %q", line)
			}
			if _, known := d.received[speaker][dest]; known {
				if seen[dest] {
					return fmt.Errorf("ext: duplicate withdrawal for %s in one packet", dest)
				}
				seen[dest] = true
			}
			d.receiveWithdraw(speaker, dest)
		default:
			return fmt.Errorf("ext: malformed payload line %q", line)
		}
	}
	return nil
}

func (d *Daemon) receiveUpdate(speaker, iface, dest, path string) {
	prepended := aspath.Prepend(d.asID, path)
	d.received[speaker][dest] = prepended

	def, hasDefault := d.defaults[dest]
	privateShadow := hasDefault && !def.public
	if !d.isLocal(dest) && !privateShadow {
		if d.router != nil {
			_ = d.router.FIB().SetEntry(dest, []string{iface})
		}
		if hasDefault && d.current[dest] == def.path {
			d.destsWithNewRoute[dest] = true
		}
		d.current[dest] = prepended
		d.log("ext %s: installed neighbour route to %s via %s path %q", d.asID, dest, iface, prepended)
	} else {
		if hasDefault {
			d.current[dest] = def.path
		}
		if d.router != nil {
			_ = d.router.FIB().SetEntryLocal(dest)
		}
	}
}

func (d *Daemon) receiveWithdraw(speaker, dest string) {
	withdrawn, had := d.received[speaker][dest]
	delete(d.received[speaker], dest)
	if !had || d.current[dest] != withdrawn {
		return
	}
	if def, ok := d.defaults[dest]; ok {
		d.current[dest] = def.path
		if d.router != nil {
			_ = d.router.FIB().SetEntryLocal(dest)
		}
		d.destsWithNewRoute[dest] = true
	} else {
		delete(d.current, dest)
		if d.router != nil {
			d.router.FIB().RemoveEntry(dest)
		}
	}
}

func parseUpdate(line string) (dest, path string, ok bool) {
	const prefixMarker = "prefix:"
	const pathMarker = "AS-path:"
	pi := strings.Index(line, prefixMarker)
	ai := strings.Index(line, pathMarker)
	if pi < 0 || ai < 0 || ai < pi {
		return "", "", false
	}
	dest = strings.TrimSpace(line[pi+len(prefixMarker) : ai])
	path = strings.TrimSpace(line[ai+len(pathMarker):])
	if dest == "" {
		return "", "", false
	}
	return dest, path, true
}

func parseWithdraw(line string) (dest string, ok bool) {
	const prefixMarker = "prefix:"
	pi := strings.Index(line, prefixMarker)
	if pi < 0 {
		return "", false
	}
	dest = strings.TrimSpace(line[pi+len(prefixMarker):])
	if dest == "" {
		return "", false
	}
	return dest, true
}

// GenerateRoutingPacket walks the destinations that changed this tick,
// in sorted order, and decides announce/withdraw per the EXT export
// rules, then clears the change set.
func (d *Daemon) GenerateRoutingPacket(iface string) (*packet.Packet, error) {
	if iface != d.iface || !d.ifaceUp {
		return nil, nil
	}
	dests := make([]string, 0, len(d.destsWithNewRoute))
	for dest := range d.destsWithNewRoute {
		dests = append(dests, dest)
	}
	sort.Strings(dests)

	var lines []string
	for _, dest := range dests {
		def, hasDefault := d.defaults[dest]
		current := d.current[dest]
		switch {
		case hasDefault && current == def.path && def.public:
			lines = append(lines, fmt.Sprintf("EGP-update prefix: %s AS-path: %s", dest, current))
			d.destsOffered[dest] = true
		case hasDefault && current == def.path && !def.public:
			if d.destsOffered[dest] {
				lines = append(lines, fmt.Sprintf("EGP-withdrawal prefix: %s", dest))
				delete(d.destsOffered, dest)
			}
		default:
			if d.destsOffered[dest] {
				lines = append(lines, fmt.Sprintf("EGP-withdrawal prefix: %s", dest))
				delete(d.destsOffered, dest)
			}
		}
	}
	d.destsWithNewRoute = make(map[string]bool)

	if len(lines) == 0 {
		return nil, nil
	}
	var ip string
	if d.router != nil {
		ip = d.router.IP()
	}
	p := packet.NewRouting(ip)
	p.Payload.AddEntry("speaker: " + ip)
	for _, l := range lines {
		p.Payload.AddEntry(l)
	}
	d.sentCount++
	return p, nil
}

// GetNumberSentRoutingPackets reports churn for the checker's report.
func (d *Daemon) GetNumberSentRoutingPackets() uint64 {
	return d.sentCount
}

// GetRelation returns the EXT router's business relation to its single
// neighbour, used by the checker's blackhole checks.
func (d *Daemon) GetRelation() string {
	return d.relation
}

// GetASID returns the neighbouring AS's ASN, as decoded by SetParameters.
func (d *Daemon) GetASID() string {
	return d.asID
}
