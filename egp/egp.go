// Package egp implements the policy-based path-vector routing daemon:
// route reception, best-path selection with relation-priority hysteresis,
// export filtering, and link-state reaction.
//
// Stylistically grounded on kbgp's bgp.Speaker (state-holding orchestrator
// with a log-backed outlog) and speaker.Policer/BestPathSelecter's
// capability-interface shape; the best-path and export logic itself is
// built directly from the protocol description since the original
// source's egp.py is an unfinished "hello world" stub.
package egp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/egpsim/egpsim/aspath"
	"github.com/egpsim/egpsim/daemon"
	"github.com/egpsim/egpsim/packet"
)

// Relation is a neighbour business relationship.
type Relation string

// Relation values, in descending import priority.
const (
	Customer Relation = "customer"
	Peer     Relation = "peer"
	Provider Relation = "provider"
)

func relationPriority(r Relation) int {
	switch r {
	case Customer:
		return 3
	case Peer:
		return 2
	case Provider:
		return 1
	default:
		return 0
	}
}

// Params is the per-router EGP configuration, decoded from the
// routingProtocols.EGP section of the config.
type Params struct {
	ASID      string              `json:"AS-ID"`
	Relations map[string]Relation `json:"relations"`
}

type candidate struct {
	iface string
	path  string
}

// Daemon is the EGP routing daemon.
type Daemon struct {
	asID       string
	relations  map[string]Relation
	router     daemon.Router
	verbose    bool
	outlog     []string
	ifaceUp    map[string]bool
	received   map[string]map[string]string // dest -> iface -> path
	best       map[string]candidate          // dest -> selected candidate
	advertised map[string]map[string]string  // iface -> dest -> path
	changed    map[string]bool               // dest -> needs re-selection/re-export this tick
	sentCount  uint64
}

// New creates an unconfigured EGP daemon.
func New() *Daemon {
	return &Daemon{
		ifaceUp:    make(map[string]bool),
		received:   make(map[string]map[string]string),
		best:       make(map[string]candidate),
		advertised: make(map[string]map[string]string),
		changed:    make(map[string]bool),
	}
}

// SetParameters decodes this router's AS-ID and per-interface relations.
func (d *Daemon) SetParameters(raw json.RawMessage) error {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("egp: invalid parameters: %w", err)
	}
	d.asID = p.ASID
	d.relations = p.Relations
	return nil
}

// BindToRouter attaches the daemon to its host router.
func (d *Daemon) BindToRouter(r daemon.Router) error {
	d.router = r
	return nil
}

// SetVerbose toggles logging of route changes.
func (d *Daemon) SetVerbose(v bool) { d.verbose = v }

func (d *Daemon) log(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if d.verbose {
		d.outlog = append(d.outlog, line)
	}
}

// GetOutlog returns this tick's log lines; FinalizeIteration clears them.
func (d *Daemon) GetOutlog() []string {
	return d.outlog
}

// FinalizeIteration clears per-tick scratch state.
func (d *Daemon) FinalizeIteration() {
	d.outlog = nil
}

// GetCurrentRoutes returns dest -> AS-path for every best route.
func (d *Daemon) GetCurrentRoutes() map[string]string {
	routes := make(map[string]string, len(d.best))
	for dest, c := range d.best {
		routes[dest] = c.path
	}
	return routes
}

// Update reacts to link-state transitions: a down transition withdraws
// everything learned on that interface; an up transition forces
// re-announcement to the revived neighbour.
func (d *Daemon) Update(ifaceStates map[string]daemon.InterfaceState, now int) error {
	for iface, state := range ifaceStates {
		wasUp, known := d.ifaceUp[iface]
		d.ifaceUp[iface] = state.Up
		if known && wasUp && !state.Up {
			// Down transition: forget everything learned here.
			for dest, ifaces := range d.received {
				if _, ok := ifaces[iface]; ok {
					delete(ifaces, iface)
					if len(ifaces) == 0 {
						delete(d.received, dest)
					}
					d.changed[dest] = true
				}
			}
			d.reselectAll()
		} else if (!known || !wasUp) && state.Up {
			// Up transition: re-announce everything to the revived peer.
			d.advertised[iface] = make(map[string]string)
			for dest := range d.best {
				d.changed[dest] = true
			}
		}
	}
	return nil
}

// ProcessRoutingPacket parses an inbound routing packet's update and
// withdrawal lines. At most one update/withdraw per destination per
// packet is honored; later duplicates are silently ignored.
func (d *Daemon) ProcessRoutingPacket(iface string, p *packet.Packet) error {
	seen := make(map[string]bool)
	for _, line := range p.Payload.Entries() {
		switch {
		case strings.HasPrefix(line, "speaker:"):
			// Informational only.
		case strings.HasPrefix(line, "EGP-update"):
			dest, path, ok := parseUpdate(line)
			if !ok || seen[dest] {
				continue
			}
			seen[dest] = true
			prepended := aspath.Prepend(d.asID, path)
			if d.received[dest] == nil {
				d.received[dest] = make(map[string]string)
			}
			d.received[dest][iface] = prepended
			d.changed[dest] = true
		case strings.HasPrefix(line, "EGP-withdrawal"):
			dest, ok := parseWithdraw(line)
			if !ok || seen[dest] {
				continue
			}
			seen[dest] = true
			if ifaces, ok := d.received[dest]; ok {
				delete(ifaces, iface)
				if len(ifaces) == 0 {
					delete(d.received, dest)
				}
			}
			d.changed[dest] = true
		}
	}
	d.reselectChanged()
	return nil
}

func parseUpdate(line string) (dest, path string, ok bool) {
	// "EGP-update prefix: <P> AS-path: <path>"
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

func (d *Daemon) reselectChanged() {
	for dest := range d.changed {
		d.reselect(dest)
	}
	d.changed = make(map[string]bool)
}

func (d *Daemon) reselectAll() {
	for dest := range d.changed {
		d.reselect(dest)
	}
	for dest := range d.received {
		d.reselect(dest)
	}
	d.changed = make(map[string]bool)
}

// reselect runs best-path selection for dest and installs (or removes)
// the FIB entry accordingly.
func (d *Daemon) reselect(dest string) {
	candidates := make([]candidate, 0, len(d.received[dest]))
	for iface, path := range d.received[dest] {
		if aspath.ContainsBeyondHead(path, d.asID) {
			continue // loop filter
		}
		if up, ok := d.ifaceUp[iface]; ok && !up {
			continue
		}
		candidates = append(candidates, candidate{iface: iface, path: path})
	}
	if len(candidates) == 0 {
		if _, had := d.best[dest]; had {
			delete(d.best, dest)
			if d.router != nil {
				d.router.FIB().RemoveEntry(dest)
			}
		}
		return
	}
	best := selectBest(candidates, d.relations)
	if prev, had := d.best[dest]; !had || prev != best {
		d.best[dest] = best
		if d.router != nil {
			if err := d.router.FIB().SetEntry(dest, []string{best.iface}); err == nil {
				d.log("egp %s: best route to %s now via %s path %q", d.asID, dest, best.iface, best.path)
			}
		}
	}
}

// selectBest implements the relation-priority sort plus hysteresis
// switch: among same-relation-priority candidates ordered after the
// head, switch to the first one at least 3 hops shorter than the
// current best.
func selectBest(candidates []candidate, relations map[string]Relation) candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		pi, pj := relationPriority(relations[sorted[i].iface]), relationPriority(relations[sorted[j].iface])
		if pi != pj {
			return pi > pj
		}
		return sorted[i].iface < sorted[j].iface
	})
	best := sorted[0]
	bestLen := len(aspath.Tokens(best.path))
	bestPriority := relationPriority(relations[best.iface])
	for _, c := range sorted[1:] {
		if relationPriority(relations[c.iface]) != bestPriority {
			break // same-priority candidates are contiguous after the sort
		}
		if bestLen-len(aspath.Tokens(c.path)) >= 3 {
			best = c
			break
		}
	}
	return best
}

// GenerateRoutingPacket computes the export diff for iface against what
// was last advertised there and emits an update/withdrawal packet, or
// nil if nothing changed.
func (d *Daemon) GenerateRoutingPacket(iface string) (*packet.Packet, error) {
	if up, ok := d.ifaceUp[iface]; !ok || !up {
		return nil, nil
	}
	if _, known := d.relations[iface]; !known {
		return nil, nil
	}
	should := make(map[string]string)
	for dest, c := range d.best {
		if c.iface == iface {
			continue // split horizon
		}
		learnedRelation := d.relations[c.iface]
		if learnedRelation != Customer && d.relations[iface] != Customer {
			continue // peer/provider routes only export to customers
		}
		should[dest] = c.path
	}
	prev := d.advertised[iface]

	var updates, withdrawals []string
	for dest, path := range should {
		if prevPath, ok := prev[dest]; !ok || prevPath != path {
			updates = append(updates, fmt.Sprintf("EGP-update prefix: %s AS-path: %s", dest, path))
		}
	}
	for dest := range prev {
		if _, ok := should[dest]; !ok {
			withdrawals = append(withdrawals, fmt.Sprintf("EGP-withdrawal prefix: %s", dest))
		}
	}
	d.advertised[iface] = should

	if len(updates) == 0 && len(withdrawals) == 0 {
		return nil, nil
	}
	sort.Strings(updates)
	sort.Strings(withdrawals)

	var ip string
	if d.router != nil {
		ip = d.router.IP()
	}
	p := packet.NewRouting(ip)
	p.Payload.AddEntry("speaker: " + ip)
	for _, u := range updates {
		p.Payload.AddEntry(u)
	}
	for _, w := range withdrawals {
		p.Payload.AddEntry(w)
	}
	d.sentCount++
	return p, nil
}

// GetNumberSentRoutingPackets reports the churn the checker's report
// charges against total revenue.
func (d *Daemon) GetNumberSentRoutingPackets() uint64 {
	return d.sentCount
}

// GetASID returns this router's own ASN, as decoded by SetParameters.
func (d *Daemon) GetASID() string {
	return d.asID
}
