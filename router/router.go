// Package router implements the per-node orchestrator: draining link
// inbound queues, dispatching packets to the routing daemon or the
// data plane, generating control packets, and forwarding data packets
// with TTL/ICMP handling and deterministic ECMP tie-breaking.
//
// Grounded on kbgp's speaker.Speaker for the struct shape (an
// orchestrator holding its peers/interfaces plus a log-backed outlog)
// and on the original tool's lib/router.py for the exact phase order and
// the SHA-256 ECMP formula.
package router

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/egpsim/egpsim/counter"
	"github.com/egpsim/egpsim/daemon"
	"github.com/egpsim/egpsim/fib"
	"github.com/egpsim/egpsim/link"
	"github.com/egpsim/egpsim/packet"
)

type ifaceBinding struct {
	link   *link.Link
	end    int
	noICMP bool
}

type bufferedUpdate struct {
	iface string
	pkt   *packet.Packet
}

// Router is a single simulated network node.
type Router struct {
	id             string
	ip             string
	table          *fib.Table
	ifaces         map[string]*ifaceBinding
	daemon         daemon.RoutingDaemon
	updateInterval int
	now            int

	updatesBuffer []bufferedUpdate

	sent, recv, forwarded, dropped *counter.Counter
	controlSent                    *counter.Counter
	originatedICMP                 map[string]uint64

	verbose bool
}

// New creates a router with id and primary IP rIP.
func New(id, rIP string) *Router {
	return &Router{
		id:             id,
		ip:             rIP,
		table:          fib.New(),
		ifaces:         make(map[string]*ifaceBinding),
		updateInterval: 1,
		sent:           counter.New("sent"),
		recv:           counter.New("recv"),
		forwarded:      counter.New("fwd"),
		dropped:        counter.New("drop"),
		controlSent:    counter.New("ctrl"),
		originatedICMP: make(map[string]uint64),
	}
}

// ID implements daemon.Router.
func (r *Router) ID() string { return r.id }

// IP implements daemon.Router.
func (r *Router) IP() string { return r.ip }

// FIB implements daemon.Router.
func (r *Router) FIB() *fib.Table { return r.table }

// Interfaces implements daemon.Router, sorted for deterministic
// iteration order.
func (r *Router) Interfaces() []string {
	names := make([]string, 0, len(r.ifaces))
	for name := range r.ifaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddLink attaches l to this router on the named local interface. end
// is which end of l belongs to this router (0 or 1).
func (r *Router) AddLink(iface string, l *link.Link, end int) {
	r.ifaces[iface] = &ifaceBinding{link: l, end: end}
}

// SetNoICMP suppresses ICMP generation on iface.
func (r *Router) SetNoICMP(iface string) {
	if b, ok := r.ifaces[iface]; ok {
		b.noICMP = true
	}
}

// SetTimeStep records the current tick before Go runs.
func (r *Router) SetTimeStep(now int) { r.now = now }

// SetUpdateInterval sets how often buffered routing packets are
// delivered to the daemon.
func (r *Router) SetUpdateInterval(n int) {
	if n > 0 {
		r.updateInterval = n
	}
}

// SetVerbose toggles the router's own and its daemon's logging.
func (r *Router) SetVerbose(v bool) {
	r.verbose = v
	if r.daemon != nil {
		r.daemon.SetVerbose(v)
	}
}

// SetRoutingDaemon installs d as this router's routing daemon and binds
// it.
func (r *Router) SetRoutingDaemon(d daemon.RoutingDaemon) error {
	r.daemon = d
	return d.BindToRouter(r)
}

// Daemon returns the installed routing daemon, or nil.
func (r *Router) Daemon() daemon.RoutingDaemon { return r.daemon }

// GetStateAllInterfaces returns each interface's current up/down state.
func (r *Router) GetStateAllInterfaces() map[string]daemon.InterfaceState {
	states := make(map[string]daemon.InterfaceState, len(r.ifaces))
	for name, b := range r.ifaces {
		states[name] = daemon.InterfaceState{Up: b.link.IsUp()}
	}
	return states
}

// Go executes one tick's worth of router work: daemon link-state
// update, inbound drain, outbound routing packet generation. It returns
// the tick's data-plane and routing-plane log lines.
func (r *Router) Go() (datalog, routinglog []string, err error) {
	if r.daemon != nil {
		if err := r.daemon.Update(r.GetStateAllInterfaces(), r.now); err != nil {
			return nil, nil, fmt.Errorf("router %s: daemon update: %w", r.id, err)
		}
	}

	for _, iface := range r.Interfaces() {
		b := r.ifaces[iface]
		for {
			p := b.link.Dequeue(r.id)
			if p == nil {
				break
			}
			if p.Destination == packet.BroadcastAddr {
				r.updatesBuffer = append(r.updatesBuffer, bufferedUpdate{iface: iface, pkt: p})
			} else {
				in := iface
				r.send(p, nil, &in)
			}
		}
	}

	if r.updateInterval == 0 || r.now%r.updateInterval == 0 {
		pending := r.updatesBuffer
		r.updatesBuffer = nil
		for _, u := range pending {
			if r.daemon != nil {
				if err := r.daemon.ProcessRoutingPacket(u.iface, u.pkt); err != nil {
					return nil, nil, fmt.Errorf("router %s: process routing packet: %w", r.id, err)
				}
			}
		}
	}

	if r.daemon != nil {
		for _, iface := range r.Interfaces() {
			pkt, err := r.daemon.GenerateRoutingPacket(iface)
			if err != nil {
				return nil, nil, fmt.Errorf("router %s: generate routing packet: %w", r.id, err)
			}
			if pkt == nil {
				continue
			}
			out := iface
			r.send(pkt, &out, nil)
			r.controlSent.Increment()
		}
		routinglog = r.daemon.GetOutlog()
		r.daemon.FinalizeIteration()
	}
	return r.drainDatalog(), routinglog, nil
}

func (r *Router) drainDatalog() []string {
	if !r.verbose {
		return nil
	}
	return []string{fmt.Sprintf("router %s: %s %s %s %s",
		r.id, r.sent, r.recv, r.forwarded, r.dropped)}
}

// send implements the forwarding logic: FIB lookup (or a pinned
// outIface), ECMP tie-break, loopback consumption, down-link drop,
// TTL expiry with ICMP, and enqueue on the chosen link.
func (r *Router) send(p *packet.Packet, outIface, inIface *string) {
	var candidates []string
	if outIface != nil {
		candidates = []string{*outIface}
	} else {
		candidates = r.table.GetNextHops(p.Destination)
		if len(candidates) == 0 {
			r.dropped.Increment()
			return
		}
	}

	chosen := candidates[0]
	if len(candidates) > 1 {
		chosen = candidates[ecmpIndex(r.id, p, len(candidates))]
	}

	if chosen == fib.Loopback {
		r.recv.Increment()
		return
	}

	b, ok := r.ifaces[chosen]
	if !ok || !b.link.IsUp() {
		r.dropped.Increment()
		return
	}

	if p.TTL < 1 {
		r.dropped.Increment()
		if inIface != nil {
			r.originatedICMP[*inIface]++
		}
		suppressed := inIface != nil && r.ifaces[*inIface] != nil && r.ifaces[*inIface].noICMP
		if inIface != nil && !suppressed {
			icmp := packet.NewICMP(r.ip, p.Source)
			r.send(icmp, nil, nil)
		}
		return
	}

	p.DecrementTTL()
	if err := b.link.Enqueue(r.id, p); err != nil {
		r.dropped.Increment()
		return
	}
	if p.Type == packet.Data {
		if len(p.Payload.Entries()) == 0 {
			r.sent.Increment()
		} else {
			r.forwarded.Increment()
		}
	}
}

// ecmpIndex implements the SHA-256 deterministic tie-break:
// hash(routerId+srcPort+dstPort+src+dst) mod n.
func ecmpIndex(routerID string, p *packet.Packet, n int) int {
	material := fmt.Sprintf("%s%d%d%s%s", routerID, p.SrcPort, p.DstPort, p.Source, p.Destination)
	sum := sha256.Sum256([]byte(material))
	hashInt := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).Mod(hashInt, big.NewInt(int64(n)))
	return int(mod.Int64())
}

// Send is the externally-triggered entry point used by "send" simulator
// events; it always performs a fresh FIB lookup.
func (r *Router) Send(p *packet.Packet) {
	r.send(p, nil, nil)
}

// DumpForwardingTable returns the router's FIB contents as report lines.
func (r *Router) DumpForwardingTable() []string {
	return r.table.Dump()
}

// DumpTrafficStats returns the router's traffic counters as report
// lines, plus each attached link's per-end stats.
func (r *Router) DumpTrafficStats() []string {
	lines := []string{fmt.Sprintf("router %s: %s %s %s %s %s",
		r.id, r.sent, r.recv, r.forwarded, r.dropped, r.controlSent)}
	for _, iface := range r.Interfaces() {
		lines = append(lines, r.ifaces[iface].link.DumpStats()...)
	}
	return lines
}

// AddRemoteDestinations installs a public default route on this
// router's EXT daemon. It returns an error if the router has no daemon
// that accepts default routes.
func (r *Router) AddRemoteDestinations(prefix, asPath string) error {
	return r.addDefault(prefix, asPath, true)
}

// AddPrivateDestinations installs a private default route.
func (r *Router) AddPrivateDestinations(prefix, asPath string) error {
	return r.addDefault(prefix, asPath, false)
}

type defaultSetter interface {
	AddDefault(dest, path string, public bool)
}

func (r *Router) addDefault(prefix, asPath string, public bool) error {
	setter, ok := r.daemon.(defaultSetter)
	if !ok {
		return fmt.Errorf("router %s: daemon does not support default routes", r.id)
	}
	for _, dest := range strings.Fields(prefix) {
		setter.AddDefault(dest, asPath, public)
	}
	return nil
}
