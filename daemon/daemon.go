// Package daemon declares the capability set shared by the EGP and EXT
// routing daemons. It is a thin interface, not an inheritance hierarchy,
// following kbgp's own speaker.Policer / speaker.BestPathSelecter style
// of small single-purpose capability interfaces rather than a deep class
// tree.
package daemon

import (
	"encoding/json"

	"github.com/egpsim/egpsim/fib"
	"github.com/egpsim/egpsim/packet"
)

// InterfaceState is the link-state view a daemon receives from its
// router once per tick, keyed by interface name.
type InterfaceState struct {
	Up bool
}

// Router is the capability set a routing daemon needs from the router
// that hosts it. Implemented by router.Router; declared here (rather
// than imported from the router package) to avoid a daemon<->router
// import cycle.
type Router interface {
	ID() string
	IP() string
	FIB() *fib.Table
	Interfaces() []string
}

// RoutingDaemon is the contract both EGP and EXT implement.
type RoutingDaemon interface {
	// SetParameters decodes the daemon's own per-router configuration,
	// whose shape differs between EGP and EXT (see config.go).
	SetParameters(raw json.RawMessage) error
	// BindToRouter attaches the daemon to its host router.
	BindToRouter(r Router) error
	// Update reacts to the current per-interface link state.
	Update(ifaceStates map[string]InterfaceState, now int) error
	// ProcessRoutingPacket consumes one inbound routing packet received
	// on iface.
	ProcessRoutingPacket(iface string, p *packet.Packet) error
	// GenerateRoutingPacket produces the outbound routing packet for
	// iface this tick, or nil if there is nothing to announce/withdraw.
	GenerateRoutingPacket(iface string) (*packet.Packet, error)
	// GetCurrentRoutes returns the daemon's current destination -> AS-path
	// view, used by the checker.
	GetCurrentRoutes() map[string]string
	// GetOutlog returns this tick's human-readable log lines.
	GetOutlog() []string
	// FinalizeIteration clears any per-tick scratch state.
	FinalizeIteration()
	// SetVerbose toggles per-daemon logging.
	SetVerbose(bool)
}
