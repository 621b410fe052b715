// Package sim implements the discrete-event simulation kernel: the
// per-tick loop that interleaves scheduled events, router cycles,
// link-layer packet movement, and checker invocation.
//
// Grounded on the original tool's simulator.py main_loop for the exact
// phase order, Go-ified with a switch over the event's operation in
// place of an if/elif chain.
package sim

import (
	"fmt"
	"io"
	"sort"

	"github.com/egpsim/egpsim/link"
	"github.com/egpsim/egpsim/packet"
	"github.com/egpsim/egpsim/router"
)

// Checker is invoked at the end of every tick to validate and score
// the current routing state. A non-nil error (an undefined-topology
// condition the checker refuses to guess at) aborts the run.
type Checker interface {
	Check(now int) error
	PrintReport(w io.Writer)
}

// Kernel owns every router, link, and event for one simulation run.
type Kernel struct {
	Routers  map[string]*router.Router
	Links    []*link.Link
	Events   []*Event
	Checkers []Checker

	StopTime int

	packetCounter int
	log           func(string)
}

// New creates an empty kernel with a default stop time of 1 (i.e. no
// ticks run until the StopTime field is raised, as the config loader
// does from a "stop" event).
func New() *Kernel {
	return &Kernel{
		Routers:  make(map[string]*router.Router),
		StopTime: 1,
		log:      func(string) {},
	}
}

// SetLogger installs a sink for the kernel's line-buffered progress
// output; nil disables it.
func (k *Kernel) SetLogger(f func(string)) {
	if f == nil {
		f = func(string) {}
	}
	k.log = f
}

// AddRouter registers a router under its ID.
func (k *Kernel) AddRouter(r *router.Router) {
	k.Routers[r.ID()] = r
}

// AddLink registers a link and attaches it to both endpoint routers.
func (k *Kernel) AddLink(l *link.Link, end0, end1 int) {
	k.Links = append(k.Links, l)
	if r0, ok := k.Routers[l.GetRouter(0)]; ok {
		r0.AddLink(l.GetInterface(0), l, end0)
	}
	if r1, ok := k.Routers[l.GetRouter(1)]; ok {
		r1.AddLink(l.GetInterface(1), l, end1)
	}
}

// AddEvent schedules e.
func (k *Kernel) AddEvent(e *Event) {
	k.Events = append(k.Events, e)
}

// SetVerbose toggles per-checker logging (the "-v/--verbose" CLI flag).
// Checkers are appended to k.Checkers after construction, so this
// fans the flag out to whatever's registered at call time; callers
// should set it after all checkers are added.
func (k *Kernel) SetVerbose(v bool) {
	for _, c := range k.Checkers {
		if vc, ok := c.(interface{ SetVerbose(bool) }); ok {
			vc.SetVerbose(v)
		}
	}
}

// SetInfo toggles per-router logging (the "-i/--info" CLI flag).
func (k *Kernel) SetInfo(v bool) {
	for _, r := range k.Routers {
		r.SetVerbose(v)
	}
}

// Run executes main_loop: for now = 1..StopTime-1, process events, run
// every router, move packets on every link, then check. After the loop
// it warns about unprocessed events and prints every checker's report.
func (k *Kernel) Run(w io.Writer) error {
	for now := 1; now < k.StopTime; now++ {
		k.log(fmt.Sprintf("= Time %d =", now))
		if err := k.processEvents(now); err != nil {
			return err
		}
		datalog, routinglog, err := k.processRouters(now)
		if err != nil {
			return err
		}
		k.processPackets()
		for _, line := range datalog {
			k.log(line)
		}
		for _, line := range routinglog {
			k.log(line)
		}
		if err := k.checkIteration(now); err != nil {
			return err
		}
	}
	k.checkCompleted()
	k.printReport(w)
	return nil
}

func (k *Kernel) processEvents(now int) error {
	for _, e := range k.Events {
		if e.Done || e.Time > now {
			continue
		}
		if err := k.dispatch(e, now); err != nil {
			return err
		}
		e.Done = true
	}
	return nil
}

func (k *Kernel) dispatch(e *Event, now int) error {
	switch e.Op {
	case OpSend:
		args := e.Args.(SendArgs)
		src, ok := k.Routers[args.Src]
		if !ok {
			return fmt.Errorf("event send: unknown router %s", args.Src)
		}
		k.packetCounter++
		p := packet.New(src.IP(), args.Dst)
		p.Seq = k.packetCounter
		p.SrcPort = 5000 + k.packetCounter
		if args.TTL > 0 {
			p.SetTTL(args.TTL)
		}
		src.Send(p)
		return nil
	case OpUplink, OpDownlink:
		args := e.Args.(LinkStateArgs)
		l := k.findLink(args.Iface0, args.Iface1)
		if l == nil {
			return fmt.Errorf("event %s: no link between %s and %s", e.Op, args.Iface0, args.Iface1)
		}
		l.SetState(e.Op == OpUplink)
		return nil
	case OpNewLinkProps:
		args := e.Args.(LinkPropsArgs)
		for _, l := range k.Links {
			if l.ID() == args.LinkID {
				l.UpdateProperties(args.Properties)
				return nil
			}
		}
		return fmt.Errorf("event newlinkproperties: unknown link %s", args.LinkID)
	case OpAdvert:
		args := e.Args.(RouteArgs)
		r, ok := k.Routers[args.Router]
		if !ok {
			return fmt.Errorf("event advert: unknown router %s", args.Router)
		}
		return r.AddRemoteDestinations(args.Prefix, args.ASPath)
	case OpAddPrivatePath:
		args := e.Args.(RouteArgs)
		r, ok := k.Routers[args.Router]
		if !ok {
			return fmt.Errorf("event addprivatepath: unknown router %s", args.Router)
		}
		return r.AddPrivateDestinations(args.Prefix, args.ASPath)
	case OpDumpFIB:
		args := e.Args.(DumpArgs)
		for _, r := range k.dumpTargets(args.Target) {
			for _, line := range r.DumpForwardingTable() {
				k.log(line)
			}
		}
		return nil
	case OpDumpStats:
		args := e.Args.(DumpArgs)
		for _, r := range k.dumpTargets(args.Target) {
			for _, line := range r.DumpTrafficStats() {
				k.log(line)
			}
		}
		return nil
	case OpStop:
		args := e.Args.(StopArgs)
		k.StopTime = args.Time
		return nil
	default:
		return fmt.Errorf("event: unhandled operation %q", e.Op)
	}
}

func (k *Kernel) dumpTargets(target string) []*router.Router {
	if target == "all" {
		ids := make([]string, 0, len(k.Routers))
		for id := range k.Routers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rs := make([]*router.Router, 0, len(ids))
		for _, id := range ids {
			rs = append(rs, k.Routers[id])
		}
		return rs
	}
	if r, ok := k.Routers[target]; ok {
		return []*router.Router{r}
	}
	return nil
}

func (k *Kernel) findLink(iface0, iface1 string) *link.Link {
	for _, l := range k.Links {
		a, b := l.GetInterface(0), l.GetInterface(1)
		if (a == iface0 && b == iface1) || (a == iface1 && b == iface0) {
			return l
		}
	}
	return nil
}

func (k *Kernel) processRouters(now int) (datalog, routinglog []string, err error) {
	ids := make([]string, 0, len(k.Routers))
	for id := range k.Routers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := k.Routers[id]
		r.SetTimeStep(now)
		d, rl, err := r.Go()
		if err != nil {
			return nil, nil, fmt.Errorf("router %s: %w", id, err)
		}
		datalog = append(datalog, d...)
		routinglog = append(routinglog, rl...)
	}
	return datalog, routinglog, nil
}

func (k *Kernel) processPackets() {
	for _, l := range k.Links {
		l.MovePackets()
	}
}

func (k *Kernel) checkIteration(now int) error {
	for _, c := range k.Checkers {
		if err := c.Check(now); err != nil {
			return fmt.Errorf("checker: tick %d: %w", now, err)
		}
	}
	return nil
}

func (k *Kernel) checkCompleted() {
	unused := 0
	for _, e := range k.Events {
		if !e.Done {
			unused++
		}
	}
	if unused > 0 {
		k.log(fmt.Sprintf("WARNING: stopping now but %d events not simulated!", unused))
	}
}

func (k *Kernel) printReport(w io.Writer) {
	fmt.Fprintln(w, "\n** Simulation Report **")
	for _, c := range k.Checkers {
		c.PrintReport(w)
		fmt.Fprintln(w)
	}
}
