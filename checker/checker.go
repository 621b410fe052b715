// Package checker implements the EGP convergence checker: it
// reconstructs the network-wide forwarding graph from per-router FIBs
// each tick, validates advertised AS paths against actual forwarding,
// detects loops/blackholes/inconsistencies, and computes a revenue
// score modulated by link economics and traffic demand.
//
// Grounded on the original tool's lib/checkers.py EGPChecker. That
// implementation builds its graph on networkx; Go has no drop-in
// equivalent, so the static topology's diameter (the only piece that
// needs real graph-library shortest-path machinery) is computed with
// gonum.org/v1/gonum/graph (see graph.go), while the per-tick,
// per-destination forwarding-path enumeration is hand-rolled DFS since
// no graph library in the retrieved pack (gonum included) exposes
// all-simple-paths.
package checker

import (
	"fmt"
	"io"
	"math"
	"net"
	"sort"

	"github.com/egpsim/egpsim/aspath"
	"github.com/egpsim/egpsim/fib"
	"github.com/egpsim/egpsim/link"
	"github.com/egpsim/egpsim/router"
)

// Kind classifies a router's routing daemon for the checker's purposes.
type Kind int

// Router kinds.
const (
	KindIGP Kind = iota
	KindEGP
	KindEXT
)

// churner is satisfied by both egp.Daemon and ext.Daemon; it isn't part
// of the shared daemon.RoutingDaemon interface since plain IGP routers
// (no daemon at all) don't have it.
type churner interface {
	GetNumberSentRoutingPackets() uint64
}

// routesGetter is satisfied by both egp.Daemon and ext.Daemon.
type routesGetter interface {
	GetCurrentRoutes() map[string]string
}

// RouterInfo is everything the checker needs to know about one router,
// supplied by the config loader at construction time.
type RouterInfo struct {
	ID       string
	Kind     Kind
	ASID     string // EGP: own ASN. EXT: neighbour ASN.
	Relation string // EXT only: this router's relation to its neighbour.
	Router   *router.Router
	Routes   routesGetter
	Churn    churner
}

// LinkInfo describes one link's endpoints and economics, as the checker
// needs them for forwarding-graph edge annotation.
type LinkInfo struct {
	ID       string
	RouterA  string
	IfaceA   string
	RouterB  string
	IfaceB   string
	Revenues link.Revenues
	Link     *link.Link
}

// hasRevenues reports whether the link currently carries an explicit
// "revenues" property, re-read live since a "newlinkproperties" event
// can add or remove it mid-run.
func (li *LinkInfo) hasRevenues() bool {
	_, ok := li.Link.GetProperties()["revenues"]
	return ok
}

// Destination is a public- or private-advertised prefix the network
// carries traffic for, as declared by "advert"/"addprivatepath" events.
type Destination struct {
	Prefix string
	Origin string // router ID of the EXT router advertising it
}

const (
	costForwarding = -2
	penBlackhole   = -8
	penLies        = -16
)

// EGPChecker is the convergence and revenue checker.
type EGPChecker struct {
	routers      map[string]*RouterInfo
	links        []LinkInfo
	ifaceToLink  map[string]*LinkInfo // "routerID|iface" -> link
	destinations []Destination

	estimatedConvergence int
	sourced              map[string]int
	attracted            map[string]int

	time2checks map[int]int
	fines       map[int][]string // now -> human-readable fine lines, for verbose reporting
	advBalances map[string]advPeerBalance

	verbose bool
}

// New builds an EGPChecker from the fully resolved topology.
func New(routers map[string]*RouterInfo, links []LinkInfo, destinations []Destination) *EGPChecker {
	c := &EGPChecker{
		routers:      routers,
		links:        links,
		ifaceToLink:  make(map[string]*LinkInfo),
		destinations: destinations,
		time2checks:  make(map[int]int),
		fines:        make(map[int][]string),
		advBalances:  make(map[string]advPeerBalance),
	}
	for i := range c.links {
		l := &c.links[i]
		c.ifaceToLink[l.RouterA+"|"+l.IfaceA] = l
		c.ifaceToLink[l.RouterB+"|"+l.IfaceB] = l
	}

	nodeNames := make([]string, 0, len(routers))
	for id := range routers {
		nodeNames = append(nodeNames, id)
	}
	routerIDs := append([]string(nil), nodeNames...)
	edges := make([]staticGraphEdge, 0, len(links)+len(destinations)+len(routers))
	for _, l := range links {
		edges = append(edges, staticGraphEdge{A: l.RouterA, B: l.RouterB})
	}
	// Mirror config.py's routingGraph: an edge from each destination's
	// origin router to a leaf node for the prefix itself, and from each
	// IGP router to its own IP, so the diameter accounts for the extra
	// hop onto the advertised prefix (see spec.md §8 Scenario 1).
	for _, d := range destinations {
		nodeNames = append(nodeNames, d.Prefix)
		edges = append(edges, staticGraphEdge{A: d.Origin, B: d.Prefix})
	}
	for id, info := range routers {
		if info.Kind == KindIGP {
			nodeNames = append(nodeNames, info.Router.IP())
			edges = append(edges, staticGraphEdge{A: id, B: info.Router.IP()})
		}
	}
	c.estimatedConvergence = diameter(nodeNames, edges)

	c.initTrafficModel(routerIDs)
	return c
}

// SetVerbose toggles per-fine logging.
func (c *EGPChecker) SetVerbose(v bool) { c.verbose = v }

func (c *EGPChecker) initTrafficModel(nodeNames []string) {
	c.sourced = make(map[string]int, len(nodeNames))
	c.attracted = make(map[string]int, len(c.destinations))
	for _, id := range nodeNames {
		if c.routers[id].Kind == KindEGP {
			c.sourced[id] = 0
		} else {
			c.sourced[id] = -costForwarding
		}
	}
	for _, d := range c.destinations {
		_, network, err := net.ParseCIDR(d.Prefix)
		if err != nil {
			continue
		}
		ones, _ := network.Mask.Size()
		generated := 100 / (ones + 1)
		for _, id := range nodeNames {
			c.sourced[id] = minInt(100, c.sourced[id]+generated)
		}
		c.attracted[d.Prefix] = generated
	}
}

// Check runs the per-tick procedure: convergence gate, loop/consistency
// checks, forwarding-graph reconstruction, and revenue scoring. It
// returns an error (and records no score for now) if the topology puts
// a plain IGP router at the source of a revenue-bearing edge, which has
// no defined orientation (spec.md §9, Open Question #2).
func (c *EGPChecker) Check(now int) error {
	if now < c.estimatedConvergence {
		c.time2checks[now] = 0
		return nil
	}

	router2dest2path := c.collectRoutes()
	finedPaths := make(map[string]map[string]fine) // routerID -> dest -> fine

	c.checkLoops(router2dest2path, finedPaths)
	c.checkConsistency(router2dest2path, finedPaths)

	var pending []pendingScore
	for _, d := range c.destinations {
		fg, err := c.buildForwardingGraph(d.Prefix)
		if err != nil {
			return err
		}
		for id, info := range c.routers {
			if info.Kind == KindIGP {
				continue
			}
			if p, ok := c.scoreRouterDest(id, d, fg, router2dest2path, finedPaths); ok {
				pending = append(pending, p)
			}
		}
	}
	c.time2checks[now] = c.settleAdvancedPeer(pending)
	return nil
}

// pendingScore is one (router,dest) candidate contribution, before the
// advanced-peer traffic redistribution pass.
type pendingScore struct {
	id       string
	dest     string
	revenue  int
	fined    bool
	traffic  int
	advEdges []advCrossing
}

type fine struct {
	reason  string
	penalty int
}

func (c *EGPChecker) collectRoutes() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for id, info := range c.routers {
		if info.Routes == nil {
			continue
		}
		out[id] = info.Routes.GetCurrentRoutes()
	}
	return out
}

func (c *EGPChecker) checkLoops(routes map[string]map[string]string, finedPaths map[string]map[string]fine) {
	for id, info := range c.routers {
		if info.Kind != KindEXT {
			continue
		}
		for dest, path := range routes[id] {
			if aspath.HasLoop(path) {
				c.addFine(finedPaths, id, dest, fine{reason: "AS loop", penalty: penLies})
			}
		}
	}
}

// checkConsistency flags every router whose advertised path passes
// through an AS that, across the whole fleet, is seen pointing at more
// than one distinct next-AS.
func (c *EGPChecker) checkConsistency(routes map[string]map[string]string, finedPaths map[string]map[string]fine) {
	nextAS := make(map[string]map[string]bool) // AS -> set of next-AS seen
	for _, dests := range routes {
		for _, path := range dests {
			tokens := aspath.Collapse(path)
			for i := 0; i+1 < len(tokens); i++ {
				if nextAS[tokens[i]] == nil {
					nextAS[tokens[i]] = make(map[string]bool)
				}
				nextAS[tokens[i]][tokens[i+1]] = true
			}
		}
	}
	multi := make(map[string]bool)
	for asn, nexts := range nextAS {
		if len(nexts) > 1 {
			multi[asn] = true
		}
	}
	if len(multi) == 0 {
		return
	}
	for id, dests := range routes {
		for dest, path := range dests {
			for _, asn := range aspath.Collapse(path) {
				if multi[asn] {
					c.addFine(finedPaths, id, dest, fine{reason: "multiple AS next-hops", penalty: penLies})
					break
				}
			}
		}
	}
}

func (c *EGPChecker) addFine(finedPaths map[string]map[string]fine, routerID, dest string, f fine) {
	if finedPaths[routerID] == nil {
		finedPaths[routerID] = make(map[string]fine)
	}
	// Keep the worst (most negative) fine if more than one applies.
	if existing, ok := finedPaths[routerID][dest]; !ok || f.penalty < existing.penalty {
		finedPaths[routerID][dest] = f
	}
}

// fwdEdge is one hop in a destination's forwarding graph.
type fwdEdge struct {
	to       string // next-hop router ID, or the "leaf:<dest>" sentinel
	revenue  int
	failed   bool
	fromEGP  bool // true if the edge's source router runs EGP
	linkInfo *LinkInfo
}

// buildForwardingGraph reconstructs, for one destination, every
// router's FIB-entry edges: r -> next-hop (or r -> leaf if the FIB
// entry is LOOPBACK).
func (c *EGPChecker) buildForwardingGraph(dest string) (map[string][]fwdEdge, error) {
	graph := make(map[string][]fwdEdge)
	for id, info := range c.routers {
		ifaces := info.Router.FIB().GetEntry(dest)
		for _, iface := range ifaces {
			if iface == fib.Loopback {
				graph[id] = append(graph[id], fwdEdge{to: "leaf:" + dest, revenue: 0})
				continue
			}
			li, ok := c.ifaceToLink[id+"|"+iface]
			if !ok {
				continue
			}
			nh := li.RouterA
			if li.RouterA == id {
				nh = li.RouterB
			}
			rev, err := c.edgeRevenue(id, li)
			if err != nil {
				return nil, err
			}
			graph[id] = append(graph[id], fwdEdge{
				to:       nh,
				revenue:  rev,
				failed:   !li.Link.IsUp(),
				fromEGP:  info.Kind == KindEGP,
				linkInfo: li,
			})
		}
	}
	return graph, nil
}

// edgeRevenue picks the forward or backward revenue figure depending on
// whether the edge's source (id) is an EGP or EXT router, per spec.md
// §4.7 step 1 and the original tool's _getUpdatedNetworkGraph (money_fwd
// if the source is in egps2ases, money_back if in exts2ases). id's
// interface-declaration order in the link's config ("RouterA"/"RouterB")
// never decides the direction. An edge sourced at a plain IGP router
// that actually carries a configured "revenues" property has no defined
// orientation in the original (it raises there too); this simulator
// surfaces the same case as an error instead of guessing.
func (c *EGPChecker) edgeRevenue(id string, li *LinkInfo) (int, error) {
	info, ok := c.routers[id]
	if !ok {
		return 0, fmt.Errorf("checker: link %s references unknown router %s", li.ID, id)
	}
	switch info.Kind {
	case KindEGP:
		return li.Revenues.Forward, nil
	case KindEXT:
		return li.Revenues.Backward, nil
	default:
		if li.hasRevenues() {
			return 0, fmt.Errorf("checker: router %s is neither EGP nor EXT but sources a revenue-bearing edge on link %s", id, li.ID)
		}
		return 0, nil
	}
}

// fwdPath is one simple forwarding path from a router to a destination.
type fwdPath struct {
	hops     []string // router IDs visited, in order, not including the leaf
	crossesEGP bool
	revenue  int
	failed   bool
	advEdges []advCrossing
}

// advCrossing records one hop of a forwarding path that crosses an
// advanced-peer link, in actual traversal order (from -> to).
type advCrossing struct {
	from, to string
}

// allSimplePaths enumerates every simple path from start to the leaf
// node for dest in fg, depth-bounded by the number of routers (this
// graph can contain cycles in an unconverged or buggy run, so each
// path tracks its own visited set rather than a single global one,
// matching networkx.all_simple_paths).
func allSimplePaths(fg map[string][]fwdEdge, start, dest string) []fwdPath {
	var results []fwdPath
	var walk func(node string, visited map[string]bool, hops []string, revenue int, failed bool, crossesEGP bool, adv []advCrossing)
	leaf := "leaf:" + dest
	walk = func(node string, visited map[string]bool, hops []string, revenue int, failed, crossesEGP bool, adv []advCrossing) {
		for _, e := range fg[node] {
			if e.to == leaf {
				results = append(results, fwdPath{
					hops:       append(append([]string{}, hops...), node),
					crossesEGP: crossesEGP || e.fromEGP,
					revenue:    revenue + e.revenue,
					failed:     failed || e.failed,
					advEdges:   adv,
				})
				continue
			}
			if visited[e.to] {
				continue
			}
			nextVisited := make(map[string]bool, len(visited)+1)
			for k := range visited {
				nextVisited[k] = true
			}
			nextVisited[e.to] = true
			nextAdv := adv
			if e.linkInfo != nil && e.linkInfo.Revenues.Asymmetric {
				nextAdv = append(append([]advCrossing{}, adv...), advCrossing{from: node, to: e.to})
			}
			walk(e.to, nextVisited, append(append([]string{}, hops...), node), revenue+e.revenue, failed || e.failed, crossesEGP || e.fromEGP, nextAdv)
		}
	}
	walk(start, map[string]bool{start: true}, nil, 0, false, false, nil)

	filtered := results[:0]
	for _, r := range results {
		if r.crossesEGP {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// pathConsistent checks that the suffix of the advertising router's
// advertised AS-path (starting at the position of hop u) equals what u
// itself currently advertises for dest.
func pathConsistent(hops []string, dest string, router2dest2path map[string]map[string]string) bool {
	origin := hops[0]
	originPath := aspath.Tokens(router2dest2path[origin][dest])
	for i, hop := range hops {
		if i >= len(originPath) {
			return false
		}
		hopPath := aspath.Tokens(router2dest2path[hop][dest])
		if len(hopPath) == 0 {
			continue
		}
		suffix := originPath[i:]
		if len(hopPath) != len(suffix) {
			return false
		}
		for j, tok := range hopPath {
			if suffix[j] != tok {
				return false
			}
		}
	}
	return true
}

// scoreRouterDest finds (id)'s worst forwarding path to d and returns
// its pending contribution. ok is false when id is the destination's
// own origin (no self-scoring) or when there's nothing to report (no
// path, no blackhole condition met).
func (c *EGPChecker) scoreRouterDest(id string, d Destination, fg map[string][]fwdEdge, routes map[string]map[string]string, finedPaths map[string]map[string]fine) (pendingScore, bool) {
	if id == d.Origin {
		return pendingScore{}, false
	}
	info := c.routers[id]
	traffic := c.generatedTraffic(id, d.Prefix)

	if f, ok := finedPaths[id][d.Prefix]; ok {
		return pendingScore{id: id, dest: d.Prefix, revenue: f.penalty, fined: true, traffic: traffic}, true
	}

	paths := allSimplePaths(fg, id, d.Prefix)
	if len(paths) == 0 {
		if info.Relation == "customer" {
			return pendingScore{id: id, dest: d.Prefix, revenue: penBlackhole, fined: true, traffic: traffic}, true
		}
		origin := c.routers[d.Origin]
		if origin != nil && origin.Relation == "customer" {
			if path, ok := routes[d.Origin][d.Prefix]; ok && aspath.UniqueCount(path) > 1 {
				return pendingScore{id: id, dest: d.Prefix, revenue: penBlackhole, fined: true, traffic: traffic}, true
			}
		}
		return pendingScore{}, false
	}

	worst := paths[0]
	worstRev := c.pathRevenue(worst, id, d.Prefix, routes)
	for _, p := range paths[1:] {
		pr := c.pathRevenue(p, id, d.Prefix, routes)
		if pr < worstRev {
			worst, worstRev = p, pr
		}
	}
	fined := worstRev == penLies

	return pendingScore{
		id: id, dest: d.Prefix, revenue: worstRev, fined: fined,
		traffic: traffic, advEdges: worst.advEdges,
	}, true
}

// settleAdvancedPeer applies the advanced-peer traffic-balance
// adjustment (spec.md §4.7 step 8) across every pending contribution
// this tick, then sums the final per-(router,dest) revenues.
func (c *EGPChecker) settleAdvancedPeer(pending []pendingScore) int {
	balances := make(map[string]advPeerBalance)
	for _, p := range pending {
		for _, e := range p.advEdges {
			fwd := balances[e.from+"|"+e.to]
			fwd.net += p.traffic
			fwd.count++
			balances[e.from+"|"+e.to] = fwd

			rev := balances[e.to+"|"+e.from]
			rev.net -= p.traffic
			balances[e.to+"|"+e.from] = rev
		}
	}
	c.advBalances = balances

	total := 0
	for _, p := range pending {
		traffic := p.traffic
		for _, e := range p.advEdges {
			bal := balances[e.from+"|"+e.to]
			if bal.net > 0 {
				traffic = bal.net / bal.count
			} else {
				traffic = 0
			}
		}
		total += c.finalize(p.id, p.dest, p.revenue, p.fined, traffic)
	}
	return total
}

func (c *EGPChecker) pathRevenue(p fwdPath, id, dest string, routes map[string]map[string]string) int {
	if p.failed || !pathConsistent(p.hops, dest, routes) {
		return penLies
	}
	return p.revenue
}

func (c *EGPChecker) generatedTraffic(id, dest string) int {
	return minInt(c.sourced[id], c.attracted[dest])
}

// advPeerBalance accumulates signed traffic per advanced-peer link
// direction, keyed by the directed "from|to" pair, plus a crossing count.
type advPeerBalance struct {
	net   int
	count int
}

// finalize applies cost_forwarding and the AS-path length factor to one
// (router,dest) pair's settled worst-path revenue and traffic, per
// spec.md §4.7 steps 7-8.
func (c *EGPChecker) finalize(id, dest string, worstRevenue int, fined bool, traffic int) int {
	rev := worstRevenue
	if !fined {
		rev += costForwarding
	}
	info := c.routers[id]
	factor := 1.0
	if !fined && info.Routes != nil {
		if path, ok := info.Routes.GetCurrentRoutes()[dest]; ok {
			if n := aspath.UniqueCount(path); n > 0 {
				factor = 10.0 / float64(n)
			}
		}
	}
	return int(math.Floor(float64(rev) * float64(traffic) * factor))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// totalChurn sums churn across EGP routers only, for the report's
// total-revenue formula: the original counts messages received by EXT
// routers, i.e. routing packets sent by their EGP neighbours, not EXT's
// own sent count.
func (c *EGPChecker) totalChurn() uint64 {
	var total uint64
	for _, info := range c.routers {
		if info.Kind == KindEGP && info.Churn != nil {
			total += info.Churn.GetNumberSentRoutingPackets()
		}
	}
	return total
}

// PrintReport writes the per-tick and total revenue summary.
func (c *EGPChecker) PrintReport(w io.Writer) {
	ticks := make([]int, 0, len(c.time2checks))
	for t := range c.time2checks {
		ticks = append(ticks, t)
	}
	sort.Ints(ticks)
	sum := 0
	for _, t := range ticks {
		rev := c.time2checks[t]
		sum += rev
		if c.verbose {
			fmt.Fprintf(w, "t=%d revenue=%d\n", t, rev)
		}
	}
	churn := c.totalChurn()
	total := sum - 2*int(churn)
	fmt.Fprintf(w, "Total path revenues: %d\n", sum)
	fmt.Fprintf(w, "Total control-plane churn: %d\n", churn)
	fmt.Fprintf(w, "Total revenues: %d\n", total)
}
