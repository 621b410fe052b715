package checker

import (
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// idInterner maps node names to the int64 node IDs gonum's graph types
// require. It keeps no reverse mapping.
type idInterner struct {
	ids  map[string]int64
	next int64
}

func newIDInterner() *idInterner {
	return &idInterner{ids: make(map[string]int64)}
}

func (in *idInterner) id(name string) int64 {
	if id, ok := in.ids[name]; ok {
		return id
	}
	id := in.next
	in.next++
	in.ids[name] = id
	return id
}

// staticGraphEdge is one undirected link edge in the topology graph
// used only to compute the convergence-grace diameter.
type staticGraphEdge struct {
	A, B string
}

// diameter computes the undirected graph diameter via gonum's
// all-pairs shortest path (unweighted, so every edge costs 1): the
// eccentricity of the most remote pair of nodes. Disconnected pairs
// are ignored, matching networkx.diameter's behavior on a connected
// graph (this simulator's topologies are always connected).
func diameter(nodeNames []string, edges []staticGraphEdge) int {
	interner := newIDInterner()
	g := simple.NewUndirectedGraph()
	for _, n := range nodeNames {
		id := interner.id(n)
		if g.Node(id) == nil {
			g.AddNode(simple.Node(id))
		}
	}
	for _, e := range edges {
		u, v := interner.id(e.A), interner.id(e.B)
		if g.Node(u) == nil {
			g.AddNode(simple.Node(u))
		}
		if g.Node(v) == nil {
			g.AddNode(simple.Node(v))
		}
		if u == v || g.HasEdgeBetween(u, v) {
			continue
		}
		g.SetEdge(simple.Edge{F: simple.Node(u), T: simple.Node(v)})
	}

	all := path.DijkstraAllPaths(g)
	nodes := graph.NodesOf(g.Nodes())
	diam := 0.0
	for _, u := range nodes {
		for _, v := range nodes {
			if u.ID() == v.ID() {
				continue
			}
			w := all.Weight(u.ID(), v.ID())
			if math.IsInf(w, 1) {
				continue
			}
			if w > diam {
				diam = w
			}
		}
	}
	return int(diam)
}
