package mtree

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"krigcache/pkg/geometry"
)

// NodeStat describes one node.
type NodeStat struct {
	Node          NodeID
	Depth         int
	NumberEntries int
	IsRoot        bool
	IsLeaf        bool

	// CoveringRadius is -1 and Center nil for the root.
	CoveringRadius float64
	Center         geometry.Point

	NumberObjects int
	Objects       []ObjectID
}

// LevelStatistic groups the node statistics of one depth, root at depth 0.
type LevelStatistic struct {
	Depth int
	Nodes []NodeStat
}

// Summary aggregates tree-wide figures.
type Summary struct {
	Height               int
	Nodes                int
	Objects              int
	MeanFill             float64
	StdDevFill           float64
	DistanceComputations int64
}

// Statistics returns per-level node statistics from the root down.
func (t *Tree) Statistics() []LevelStatistic {
	var levels []LevelStatistic
	var walk func(n *Node, depth int) []ObjectID
	walk = func(n *Node, depth int) []ObjectID {
		for len(levels) <= depth {
			levels = append(levels, LevelStatistic{Depth: len(levels)})
		}
		var objs []ObjectID
		for _, e := range n.Entries {
			if e.Type == DataEntry {
				objs = append(objs, e.Object)
			} else if e.Type == RoutingEntry {
				objs = append(objs, walk(t.nodes[e.Subtree], depth+1)...)
			}
		}
		sort.Slice(objs, func(i, j int) bool { return objs[i] < objs[j] })

		ns := NodeStat{
			Node:           n.ID,
			Depth:          depth,
			NumberEntries:  len(n.Entries),
			IsRoot:         t.IsRoot(n),
			IsLeaf:         t.IsLeaf(n),
			CoveringRadius: -1,
			NumberObjects:  len(objs),
			Objects:        objs,
		}
		if pe := t.parentEntry(n); pe != nil {
			ns.CoveringRadius = pe.Key.Radius
			ns.Center = pe.Key.Point.Clone()
		}
		levels[depth].Nodes = append(levels[depth].Nodes, ns)
		return objs
	}
	walk(t.nodes[t.root], 0)

	for i := range levels {
		sort.Slice(levels[i].Nodes, func(a, b int) bool { return levels[i].Nodes[a].Node < levels[i].Nodes[b].Node })
	}
	return levels
}

// Summary computes tree-wide figures. Fill is entries per node divided by
// the node capacity.
func (t *Tree) Summary() Summary {
	var fill []float64
	for _, lvl := range t.Statistics() {
		for _, n := range lvl.Nodes {
			fill = append(fill, float64(n.NumberEntries)/float64(t.maxEntries))
		}
	}
	s := Summary{
		Height:               t.Height(),
		Nodes:                len(fill),
		Objects:              t.Len(),
		DistanceComputations: t.DistanceComputations(),
	}
	if len(fill) > 1 {
		s.MeanFill, s.StdDevFill = stat.MeanStdDev(fill, nil)
	} else if len(fill) == 1 {
		s.MeanFill = fill[0]
	}
	return s
}
