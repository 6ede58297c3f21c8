package mtree

import (
	"errors"
	"fmt"
	"sync/atomic"

	"krigcache/internal/logging"
	"krigcache/pkg/geometry"
)

var (
	// ErrUndefinedObject is returned when inserting UndefinedObject.
	ErrUndefinedObject = errors.New("undefined object id")

	// ErrDuplicateObject is returned when an object id is already indexed.
	ErrDuplicateObject = errors.New("object already indexed")

	// ErrDimensionMismatch is returned for points of the wrong dimension.
	ErrDimensionMismatch = errors.New("point dimension mismatch")
)

// DefaultMaxEntries is the node capacity used when none is configured.
const DefaultMaxEntries = 16

// Metric computes the distance between two points.
type Metric func(a, b geometry.Point) float64

// Euclidean is the L2 metric.
func Euclidean(a, b geometry.Point) float64 { return a.Distance(b) }

// Option configures a Tree
type Option func(*Tree)

// WithMaxEntries sets the node capacity. Values below 2 are raised to 2.
func WithMaxEntries(n int) Option {
	return func(t *Tree) {
		if n < 2 {
			n = 2
		}
		t.maxEntries = n
	}
}

// WithMetric replaces the Euclidean metric.
func WithMetric(m Metric) Option {
	return func(t *Tree) { t.metric = m }
}

// WithLogger sets the logger used for splits and consistency violations.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tree) { t.logger = l }
}

// Tree is an M-tree over points of a fixed dimension. It is not safe for
// concurrent mutation; concurrent searches are safe.
type Tree struct {
	nodes      []*Node
	root       NodeID
	dim        int
	maxEntries int
	metric     Metric
	logger     *logging.Logger
	objects    map[ObjectID]struct{}

	distanceCount atomic.Int64
}

// New creates an empty tree whose root is an empty leaf.
func New(opts ...Option) *Tree {
	t := &Tree{
		maxEntries: DefaultMaxEntries,
		metric:     Euclidean,
		logger:     logging.NoopLogger(),
		objects:    make(map[ObjectID]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.root = t.newNode(0, UndefinedNode).ID
	return t
}

func (t *Tree) newNode(level int, parent NodeID) *Node {
	n := &Node{ID: NodeID(len(t.nodes)), Level: level, Parent: parent}
	t.nodes = append(t.nodes, n)
	return n
}

// Root returns the id of the root node
func (t *Tree) Root() NodeID { return t.root }

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// MaxEntries returns the node capacity
func (t *Tree) MaxEntries() int { return t.maxEntries }

// Len returns the number of indexed objects
func (t *Tree) Len() int { return len(t.objects) }

// Height returns the number of levels
func (t *Tree) Height() int { return t.nodes[t.root].Level + 1 }

// Contains reports whether an object is indexed.
func (t *Tree) Contains(id ObjectID) bool {
	_, ok := t.objects[id]
	return ok
}

// IsRoot reports whether n is the root node
func (t *Tree) IsRoot(n *Node) bool { return n.ID == t.root }

// IsLeaf reports whether n is a leaf node
func (t *Tree) IsLeaf(n *Node) bool { return n.Level == 0 }

// DistanceComputations returns the number of metric evaluations performed
// by inserts and searches.
func (t *Tree) DistanceComputations() int64 { return t.distanceCount.Load() }

func (t *Tree) distance(a, b geometry.Point) float64 {
	t.distanceCount.Add(1)
	return t.metric(a, b)
}

// parentEntry returns the routing entry pointing at n, or nil for the root.
func (t *Tree) parentEntry(n *Node) *Entry {
	if n.ID == t.root || n.Parent == UndefinedNode {
		return nil
	}
	for _, e := range t.nodes[n.Parent].Entries {
		if e.Subtree == n.ID {
			return e
		}
	}
	return nil
}

func (t *Tree) distanceToParent(n *Node, p geometry.Point) float64 {
	pe := t.parentEntry(n)
	if pe == nil {
		return UndefinedDistance
	}
	return t.distance(p, pe.Key.Point)
}

// coverage is the radius a routing entry for n must have, given the
// distances stored in n's entries.
func coverage(n *Node) float64 {
	r := 0.0
	for _, e := range n.Entries {
		if c := e.Key.DistanceToParent + e.Key.Radius; c > r {
			r = c
		}
	}
	return r
}

// Insert indexes an object at point.
func (t *Tree) Insert(id ObjectID, point geometry.Point) error {
	if id == UndefinedObject {
		return ErrUndefinedObject
	}
	if t.dim == 0 {
		t.dim = point.Dim()
	}
	if point.Dim() != t.dim {
		return fmt.Errorf("%w: got %d, tree has %d", ErrDimensionMismatch, point.Dim(), t.dim)
	}
	if t.Contains(id) {
		return fmt.Errorf("%w: %d", ErrDuplicateObject, id)
	}

	leaf := t.chooseLeaf(point)
	e := newEntry(leaf.ID, Key{Point: point.Clone(), DistanceToParent: t.distanceToParent(leaf, point)})
	e.setDataObject(id)
	leaf.Entries = append(leaf.Entries, e)
	t.objects[id] = struct{}{}

	dirty := []NodeID{leaf.ID}
	if len(leaf.Entries) > t.maxEntries {
		dirty = append(dirty, t.split(leaf)...)
	}
	for _, id := range dirty {
		t.tightenFrom(t.nodes[id])
	}
	return nil
}

// chooseLeaf descends a single path, preferring the closest routing entry
// whose ball already holds the point, else the one needing the smallest
// enlargement.
func (t *Tree) chooseLeaf(p geometry.Point) *Node {
	n := t.nodes[t.root]
	for !t.IsLeaf(n) {
		var best *Entry
		bestDist, bestCost := 0.0, 0.0
		inside := false
		for _, e := range n.Entries {
			d := t.distance(p, e.Key.Point)
			if d <= e.Key.Radius {
				if !inside || d < bestDist {
					best, bestDist, inside = e, d, true
				}
				continue
			}
			if inside {
				continue
			}
			if cost := d - e.Key.Radius; best == nil || cost < bestCost {
				best, bestDist, bestCost = e, d, cost
			}
		}
		if bestDist > best.Key.Radius {
			best.Key.Radius = bestDist
		}
		n = t.nodes[best.Subtree]
	}
	return n
}

// split divides an overflowing node in two and propagates upwards. It
// returns every node whose entries changed.
func (t *Tree) split(n *Node) []NodeID {
	entries := n.Entries
	i1, i2 := t.promote(entries)
	c1 := entries[i1].Key.Point.Clone()
	c2 := entries[i2].Key.Point.Clone()

	sibling := t.newNode(n.Level, n.Parent)
	var g1, g2 []*Entry
	for i, e := range entries {
		var d1, d2 float64
		// promoted entries always stay with their own center
		switch i {
		case i1:
			d1, d2 = 0, 1
		case i2:
			d1, d2 = 1, 0
		default:
			d1, d2 = t.distance(e.Key.Point, c1), t.distance(e.Key.Point, c2)
		}
		if d1 <= d2 {
			e.Key.DistanceToParent = d1
			e.Node = n.ID
			g1 = append(g1, e)
		} else {
			e.Key.DistanceToParent = d2
			e.Node = sibling.ID
			g2 = append(g2, e)
		}
	}
	n.Entries = g1
	sibling.Entries = g2
	for _, e := range g2 {
		if e.Type == RoutingEntry {
			t.nodes[e.Subtree].Parent = sibling.ID
		}
	}

	r1 := newEntry(UndefinedNode, Key{Point: c1, Radius: coverage(n)})
	r1.setSubtree(n.ID)
	r2 := newEntry(UndefinedNode, Key{Point: c2, Radius: coverage(sibling)})
	r2.setSubtree(sibling.ID)

	dirty := []NodeID{n.ID, sibling.ID}

	if n.ID == t.root {
		root := t.newNode(n.Level+1, UndefinedNode)
		r1.Node, r2.Node = root.ID, root.ID
		r1.Key.DistanceToParent = UndefinedDistance
		r2.Key.DistanceToParent = UndefinedDistance
		root.Entries = []*Entry{r1, r2}
		n.Parent, sibling.Parent = root.ID, root.ID
		t.root = root.ID
		t.logger.LogSplit(int(n.ID), int(sibling.ID), n.Level, true)
		return dirty
	}

	parent := t.nodes[n.Parent]
	r1.Node, r2.Node = parent.ID, parent.ID
	r1.Key.DistanceToParent = t.distanceToParent(parent, c1)
	r2.Key.DistanceToParent = t.distanceToParent(parent, c2)
	for i, e := range parent.Entries {
		if e.Subtree == n.ID {
			parent.Entries[i] = r1
			break
		}
	}
	parent.Entries = append(parent.Entries, r2)
	t.logger.LogSplit(int(n.ID), int(sibling.ID), n.Level, false)

	dirty = append(dirty, parent.ID)
	if len(parent.Entries) > t.maxEntries {
		dirty = append(dirty, t.split(parent)...)
	}
	return dirty
}

// promote picks the two entries farthest apart as the new routing centers.
func (t *Tree) promote(entries []*Entry) (int, int) {
	i1, i2 := 0, 1
	best := -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if d := t.distance(entries[i].Key.Point, entries[j].Key.Point); d > best {
				best, i1, i2 = d, i, j
			}
		}
	}
	return i1, i2
}

// tightenFrom walks from n to the root raising covering radii so that each
// routing entry covers its children's balls.
func (t *Tree) tightenFrom(n *Node) {
	for n.ID != t.root {
		pe := t.parentEntry(n)
		if pe == nil {
			return
		}
		if c := coverage(n); c > pe.Key.Radius {
			pe.Key.Radius = c
		}
		n = t.nodes[n.Parent]
	}
}
