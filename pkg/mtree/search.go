package mtree

import (
	"math"
	"sort"

	"krigcache/pkg/geometry"
)

// SearchResult is an object found by a query.
type SearchResult struct {
	Object   ObjectID
	Point    geometry.Point
	Distance float64
}

// query is a range query scanning one node. grade caches the distance
// from the query point to the center of the routing entry that owns the
// node, so entries can be pruned with the triangle inequality before any
// distance to them is computed.
type query struct {
	point      geometry.Point
	radius     float64
	grade      float64
	gradeKnown bool
}

// consistent reports whether the entry's ball can intersect the query ball
// and returns the distance from the query point to the entry.
func (q *query) consistent(t *Tree, e *Entry) (bool, float64) {
	if q.gradeKnown && e.Key.DistanceToParent != UndefinedDistance {
		if math.Abs(q.grade-e.Key.DistanceToParent) > q.radius+e.Key.Radius {
			return false, 0
		}
	}
	d := t.distance(q.point, e.Key.Point)
	return d <= q.radius+e.Key.Radius, d
}

// RangeSearch returns every object within radius of p, nearest first.
// Ties are broken by object id.
func (t *Tree) RangeSearch(p geometry.Point, radius float64) []SearchResult {
	var out []SearchResult
	t.search(t.nodes[t.root], query{point: p, radius: radius}, &out)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Object < out[j].Object
	})
	return out
}

func (t *Tree) search(n *Node, q query, out *[]SearchResult) {
	for _, e := range n.Entries {
		ok, d := q.consistent(t, e)
		if !ok {
			continue
		}
		switch e.Type {
		case DataEntry:
			*out = append(*out, SearchResult{Object: e.Object, Point: e.Key.Point.Clone(), Distance: d})
		case RoutingEntry:
			child := q
			child.grade, child.gradeKnown = d, true
			t.search(t.nodes[e.Subtree], child, out)
		}
	}
}

// Nearest returns at most k objects within radius of p, nearest first.
// k <= 0 returns all of them.
func (t *Tree) Nearest(p geometry.Point, radius float64, k int) []SearchResult {
	res := t.RangeSearch(p, radius)
	if k > 0 && len(res) > k {
		res = res[:k]
	}
	return res
}
