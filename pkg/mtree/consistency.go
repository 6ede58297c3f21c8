package mtree

import (
	"fmt"
	"math"
)

// ViolationKind classifies a broken structural invariant
type ViolationKind int

const (
	UndefinedEntryType ViolationKind = iota
	WrongOwner
	RootDistanceDefined
	DistanceToParentMismatch
	LeafEntryNotData
	LeafEntryHasSubtree
	LeafEntryMissingObject
	RoutingEntryNotRouting
	RoutingEntryMissingSubtree
	RoutingEntryHasObject
	CoveringRadiusTooSmall
	BrokenParentLink
	LevelMismatch
)

var violationNames = map[ViolationKind]string{
	UndefinedEntryType:         "undefinedEntryType",
	WrongOwner:                 "wrongOwner",
	RootDistanceDefined:        "rootDistanceDefined",
	DistanceToParentMismatch:   "distanceToParentMismatch",
	LeafEntryNotData:           "leafEntryNotData",
	LeafEntryHasSubtree:        "leafEntryHasSubtree",
	LeafEntryMissingObject:     "leafEntryMissingObject",
	RoutingEntryNotRouting:     "routingEntryNotRouting",
	RoutingEntryMissingSubtree: "routingEntryMissingSubtree",
	RoutingEntryHasObject:      "routingEntryHasObject",
	CoveringRadiusTooSmall:     "coveringRadiusTooSmall",
	BrokenParentLink:           "brokenParentLink",
	LevelMismatch:              "levelMismatch",
}

func (k ViolationKind) String() string {
	if s, ok := violationNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ViolationKind(%d)", int(k))
}

// Violation is one broken invariant found by CheckConsistency.
type Violation struct {
	Kind   ViolationKind
	Node   NodeID
	Entry  int // index in the node, -1 for node-level problems
	Object ObjectID
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at node %d entry %d: %s", v.Kind, v.Node, v.Entry, v.Detail)
}

const consistencyEps = 1e-9

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= consistencyEps*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// IsConsistent reports whether CheckConsistency finds nothing.
func (t *Tree) IsConsistent() bool { return len(t.CheckConsistency()) == 0 }

// CheckConsistency walks every node reachable from the root and reports
// each entry that breaks a structural invariant. Every violation is also
// logged.
func (t *Tree) CheckConsistency() []Violation {
	var out []Violation
	t.checkNode(t.nodes[t.root], &out)
	for _, v := range out {
		t.logger.LogViolation(v.Kind.String(), int(v.Node), v.Entry, int(v.Object), v.Detail)
	}
	return out
}

func (t *Tree) checkNode(n *Node, out *[]Violation) {
	add := func(kind ViolationKind, i int, e *Entry, format string, args ...any) {
		obj := UndefinedObject
		if e != nil {
			obj = e.Object
		}
		*out = append(*out, Violation{Kind: kind, Node: n.ID, Entry: i, Object: obj, Detail: fmt.Sprintf(format, args...)})
	}

	root := t.IsRoot(n)
	var pe *Entry
	if !root {
		pe = t.parentEntry(n)
		if pe == nil {
			add(BrokenParentLink, -1, nil, "no routing entry in node %d points here", n.Parent)
		}
	}

	for i, e := range n.Entries {
		if e.Type == UndefinedEntry {
			add(UndefinedEntryType, i, e, "entry type is undefined")
		}
		if e.Node != n.ID {
			add(WrongOwner, i, e, "entry claims node %d", e.Node)
		}

		switch {
		case root:
			if e.Key.DistanceToParent != UndefinedDistance {
				add(RootDistanceDefined, i, e, "root entry has distance %g", e.Key.DistanceToParent)
			}
		case pe != nil:
			if d := t.metric(e.Key.Point, pe.Key.Point); !nearlyEqual(d, e.Key.DistanceToParent) {
				add(DistanceToParentMismatch, i, e, "stored %g, actual %g", e.Key.DistanceToParent, d)
			}
		}

		if t.IsLeaf(n) {
			if e.Type != DataEntry {
				add(LeafEntryNotData, i, e, "leaf entry is %s", e.Type)
			}
			if e.Subtree != UndefinedNode {
				add(LeafEntryHasSubtree, i, e, "leaf entry points at node %d", e.Subtree)
			}
			if e.Object == UndefinedObject {
				add(LeafEntryMissingObject, i, e, "leaf entry has no object")
			}
			continue
		}

		if e.Type != RoutingEntry {
			add(RoutingEntryNotRouting, i, e, "internal entry is %s", e.Type)
		}
		if e.Object != UndefinedObject {
			add(RoutingEntryHasObject, i, e, "internal entry references object %d", e.Object)
		}
		child := t.Node(e.Subtree)
		if child == nil {
			add(RoutingEntryMissingSubtree, i, e, "subtree %d does not exist", e.Subtree)
			continue
		}
		if child.Parent != n.ID {
			add(BrokenParentLink, i, e, "child %d records parent %d", child.ID, child.Parent)
		}
		if child.Level != n.Level-1 {
			add(LevelMismatch, i, e, "child %d at level %d under level %d", child.ID, child.Level, n.Level)
		}
		if need := coverage(child); e.Key.Radius < need && !nearlyEqual(e.Key.Radius, need) {
			add(CoveringRadiusTooSmall, i, e, "radius %g, children need %g", e.Key.Radius, need)
		}
		t.checkNode(child, out)
	}
}
