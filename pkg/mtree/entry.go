// Package mtree implements an M-tree: a balanced metric-space index whose
// leaves reference data objects and whose routing entries carry covering
// balls used to prune range searches.
//
// Nodes live in an arena owned by the Tree and refer to each other by
// NodeID; entries refer to their owning node and their subtree by id.
package mtree

import (
	"fmt"

	"krigcache/pkg/geometry"
)

// NodeID identifies a node in the tree arena
type NodeID int

// ObjectID identifies a data object referenced by a leaf entry. Ids are
// allocated by the caller and never reused.
type ObjectID int

const (
	// UndefinedNode marks a missing node reference.
	UndefinedNode NodeID = -1
	// UndefinedObject marks a missing object reference.
	UndefinedObject ObjectID = -1
	// UndefinedDistance is the distance-to-parent of root entries.
	UndefinedDistance = -1.0
)

// EntryType is the role of an entry. It is fixed the first time the entry
// receives a subtree or a data object.
type EntryType int

const (
	UndefinedEntry EntryType = iota
	DataEntry
	RoutingEntry
)

func (t EntryType) String() string {
	switch t {
	case UndefinedEntry:
		return "undefined"
	case DataEntry:
		return "data"
	case RoutingEntry:
		return "routing"
	}
	return fmt.Sprintf("EntryType(%d)", int(t))
}

// Key is the metric part of an entry.
type Key struct {
	Point geometry.Point

	// Radius of the covering ball; 0 for data entries.
	Radius float64

	// DistanceToParent is the distance from Point to the center of the
	// routing entry that owns this entry's node, or UndefinedDistance in
	// the root node.
	DistanceToParent float64
}

// Entry is a slot of a node: either a data entry pointing at an object or
// a routing entry pointing at a subtree.
type Entry struct {
	Type    EntryType
	Key     Key
	Node    NodeID
	Subtree NodeID
	Object  ObjectID
}

func newEntry(node NodeID, key Key) *Entry {
	return &Entry{
		Type:    UndefinedEntry,
		Key:     key,
		Node:    node,
		Subtree: UndefinedNode,
		Object:  UndefinedObject,
	}
}

func (e *Entry) setDataObject(id ObjectID) {
	if e.Type == RoutingEntry {
		panic("mtree: routing entry cannot reference a data object")
	}
	e.Type = DataEntry
	e.Object = id
}

func (e *Entry) setSubtree(id NodeID) {
	if e.Type == DataEntry {
		panic("mtree: data entry cannot reference a subtree")
	}
	e.Type = RoutingEntry
	e.Subtree = id
}

// Node is an arena slot holding up to MaxEntries entries.
type Node struct {
	ID NodeID

	// Level is the height above the leaves; leaves are level 0.
	Level int

	// Parent is the node holding the routing entry for this node.
	Parent NodeID

	Entries []*Entry
}
