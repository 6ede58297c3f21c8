package mtree

import (
	"fmt"
	"strconv"

	"krigcache/pkg/geometry"
	"krigcache/pkg/store"
)

// PutToDatabase writes every node of the arena. Nodes go to child scopes
// named by their id.
func (t *Tree) PutToDatabase(db *store.Database) error {
	if err := db.PutIntArray("header", []int{int(t.root), len(t.nodes), t.dim, t.maxEntries}); err != nil {
		return err
	}
	for _, n := range t.nodes {
		nd, err := db.Child("node" + strconv.Itoa(int(n.ID)))
		if err != nil {
			return err
		}
		if err := putNode(nd, n); err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
	}
	return nil
}

func putNode(db *store.Database, n *Node) error {
	if err := db.PutIntArray("node", []int{n.Level, int(n.Parent)}); err != nil {
		return err
	}
	k := len(n.Entries)
	types := make([]int, k)
	subtrees := make([]int, k)
	objects := make([]int, k)
	radii := make([]float64, k)
	distances := make([]float64, k)
	var points []float64
	for i, e := range n.Entries {
		types[i] = int(e.Type)
		subtrees[i] = int(e.Subtree)
		objects[i] = int(e.Object)
		radii[i] = e.Key.Radius
		distances[i] = e.Key.DistanceToParent
		points = append(points, e.Key.Point...)
	}
	for key, v := range map[string][]int{"types": types, "subtrees": subtrees, "objects": objects} {
		if err := db.PutIntArray(key, v); err != nil {
			return err
		}
	}
	for key, v := range map[string][]float64{"radii": radii, "distances": distances, "points": points} {
		if err := db.PutDoubleArray(key, v); err != nil {
			return err
		}
	}
	return nil
}

// GetFromDatabase restores a tree written by PutToDatabase. Options
// supply the metric and logger; the stored node capacity wins over
// WithMaxEntries.
func GetFromDatabase(db *store.Database, opts ...Option) (*Tree, error) {
	header, err := db.GetIntArray("header")
	if err != nil {
		return nil, err
	}
	if len(header) != 4 {
		return nil, fmt.Errorf("tree header: expected 4 fields, got %d", len(header))
	}
	t := New(opts...)
	t.nodes = t.nodes[:0]
	t.root = NodeID(header[0])
	t.dim = header[2]
	t.maxEntries = header[3]

	for id := 0; id < header[1]; id++ {
		nd, err := db.Child("node" + strconv.Itoa(id))
		if err != nil {
			return nil, err
		}
		n, err := getNode(nd, NodeID(id), t.dim)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		t.nodes = append(t.nodes, n)
		for _, e := range n.Entries {
			if e.Type == DataEntry {
				t.objects[e.Object] = struct{}{}
			}
		}
	}
	if t.Node(t.root) == nil {
		return nil, fmt.Errorf("tree root %d out of range", t.root)
	}
	return t, nil
}

func getNode(db *store.Database, id NodeID, dim int) (*Node, error) {
	hdr, err := db.GetIntArray("node")
	if err != nil {
		return nil, err
	}
	if len(hdr) != 2 {
		return nil, fmt.Errorf("node header: expected 2 fields, got %d", len(hdr))
	}
	n := &Node{ID: id, Level: hdr[0], Parent: NodeID(hdr[1])}

	ints := make(map[string][]int)
	for _, key := range []string{"types", "subtrees", "objects"} {
		if ints[key], err = db.GetIntArray(key); err != nil {
			return nil, err
		}
	}
	doubles := make(map[string][]float64)
	for _, key := range []string{"radii", "distances", "points"} {
		if doubles[key], err = db.GetDoubleArray(key); err != nil {
			return nil, err
		}
	}

	k := len(ints["types"])
	if len(ints["subtrees"]) != k || len(ints["objects"]) != k ||
		len(doubles["radii"]) != k || len(doubles["distances"]) != k || len(doubles["points"]) != k*dim {
		return nil, fmt.Errorf("entry arrays have inconsistent lengths")
	}
	for i := 0; i < k; i++ {
		n.Entries = append(n.Entries, &Entry{
			Type: EntryType(ints["types"][i]),
			Key: Key{
				Point:            geometry.Point(doubles["points"][i*dim : (i+1)*dim]).Clone(),
				Radius:           doubles["radii"][i],
				DistanceToParent: doubles["distances"][i],
			},
			Node:    id,
			Subtree: NodeID(ints["subtrees"][i]),
			Object:  ObjectID(ints["objects"][i]),
		})
	}
	return n, nil
}
