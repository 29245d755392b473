// Package snapshot flattens the platform's nested snapshot descriptors into
// a pre-ordered, index-addressed tree.
//
// Nodes never point at each other. Each node records its own id and the id
// of its parent; children are found by grouping on ParentID. The order of
// Nodes is strict pre-order (a parent is immediately followed by its whole
// subtree), which drives both indentation when printing and which node a
// by-name lookup resolves to when names collide.
package snapshot

import (
	"time"

	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
)

// NoParent is the ParentID of root nodes.
const NoParent int32 = -1

// Node is one snapshot in a machine's tree.
type Node struct {
	ID          int32                        `json:"id" yaml:"id"`
	Ref         types.ManagedObjectReference `json:"-" yaml:"-"`
	Name        string                       `json:"name" yaml:"name"`
	Description string                       `json:"description" yaml:"description"`
	Created     time.Time                    `json:"created" yaml:"created"`
	State       models.PowerState            `json:"state" yaml:"state"`
	ParentID    int32                        `json:"parent_id" yaml:"parent_id"`
	Level       int                          `json:"level" yaml:"level"`
	Current     bool                         `json:"current" yaml:"current"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == NoParent
}

// Tree is a forest of snapshot nodes in pre-order.
type Tree struct {
	nodes []Node
	index map[int32]int
}

// Build walks the root descriptors in the given order and emits every node
// before its subtree. The node whose reference equals current is flagged;
// at most one node is ever flagged even if the platform repeats a reference.
func Build(roots []models.SnapshotDescriptor, current *types.ManagedObjectReference) *Tree {
	t := &Tree{index: make(map[int32]int)}
	b := builder{tree: t, current: current}
	b.walk(roots, NoParent, 0)
	return t
}

// BuildFromInfo builds the tree of a VM's snapshot info. A nil info yields an
// empty tree.
func BuildFromInfo(info *models.SnapshotInfo) *Tree {
	if info == nil {
		return Build(nil, nil)
	}
	return Build(info.Roots, info.Current)
}

type builder struct {
	tree    *Tree
	current *types.ManagedObjectReference
	marked  bool
}

func (b *builder) walk(list []models.SnapshotDescriptor, parent int32, level int) {
	for i := range list {
		d := &list[i]
		n := Node{
			ID:          d.ID,
			Ref:         d.Ref,
			Name:        d.Name,
			Description: d.Description,
			Created:     d.Created,
			State:       d.State,
			ParentID:    parent,
			Level:       level,
		}
		if !b.marked && b.current != nil && d.Ref.Value == b.current.Value {
			n.Current = true
			b.marked = true
		}
		b.tree.index[n.ID] = len(b.tree.nodes)
		b.tree.nodes = append(b.tree.nodes, n)
		b.walk(d.Children, d.ID, level+1)
	}
}

// Nodes returns a copy of all nodes in pre-order.
func (t *Tree) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Len returns the number of snapshots in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Lookup returns the first node in pre-order with the given name. A miss is
// a normal outcome.
func (t *Tree) Lookup(name string) (Node, bool) {
	for _, n := range t.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// Get returns the node with the given id.
func (t *Tree) Get(id int32) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Current returns the node flagged as current, if any.
func (t *Tree) Current() (Node, bool) {
	for _, n := range t.nodes {
		if n.Current {
			return n, true
		}
	}
	return Node{}, false
}

// Parent returns the parent of the node with the given id.
func (t *Tree) Parent(id int32) (Node, bool) {
	n, ok := t.Get(id)
	if !ok || n.IsRoot() {
		return Node{}, false
	}
	return t.Get(n.ParentID)
}

// Roots returns the level-0 nodes in order.
func (t *Tree) Roots() []Node {
	return t.Children(NoParent)
}

// Children returns the direct children of the node with the given id, in
// pre-order. Pass NoParent for the roots.
func (t *Tree) Children(id int32) []Node {
	var out []Node
	for _, n := range t.nodes {
		if n.ParentID == id {
			out = append(out, n)
		}
	}
	return out
}

// Path returns the chain of nodes from the root down to the node with the
// given id.
func (t *Tree) Path(id int32) []Node {
	var rev []Node
	for n, ok := t.Get(id); ok; n, ok = t.Parent(n.ID) {
		rev = append(rev, n)
	}
	out := make([]Node, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}
