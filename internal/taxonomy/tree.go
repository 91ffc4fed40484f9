// Package taxonomy holds the flat arena representation of a codeframe tree.
// Nodes are rows keyed by id with parent_id + level; the arena validates
// level adjacency and cycle freedom on insert so persisted hierarchies can
// never violate the tree invariants.
package taxonomy

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type Node struct {
	ID       uuid.UUID
	ParentID *uuid.UUID
	Level    int
	Name     string
}

type Tree struct {
	nodes    map[uuid.UUID]*Node
	children map[uuid.UUID][]uuid.UUID
}

func NewTree() *Tree {
	return &Tree{
		nodes:    make(map[uuid.UUID]*Node),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Insert adds a node, enforcing:
//   - unique id
//   - root nodes (parent nil) have level 0
//   - non-root nodes reference an existing parent with level = node.Level-1
//
// Parent-before-child insertion order plus the level adjacency check makes a
// cycle impossible to construct; Validate re-checks the whole arena anyway.
func (t *Tree) Insert(n *Node) error {
	if n == nil || n.ID == uuid.Nil {
		return fmt.Errorf("taxonomy: node id required")
	}
	if _, exists := t.nodes[n.ID]; exists {
		return fmt.Errorf("taxonomy: duplicate node id %s", n.ID)
	}
	if n.ParentID == nil {
		if n.Level != 0 {
			return fmt.Errorf("taxonomy: root node %q must have level 0, got %d", n.Name, n.Level)
		}
	} else {
		if *n.ParentID == n.ID {
			return fmt.Errorf("taxonomy: node %q is its own parent", n.Name)
		}
		parent, ok := t.nodes[*n.ParentID]
		if !ok {
			return fmt.Errorf("taxonomy: node %q references unknown parent %s", n.Name, *n.ParentID)
		}
		if parent.Level != n.Level-1 {
			return fmt.Errorf("taxonomy: node %q at level %d under parent at level %d", n.Name, n.Level, parent.Level)
		}
	}
	t.nodes[n.ID] = n
	if n.ParentID != nil {
		t.children[*n.ParentID] = append(t.children[*n.ParentID], n.ID)
	}
	return nil
}

func (t *Tree) Get(id uuid.UUID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

// Children returns child ids in a stable order.
func (t *Tree) Children(id uuid.UUID) []uuid.UUID {
	kids := append([]uuid.UUID(nil), t.children[id]...)
	sort.Slice(kids, func(i, j int) bool { return kids[i].String() < kids[j].String() })
	return kids
}

// Roots returns all level-0 node ids in a stable order.
func (t *Tree) Roots() []uuid.UUID {
	var roots []uuid.UUID
	for id, n := range t.nodes {
		if n.ParentID == nil {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].String() < roots[j].String() })
	return roots
}

// Validate walks every node up to its root and confirms level adjacency and
// the absence of cycles. O(n * depth); depth is at most 4 in practice.
func (t *Tree) Validate() error {
	for _, n := range t.nodes {
		seen := map[uuid.UUID]bool{n.ID: true}
		cur := n
		for cur.ParentID != nil {
			parent, ok := t.nodes[*cur.ParentID]
			if !ok {
				return fmt.Errorf("taxonomy: node %q has dangling parent %s", cur.Name, *cur.ParentID)
			}
			if seen[parent.ID] {
				return fmt.Errorf("taxonomy: cycle through node %q", parent.Name)
			}
			if parent.Level != cur.Level-1 {
				return fmt.Errorf("taxonomy: node %q at level %d under parent at level %d", cur.Name, cur.Level, parent.Level)
			}
			seen[parent.ID] = true
			cur = parent
		}
		if cur.Level != 0 {
			return fmt.Errorf("taxonomy: root of %q has level %d, want 0", n.Name, cur.Level)
		}
	}
	return nil
}
