// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forest

// =============================================================================
// Structural Update
// =============================================================================

// update rebuilds the spine from the list down to the node at path, replacing
// it with fn's result. Lists and nodes off the spine are reused as-is.
//
// Returns the original slice and false when the path does not match or fn
// returns the node unchanged.
func update(nodes []*Node, path Path, fn func(*Node) *Node) ([]*Node, bool) {
	if len(path) == 0 {
		return nodes, false
	}
	for i, n := range nodes {
		if n == nil || n.ID != path[0] {
			continue
		}

		var replacement *Node
		if len(path) == 1 {
			replacement = fn(n)
		} else {
			children, ok := update(n.Children, path[1:], fn)
			if !ok {
				return nodes, false
			}
			c := *n
			c.Children = children
			replacement = &c
		}
		if replacement == n {
			return nodes, false
		}

		out := make([]*Node, len(nodes))
		copy(out, nodes)
		out[i] = replacement
		return out, true
	}
	return nodes, false
}

// =============================================================================
// Operations
// =============================================================================

// SetContent replaces the content of the node at path.
//
// # Description
//
// Returns a new forest where the target and its ancestors are new values.
// Siblings and all other subtrees keep their identity. An unknown path
// returns f unchanged.
//
// # Examples
//
//	f = forest.SetContent(f, forest.Path{rootID}, "Hello")
func SetContent(f Forest, path Path, text string) Forest {
	out, _ := update(f, path, func(n *Node) *Node {
		if n.Content == text {
			return n
		}
		c := *n
		c.Content = text
		return &c
	})
	return out
}

// AppendDelta concatenates streamed text onto the content of the node at path.
//
// An empty delta or an unknown path returns f unchanged.
func AppendDelta(f Forest, path Path, delta string) Forest {
	if delta == "" {
		return f
	}
	out, _ := update(f, path, func(n *Node) *Node {
		c := *n
		c.Content = n.Content + delta
		return &c
	})
	return out
}

// AddChild appends a new empty node with the given role under the node at path.
//
// # Description
//
// The new node gets an id that is not used anywhere in f. The child is
// appended after existing children.
//
// # Outputs
//
//   - Forest: Updated forest, or f when path is unknown.
//   - string: Id of the new node, or "" when path is unknown.
func AddChild(f Forest, path Path, role Role) (Forest, string) {
	id := freshID(f)
	out, ok := update(f, path, func(n *Node) *Node {
		c := *n
		children := make([]*Node, len(n.Children), len(n.Children)+1)
		copy(children, n.Children)
		c.Children = append(children, &Node{ID: id, Role: role, Children: []*Node{}})
		return &c
	})
	if !ok {
		return f, ""
	}
	return out, id
}

// DeleteChild removes the child with childID from the node at parent.
//
// Sibling order is preserved. Unknown parent or child returns f unchanged.
func DeleteChild(f Forest, parent Path, childID string) Forest {
	out, _ := update(f, parent, func(n *Node) *Node {
		idx := indexOf(n.Children, childID)
		if idx < 0 {
			return n
		}
		c := *n
		c.Children = removeAt(n.Children, idx)
		return &c
	})
	return out
}

// DeleteRoot removes the root thread with rootID.
//
// The last remaining root is never removed; f is returned unchanged.
func DeleteRoot(f Forest, rootID string) Forest {
	if len(f) <= 1 {
		return f
	}
	idx := indexOf(f, rootID)
	if idx < 0 {
		return f
	}
	return removeAt(f, idx)
}

// Delete removes the node at path, whether it is a root or a nested child.
func Delete(f Forest, path Path) Forest {
	switch len(path) {
	case 0:
		return f
	case 1:
		return DeleteRoot(f, path[0])
	default:
		return DeleteChild(f, path.Parent(), path.Leaf())
	}
}

// AddRoot appends a new empty user thread to the forest.
func AddRoot(f Forest) (Forest, string) {
	id := freshID(f)
	out := make(Forest, len(f), len(f)+1)
	copy(out, f)
	return append(out, &Node{ID: id, Role: RoleUser, Children: []*Node{}}), id
}

// EnsureIDs gives every node without an id, or with an id already seen
// earlier in depth-first order, a fresh id.
//
// Nodes whose ids are already valid and unique keep their identity when none
// of their descendants change.
func EnsureIDs(f Forest) Forest {
	seen := make(map[string]struct{})
	var fix func(nodes []*Node) ([]*Node, bool)
	fix = func(nodes []*Node) ([]*Node, bool) {
		var out []*Node
		for i, n := range nodes {
			if n == nil {
				continue
			}
			replacement := n
			_, dup := seen[n.ID]
			if n.ID == "" || dup {
				c := *n
				c.ID = newID()
				for {
					if _, taken := seen[c.ID]; !taken && !contains(f, c.ID) {
						break
					}
					c.ID = newID()
				}
				replacement = &c
			}
			seen[replacement.ID] = struct{}{}

			if children, changed := fix(n.Children); changed {
				if replacement == n {
					c := *n
					replacement = &c
				}
				replacement.Children = children
			}

			if replacement != n && out == nil {
				out = make([]*Node, len(nodes))
				copy(out, nodes)
			}
			if out != nil {
				out[i] = replacement
			}
		}
		if out == nil {
			return nodes, false
		}
		return out, true
	}

	out, _ := fix(f)
	return out
}

// =============================================================================
// Queries
// =============================================================================

// Get returns the node at path.
func Get(f Forest, path Path) (*Node, bool) {
	if len(path) == 0 {
		return nil, false
	}
	nodes := []*Node(f)
	var cur *Node
	for _, id := range path {
		idx := indexOf(nodes, id)
		if idx < 0 {
			return nil, false
		}
		cur = nodes[idx]
		nodes = cur.Children
	}
	return cur, true
}

// Find returns the path to the node with the given id.
func Find(f Forest, id string) (Path, bool) {
	if id == "" {
		return nil, false
	}
	var found Path
	Walk(f, func(path Path, n *Node) bool {
		if n.ID == id {
			found = path
			return false
		}
		return true
	})
	return found, found != nil
}

// Walk visits every node depth-first in display order.
//
// fn receives the node's path (len(path)-1 is its depth). Returning false
// stops the walk. The path slice must not be retained across calls unless
// copied.
func Walk(f Forest, fn func(path Path, n *Node) bool) {
	var walk func(nodes []*Node, prefix Path) bool
	walk = func(nodes []*Node, prefix Path) bool {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			path := prefix.Child(n.ID)
			if !fn(path, n) {
				return false
			}
			if !walk(n.Children, path) {
				return false
			}
		}
		return true
	}
	walk(f, nil)
}

// Count returns the total number of nodes in the forest.
func Count(f Forest) int {
	total := 0
	Walk(f, func(Path, *Node) bool {
		total++
		return true
	})
	return total
}

// SubtreeIDs returns the ids of n and all of its descendants.
func SubtreeIDs(n *Node) []string {
	if n == nil {
		return nil
	}
	ids := []string{n.ID}
	for _, c := range n.Children {
		ids = append(ids, SubtreeIDs(c)...)
	}
	return ids
}

// =============================================================================
// Helpers
// =============================================================================

func indexOf(nodes []*Node, id string) int {
	for i, n := range nodes {
		if n != nil && n.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(nodes []*Node, idx int) []*Node {
	out := make([]*Node, 0, len(nodes)-1)
	out = append(out, nodes[:idx]...)
	return append(out, nodes[idx+1:]...)
}

func contains(f Forest, id string) bool {
	_, ok := Find(f, id)
	return ok
}

// freshID returns an id not present in f.
func freshID(f Forest) string {
	for {
		id := newID()
		if !contains(f, id) {
			return id
		}
	}
}
