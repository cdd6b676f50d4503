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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

// sampleForest builds:
//
//	r1 (user)
//	├── a (assistant)
//	│   └── a1 (user)
//	└── b (assistant)
//	r2 (user)
func sampleForest() Forest {
	a1 := &Node{ID: "a1", Role: RoleUser, Content: "follow up", Children: []*Node{}}
	a := &Node{ID: "a", Role: RoleAssistant, Content: "answer a", Children: []*Node{a1}}
	b := &Node{ID: "b", Role: RoleAssistant, Content: "answer b", Children: []*Node{}}
	r1 := &Node{ID: "r1", Role: RoleUser, Content: "question", Children: []*Node{a, b}}
	r2 := &Node{ID: "r2", Role: RoleUser, Content: "other thread", Children: []*Node{}}
	return Forest{r1, r2}
}

// =============================================================================
// SetContent Tests
// =============================================================================

func TestSetContent_SharesUnrelatedSubtrees(t *testing.T) {
	before := sampleForest()
	after := SetContent(before, Path{"r1", "a", "a1"}, "edited")

	// Target changed
	got, ok := Get(after, Path{"r1", "a", "a1"})
	require.True(t, ok)
	assert.Equal(t, "edited", got.Content)

	// Spine is new
	assert.NotSame(t, before[0], after[0], "root on the spine should be copied")
	assert.NotSame(t, before[0].Children[0], after[0].Children[0], "parent on the spine should be copied")

	// Everything else is shared
	assert.Same(t, before[1], after[1], "other root should keep identity")
	assert.Same(t, before[0].Children[1], after[0].Children[1], "sibling of parent should keep identity")

	// Ancestors keep their content
	assert.Equal(t, "question", after[0].Content)
	assert.Equal(t, "answer a", after[0].Children[0].Content)

	// Old forest untouched
	old, _ := Get(before, Path{"r1", "a", "a1"})
	assert.Equal(t, "follow up", old.Content)
}

func TestSetContent_UnknownPathIsNoOp(t *testing.T) {
	before := sampleForest()

	tests := []struct {
		name string
		path Path
	}{
		{"empty path", Path{}},
		{"unknown root", Path{"nope"}},
		{"unknown child", Path{"r1", "nope"}},
		{"wrong parent", Path{"r2", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after := SetContent(before, tt.path, "x")
			require.Len(t, after, len(before))
			for i := range before {
				assert.Same(t, before[i], after[i])
			}
		})
	}
}

func TestSetContent_SameTextKeepsIdentity(t *testing.T) {
	before := sampleForest()
	after := SetContent(before, Path{"r2"}, "other thread")
	assert.Same(t, before[1], after[1])
}

// =============================================================================
// AddChild Tests
// =============================================================================

func TestAddChild_AppendsOneNodeWithFreshID(t *testing.T) {
	before := sampleForest()
	parentBefore, _ := Get(before, Path{"r1"})

	after, id := AddChild(before, Path{"r1"}, RoleUser)
	require.NotEmpty(t, id)

	parentAfter, ok := Get(after, Path{"r1"})
	require.True(t, ok)
	assert.Len(t, parentAfter.Children, len(parentBefore.Children)+1)

	added := parentAfter.Children[len(parentAfter.Children)-1]
	assert.Equal(t, id, added.ID)
	assert.Equal(t, RoleUser, added.Role)
	assert.Empty(t, added.Content)
	assert.NotNil(t, added.Children)

	_, existed := Find(before, id)
	assert.False(t, existed, "new id must not be used in the old forest")

	// Existing children keep identity and order
	assert.Same(t, parentBefore.Children[0], parentAfter.Children[0])
	assert.Same(t, parentBefore.Children[1], parentAfter.Children[1])
	assert.Len(t, parentBefore.Children, 2, "old parent must not be mutated")
}

func TestAddChild_UniqueAcrossCalls(t *testing.T) {
	f := sampleForest()
	ids := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		var id string
		f, id = AddChild(f, Path{"r2"}, RoleAssistant)
		_, dup := ids[id]
		require.False(t, dup, "id %s reused", id)
		ids[id] = struct{}{}
	}
	assert.Equal(t, 5+50, Count(f))
}

func TestAddChild_UnknownPath(t *testing.T) {
	before := sampleForest()
	after, id := AddChild(before, Path{"missing"}, RoleUser)
	assert.Empty(t, id)
	assert.Equal(t, Count(before), Count(after))
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestDeleteChild_RemovesOnlyTarget(t *testing.T) {
	f := sampleForest()
	f, c := AddChild(f, Path{"r1"}, RoleUser)
	before := f

	after := DeleteChild(before, Path{"r1"}, "b")

	parent, _ := Get(after, Path{"r1"})
	require.Len(t, parent.Children, 2)
	assert.Equal(t, "a", parent.Children[0].ID)
	assert.Equal(t, c, parent.Children[1].ID)
	assert.Same(t, before[0].Children[0], parent.Children[0])

	oldParent, _ := Get(before, Path{"r1"})
	assert.Len(t, oldParent.Children, 3, "old forest keeps the child")
}

func TestDeleteChild_UnknownChildIsNoOp(t *testing.T) {
	before := sampleForest()
	after := DeleteChild(before, Path{"r1"}, "zzz")
	assert.Same(t, before[0], after[0])
}

func TestDeleteRoot(t *testing.T) {
	t.Run("removes one of several roots", func(t *testing.T) {
		before := sampleForest()
		after := DeleteRoot(before, "r1")
		require.Len(t, after, 1)
		assert.Same(t, before[1], after[0])
	})

	t.Run("refuses to remove the last root", func(t *testing.T) {
		before := Forest{NewNode(RoleUser)}
		after := DeleteRoot(before, before[0].ID)
		require.Len(t, after, 1)
		assert.Same(t, before[0], after[0])
	})
}

func TestDelete_DispatchesOnDepth(t *testing.T) {
	f := sampleForest()

	f = Delete(f, Path{"r1", "a", "a1"})
	_, ok := Find(f, "a1")
	assert.False(t, ok)

	f = Delete(f, Path{"r2"})
	assert.Len(t, f, 1)

	assert.Len(t, Delete(f, nil), 1)
}

// =============================================================================
// AppendDelta Tests
// =============================================================================

func TestAppendDelta(t *testing.T) {
	f := sampleForest()
	f, id := AddChild(f, Path{"r2"}, RoleAssistant)
	path := Path{"r2", id}

	for _, delta := range []string{"Hi", " there", ""} {
		f = AppendDelta(f, path, delta)
	}

	n, ok := Get(f, path)
	require.True(t, ok)
	assert.Equal(t, "Hi there", n.Content)
}

func TestAppendDelta_EmptyKeepsIdentity(t *testing.T) {
	before := sampleForest()
	after := AppendDelta(before, Path{"r1"}, "")
	assert.Same(t, before[0], after[0])
}

// =============================================================================
// Query Tests
// =============================================================================

func TestFind(t *testing.T) {
	f := sampleForest()

	path, ok := Find(f, "a1")
	require.True(t, ok)
	assert.Equal(t, Path{"r1", "a", "a1"}, path)

	_, ok = Find(f, "")
	assert.False(t, ok)

	_, ok = Find(f, "missing")
	assert.False(t, ok)
}

func TestWalk_DisplayOrderAndStop(t *testing.T) {
	var order []string
	Walk(sampleForest(), func(path Path, n *Node) bool {
		order = append(order, n.ID)
		return true
	})
	assert.Equal(t, []string{"r1", "a", "a1", "b", "r2"}, order)

	var visited int
	Walk(sampleForest(), func(path Path, n *Node) bool {
		visited++
		return n.ID != "a"
	})
	assert.Equal(t, 2, visited)
}

func TestSubtreeIDs(t *testing.T) {
	f := sampleForest()
	assert.ElementsMatch(t, []string{"r1", "a", "a1", "b"}, SubtreeIDs(f[0]))
	assert.Nil(t, SubtreeIDs(nil))
}

func TestAddRoot(t *testing.T) {
	before := sampleForest()
	after, id := AddRoot(before)
	require.Len(t, after, 3)
	assert.Equal(t, id, after[2].ID)
	assert.Equal(t, RoleUser, after[2].Role)
	assert.Len(t, before, 2)
}

// =============================================================================
// EnsureIDs Tests
// =============================================================================

func TestEnsureIDs_FillsMissingAndDuplicates(t *testing.T) {
	f := Forest{
		{Role: RoleUser, Content: "no id", Children: []*Node{
			{ID: "dup", Role: RoleAssistant, Children: []*Node{}},
			{ID: "dup", Role: RoleAssistant, Children: []*Node{}},
		}},
		{ID: "keep", Role: RoleUser, Children: []*Node{}},
	}

	out := EnsureIDs(f)

	seen := map[string]bool{}
	Walk(out, func(path Path, n *Node) bool {
		require.NotEmpty(t, n.ID)
		require.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
		return true
	})
	assert.Equal(t, "dup", out[0].Children[0].ID, "first occurrence keeps its id")
	assert.Same(t, f[1], out[1], "valid subtree keeps identity")
	assert.Empty(t, f[0].ID, "input is not mutated")
}

func TestEnsureIDs_NoChangeReturnsSameNodes(t *testing.T) {
	before := sampleForest()
	after := EnsureIDs(before)
	for i := range before {
		assert.Same(t, before[i], after[i])
	}
}

// =============================================================================
// Path Tests
// =============================================================================

func TestPath_Helpers(t *testing.T) {
	p := Path{"r", "c"}
	assert.Equal(t, "c", p.Leaf())
	assert.Equal(t, Path{"r"}, p.Parent())
	assert.Equal(t, "", Path{}.Leaf())
	assert.Nil(t, Path{}.Parent())

	child := p.Child("g")
	assert.Equal(t, Path{"r", "c", "g"}, child)
	assert.Equal(t, Path{"r", "c"}, p, "Child must not modify the receiver")
}
