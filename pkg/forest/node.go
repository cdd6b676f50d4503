// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forest provides the branching conversation data model.
//
// # Description
//
// A conversation is a Forest: an ordered list of root Nodes, each an
// independent thread. Every Node holds one message (role + content) and its
// ordered child replies.
//
// Nodes are immutable once they are part of a published Forest. All update
// functions in this package are copy-on-write: they return a new Forest in
// which only the ancestors of the target node are new values. Every other
// subtree keeps its pointer, so callers can compare identities to detect
// what changed.
//
// # Addressing
//
// Nodes are addressed by a Path, the chain of node ids from a root to the
// target. Ids are uuid v4 strings assigned at creation. Positions are never
// used to address a node.
//
// # Thread Safety
//
// A Forest value may be read from any number of goroutines. Writers must
// serialize updates themselves (see services/workspace).
package forest

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxContentBytes is the maximum size of a single node's content.
	MaxContentBytes = 32 * 1024
)

// Role is the author of a node's message.
type Role string

const (
	// RoleUser is a message typed by the user.
	RoleUser Role = "user"

	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"

	// RoleSystem is accepted on import for older transcripts.
	RoleSystem Role = "system"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// ErrInvalidForest is returned when serialized forest data cannot be used.
var ErrInvalidForest = errors.New("invalid forest")

// =============================================================================
// Types
// =============================================================================

// Node is one message in a conversation plus its ordered replies.
//
// # Fields
//
//   - ID: Stable identifier. Empty only for nodes decoded from id-less JSON.
//   - Role: Author of the message.
//   - Content: Message text.
//   - Children: Ordered replies. Encoded as [] when empty, never null.
type Node struct {
	ID       string  `json:"id,omitempty" validate:"omitempty,max=128"`
	Role     Role    `json:"role" validate:"required,oneof=user assistant system"`
	Content  string  `json:"content" validate:"maxbytes"`
	Children []*Node `json:"children" validate:"dive,required"`
}

// MarshalJSON encodes the node with children always present as an array.
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	p := plain(*n)
	if p.Children == nil {
		p.Children = []*Node{}
	}
	return json.Marshal(p)
}

// Forest is the ordered list of root conversation threads.
type Forest []*Node

// Path is the chain of node ids from a root to a target node.
type Path []string

// Leaf returns the id of the node the path points at, or "" for an empty path.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the path of the target's parent. A root's parent is empty.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Child returns a new path extended by id. The receiver is not modified.
func (p Path) Child(id string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}

// Message is one flattened transcript entry, a node without its children.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewNode returns an empty node with a fresh id.
func NewNode(role Role) *Node {
	return &Node{
		ID:       newID(),
		Role:     role,
		Children: []*Node{},
	}
}

// newID generates a node identifier.
func newID() string {
	return uuid.NewString()
}
