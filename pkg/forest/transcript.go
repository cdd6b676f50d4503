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

// Transcript flattens the chain of nodes from the root to the node at path.
//
// # Description
//
// Returns one Message per node in root-to-leaf order. Children are dropped.
// When includeTarget is false the node at path itself is left out, which is
// what regenerating an assistant reply needs: the conversation up to, but
// not including, the reply being replaced.
//
// # Outputs
//
//   - []Message: Flattened transcript. Empty (not nil) for a root when
//     includeTarget is false.
//   - bool: False when path does not resolve.
func Transcript(f Forest, path Path, includeTarget bool) ([]Message, bool) {
	if len(path) == 0 {
		return nil, false
	}
	messages := make([]Message, 0, len(path))
	nodes := []*Node(f)
	for i, id := range path {
		idx := indexOf(nodes, id)
		if idx < 0 {
			return nil, false
		}
		n := nodes[idx]
		if i < len(path)-1 || includeTarget {
			messages = append(messages, Message{Role: n.Role, Content: n.Content})
		}
		nodes = n.Children
	}
	return messages, true
}
