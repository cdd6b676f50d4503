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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// forestValidate checks decoded nodes. Initialized in init() with custom
// validators.
var forestValidate *validator.Validate

func init() {
	forestValidate = validator.New()
	_ = forestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxContentBytes
}

// =============================================================================
// Encoding
// =============================================================================

// Encode serializes the forest as a JSON array of nodes.
//
// # Description
//
// Produces the clipboard format. Nodes without an id omit the "id" key and
// every node carries a "children" array, so an id-less forest decoded with
// Decode encodes back to the same bytes.
//
// # Examples
//
//	data, _ := forest.Encode(f)
//	// [{"role":"user","content":"Hello, world!","children":[]}]
func Encode(f Forest) ([]byte, error) {
	if f == nil {
		f = Forest{}
	}
	data, err := json.Marshal([]*Node(f))
	if err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}
	return data, nil
}

// Decode parses a JSON array of nodes and validates every node.
//
// # Description
//
// Rejects anything that is not an array of node objects: unknown roles,
// null nodes, and content above MaxContentBytes. The returned error wraps
// ErrInvalidForest. Ids are kept as given; callers that need addressable
// nodes run EnsureIDs on the result.
func Decode(data []byte) (Forest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidForest)
	}

	var nodes []*Node
	if err := json.Unmarshal(trimmed, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidForest, err)
	}

	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("%w: root %d is null", ErrInvalidForest, i)
		}
		if err := forestValidate.Struct(n); err != nil {
			return nil, fmt.Errorf("%w: root %d: %v", ErrInvalidForest, i, err)
		}
	}
	normalizeChildren(nodes)
	return Forest(nodes), nil
}

// normalizeChildren replaces missing children arrays with empty ones so
// decoded nodes look like nodes built by this package.
func normalizeChildren(nodes []*Node) {
	for _, n := range nodes {
		if n.Children == nil {
			n.Children = []*Node{}
		}
		normalizeChildren(n.Children)
	}
}
