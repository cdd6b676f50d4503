// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"
)

const redacted = "[REDACTED]"

// Secret holds a credential in an encrypted memguard enclave.
//
// # Description
//
// The plaintext only exists in memory between Reveal and the caller's use
// of the returned string. Secret formats and logs as [REDACTED].
//
// # Limitations
//
//   - Reveal returns a Go string, which the garbage collector may copy.
//     Call it once, right where the credential is handed to a client.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. It returns nil for an empty value.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	// NewEnclave wipes its input, so seal a copy.
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether s holds a value.
func (s *Secret) IsSet() bool {
	return s != nil && s.enclave != nil
}

// Reveal decrypts the secret.
func (s *Secret) Reveal() (string, error) {
	if !s.IsSet() {
		return "", nil
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

func (s *Secret) String() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s *Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalText keeps the secret out of any encoded form.
func (s *Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
