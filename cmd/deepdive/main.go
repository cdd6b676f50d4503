// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command deepdive runs the branching chat relay and terminal workspace.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/awnumar/memguard"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func versionString() string {
	return fmt.Sprintf("deepdive %s (%s %s/%s)", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func main() {
	code := 0
	if err := rootCmd.Execute(); err != nil {
		code = 1
	}
	// Wipe sealed secrets before exit; os.Exit skips deferred calls.
	memguard.Purge()
	os.Exit(code)
}
