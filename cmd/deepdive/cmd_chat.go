// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jdan/deepdive/pkg/forest"
	"github.com/jdan/deepdive/pkg/stream"
	"github.com/jdan/deepdive/services/chatui"
	"github.com/jdan/deepdive/services/workspace"
	"github.com/spf13/cobra"
)

// runChat opens the TUI over a fresh workspace that streams through the
// relay at cfg.RelayURL. Logs go to a file since the TUI owns the terminal.
func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "chat", true)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	initial, err := readInitialForest(importPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := stream.NewClient(cfg.RelayURL)
	slog.Info("Starting chat", "relay", client.Endpoint(), "model", model)

	// An empty model lets the relay choose, so hot reloads there apply here.
	ws := workspace.New(workspace.Options{
		Streamer: client,
		Model:    model,
		Initial:  initial,
	})
	defer ws.Close()

	return chatui.Run(ctx, ws, chatui.Config{GlamourStyle: glamourStyle})
}

// readInitialForest decodes the --import file. An empty path returns nil.
func readInitialForest(path string) (forest.Forest, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := forest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return f, nil
}
