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

	"github.com/jdan/deepdive/cmd/deepdive/config"
	"github.com/jdan/deepdive/pkg/logging"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	logLevel     string
	port         int
	model        string
	relayURL     string
	ginDebug     bool
	importPath   string
	glamourStyle string

	rootCmd = &cobra.Command{
		Use:   "deepdive",
		Short: "A branching chat workspace with a streaming OpenAI relay",
		Long: `deepdive keeps a conversation as a tree: every message can have several
replies, and any branch can be edited, regenerated or deleted.

Run "deepdive serve" to start the relay, then "deepdive chat" to open the
workspace in your terminal.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming relay in front of the OpenAI API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Open the branching chat workspace",
		Args:  cobra.NoArgs,
		RunE:  runChat, // Defined in cmd_chat.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the deepdive version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $DEEPDIVE_CONFIG or ~/.deepdive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model name sent upstream")

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().BoolVar(&ginDebug, "debug", false, "Run gin in debug mode with request logging")

	chatCmd.Flags().StringVar(&relayURL, "relay-url", "", "Relay base URL")
	chatCmd.Flags().StringVar(&importPath, "import", "", "Seed the workspace from a forest JSON file")
	chatCmd.Flags().StringVar(&glamourStyle, "style", "dark", "Markdown style: dark, light, dracula, notty")

	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)
}

// loadConfig loads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.DeepdiveConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.DeepdiveConfig) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("model") {
		cfg.Model = model
	}
	if flags.Changed("relay-url") {
		cfg.RelayURL = relayURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
}

// newLogger builds the process logger from the log section of cfg.
func newLogger(cfg *config.DeepdiveConfig, service string, quiet bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatAuto
	if cfg.Log.JSON {
		format = logging.FormatJSON
	}
	logDir := cfg.Log.Dir
	if quiet && logDir == "" {
		logDir = "~/.deepdive/logs"
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: service,
		Format:  format,
		Quiet:   quiet,
	})
	logger.Slog().Debug("Logger ready", "service", service, "file", logger.Path())
	return logger, nil
}
