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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfigPath      = "DEEPDIVE_CONFIG"
	EnvPort            = "DEEPDIVE_PORT"
	EnvModel           = "DEEPDIVE_MODEL"
	EnvRelayURL        = "DEEPDIVE_RELAY_URL"
	EnvLogLevel        = "DEEPDIVE_LOG_LEVEL"
	EnvAPIKey          = "OPENAI_API_KEY"
	EnvUpstreamBaseURL = "OPENAI_BASE_URL"
	EnvTracesExporter  = "OTEL_TRACES_EXPORTER"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Options controls where Load looks.
type Options struct {
	// Path of the YAML file. Empty means $DEEPDIVE_CONFIG, then
	// ~/.deepdive/config.yaml. An explicit path must exist.
	Path string

	// DotEnvPath is read for variables missing from the environment.
	// A missing file is ignored.
	DotEnvPath string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// DefaultPath returns ~/.deepdive/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".deepdive", "config.yaml")
	}
	return filepath.Join(home, ".deepdive", "config.yaml")
}

// Load reads the configuration with the standard search order.
func Load(path string) (*DeepdiveConfig, error) {
	return LoadWithOptions(Options{Path: path, DotEnvPath: ".env"})
}

// LoadWithOptions builds a validated configuration.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file, then overlays any
// environment variable that is set (falling back to the .env file for
// variables the process environment lacks). The API key comes from
// OPENAI_API_KEY or, failing that, the contents of APIKeyFile.
//
// # Outputs
//
//   - *DeepdiveConfig: The merged configuration. APIKey may be unset;
//     callers that need it check IsSet.
//   - error: Unreadable or malformed file, bad numeric env value, or a
//     failed validation.
func LoadWithOptions(opts Options) (*DeepdiveConfig, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.DotEnvPath != "" {
		lookup = withDotEnv(lookup, opts.DotEnvPath)
	}

	cfg := DefaultConfig()

	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		if p, ok := nonEmpty(lookup, EnvConfigPath); ok {
			path, explicit = p, true
		} else {
			path = DefaultPath()
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Debug("No config file, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	cfg.APIKey = loadAPIKey(lookup, cfg.APIKeyFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ===== Environment =====

func applyEnv(cfg *DeepdiveConfig, lookup func(string) (string, bool)) error {
	if v, ok := nonEmpty(lookup, EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Port = port
	}
	strs := []struct {
		key string
		dst *string
	}{
		{EnvModel, &cfg.Model},
		{EnvRelayURL, &cfg.RelayURL},
		{EnvLogLevel, &cfg.Log.Level},
		{EnvUpstreamBaseURL, &cfg.UpstreamBaseURL},
		{EnvTracesExporter, &cfg.Telemetry.TracesExporter},
		{EnvOTLPEndpoint, &cfg.Telemetry.OTLPEndpoint},
	}
	for _, s := range strs {
		if v, ok := nonEmpty(lookup, s.key); ok {
			*s.dst = v
		}
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return nil
}

func loadAPIKey(lookup func(string) (string, bool), file string) *Secret {
	if v, ok := nonEmpty(lookup, EnvAPIKey); ok {
		return NewSecret(v)
	}
	if file == "" {
		return nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	key := strings.TrimSpace(string(data))
	for i := range data {
		data[i] = 0
	}
	return NewSecret(key)
}

// withDotEnv returns a lookup that prefers the process environment and
// falls back to the variables in path.
func withDotEnv(lookup func(string) (string, bool), path string) func(string) (string, bool) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Ignoring unreadable .env file", "path", path, "error", err)
		}
		return lookup
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}
}

func nonEmpty(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
