// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads deepdive's configuration from ~/.deepdive/config.yaml,
// a .env file and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// DeepdiveConfig is the root configuration.
//
// Precedence, lowest first: defaults, YAML file, .env file, environment,
// command-line flags (applied by the CLI).
type DeepdiveConfig struct {
	// Port the relay listens on.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// Model is the default upstream model.
	Model string `yaml:"model" validate:"required,max=128"`

	// RelayURL is where `deepdive chat` sends its requests.
	RelayURL string `yaml:"relay_url" validate:"required,url"`

	// UpstreamBaseURL overrides the OpenAI API base URL.
	UpstreamBaseURL string `yaml:"upstream_base_url" validate:"omitempty,url"`

	// KeepAliveInterval between SSE keepalive comments. Negative disables.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// MaxConcurrentStreams caps open relay streams. 0 means unlimited.
	MaxConcurrentStreams int `yaml:"max_concurrent_streams" validate:"gte=0"`

	// RequestsPerSecond caps new relay streams per second. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// APIKeyFile is read when OPENAI_API_KEY is not set.
	APIKeyFile string `yaml:"api_key_file"`

	Log LogConfig `yaml:"log"`

	Telemetry TelemetryConfig `yaml:"telemetry"`

	// APIKey is never read from or written to YAML.
	APIKey *Secret `yaml:"-"`

	// Path is the file the config was loaded from, if any.
	Path string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	// TracesExporter is none, stdout or otlp.
	TracesExporter string `yaml:"traces_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() DeepdiveConfig {
	return DeepdiveConfig{
		Port:              8080,
		Model:             "gpt-3.5-turbo",
		RelayURL:          "http://localhost:8080",
		KeepAliveInterval: 15 * time.Second,
		APIKeyFile:        "/run/secrets/openai_api_key",
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TracesExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

var configValidate = validator.New()

// Validate checks field constraints.
func (c *DeepdiveConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
