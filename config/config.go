// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration from YAML with defaults
// applied before validation. A missing file is not an error; the defaults
// describe a working single-project setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "200ms" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level service configuration.
type Config struct {
	// Project is the root directory of the watched project.
	Project string `yaml:"project"`

	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Watch   WatchConfig   `yaml:"watch"`
	Engine  EngineConfig  `yaml:"engine"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Dir enables file logging when set.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// Quiet disables stderr output.
	Quiet bool `yaml:"quiet"`
}

// StorageConfig controls the BadgerDB repository.
type StorageConfig struct {
	// Path is the database directory.
	Path string `yaml:"path"`

	// InMemory runs storage without touching disk. For tests and dry
	// runs only; state is lost on exit.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites makes every write durable before returning.
	SyncWrites bool `yaml:"sync_writes"`
}

// WatchConfig controls the filesystem watcher.
type WatchConfig struct {
	// Enabled turns the watcher on.
	Enabled bool `yaml:"enabled"`

	// Debounce is the batching window for change events.
	Debounce Duration `yaml:"debounce"`

	// Ignore lists base-name globs and directory names to skip.
	Ignore []string `yaml:"ignore"`
}

// EngineConfig controls analysis behavior.
type EngineConfig struct {
	// ArtifactPath is where the presented recommendation is written.
	ArtifactPath string `yaml:"artifact_path"`

	// ArchiveDir receives terminal recommendation artifacts.
	ArchiveDir string `yaml:"archive_dir"`

	// MaxImpactDepth bounds impact traversal.
	MaxImpactDepth int `yaml:"max_impact_depth"`

	// LoadThreshold defers analysis while system load exceeds it.
	// Zero disables load throttling.
	LoadThreshold float64 `yaml:"load_threshold"`
}

// MetricsConfig controls the opt-in debug metrics endpoint.
type MetricsConfig struct {
	// Enabled exposes Prometheus metrics over HTTP.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address, e.g. "localhost:9465".
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Project: ".",
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Path: ".docsentry/db"},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(200 * time.Millisecond),
			Ignore:   []string{".git", "node_modules", ".idea", "*.swp", "*.tmp", "__pycache__"},
		},
		Engine: EngineConfig{
			ArtifactPath:   ".docsentry/RECOMMENDATION.md",
			ArchiveDir:     ".docsentry/archive",
			MaxImpactDepth: 3,
		},
		Metrics: MetricsConfig{Addr: "localhost:9465"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Project == "" {
		return errors.New("project root must not be empty")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return errors.New("storage path is required unless in_memory is set")
	}
	if c.Engine.MaxImpactDepth < 0 {
		return fmt.Errorf("max_impact_depth must be >= 0, got %d", c.Engine.MaxImpactDepth)
	}
	if c.Engine.LoadThreshold < 0 || c.Engine.LoadThreshold > 1 {
		return fmt.Errorf("load_threshold must be in [0, 1], got %g", c.Engine.LoadThreshold)
	}
	if c.Watch.Debounce < 0 {
		return errors.New("watch debounce must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics addr is required when metrics are enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
