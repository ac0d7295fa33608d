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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ".", cfg.Project)
		assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce.Std())
		assert.Equal(t, 3, cfg.Engine.MaxImpactDepth)
		assert.False(t, cfg.Metrics.Enabled)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, ".docsentry/db", cfg.Storage.Path)
	})
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsentry.yaml")
	content := `
project: /srv/project
logging:
  level: debug
  json: true
storage:
  in_memory: true
watch:
  enabled: false
  debounce: 500ms
engine:
  max_impact_depth: 5
  load_threshold: 0.7
metrics:
  enabled: true
  addr: "localhost:9900"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/project", cfg.Project)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.True(t, cfg.Storage.InMemory)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce.Std())
	assert.Equal(t, 5, cfg.Engine.MaxImpactDepth)
	assert.Equal(t, 0.7, cfg.Engine.LoadThreshold)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "localhost:9900", cfg.Metrics.Addr)

	// Fields the file omits keep their defaults.
	assert.Equal(t, ".docsentry/RECOMMENDATION.md", cfg.Engine.ArtifactPath)
	assert.NotEmpty(t, cfg.Watch.Ignore)
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project: [not a string"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watch:\n  debounce: 1500000000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Watch.Debounce.Std())

	require.NoError(t, os.WriteFile(path, []byte("watch:\n  debounce: soonish\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		cfg := Default()
		fn(&cfg)
		return cfg
	}

	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", Default(), true},
		{"empty project", mutate(func(c *Config) { c.Project = "" }), false},
		{"no storage path", mutate(func(c *Config) { c.Storage.Path = "" }), false},
		{"in-memory without path", mutate(func(c *Config) { c.Storage.Path = ""; c.Storage.InMemory = true }), true},
		{"negative depth", mutate(func(c *Config) { c.Engine.MaxImpactDepth = -1 }), false},
		{"threshold above one", mutate(func(c *Config) { c.Engine.LoadThreshold = 1.5 }), false},
		{"negative debounce", mutate(func(c *Config) { c.Watch.Debounce = Duration(-time.Second) }), false},
		{"metrics without addr", mutate(func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }), false},
		{"bad log level", mutate(func(c *Config) { c.Logging.Level = "verbose" }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
