// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the loader's YAML configuration.
//
// Every field has a default, so an empty or absent file yields a runnable
// configuration: memory store, the two customary dataset bindings, reports in
// the working directory. Environment variables in the file are expanded
// (${REDIS_PASSWORD}).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"congestion/internal/congestion/record"
)

// Config is the root configuration document.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Datasets  []DatasetConfig `yaml:"datasets"`
	OutputDir string          `yaml:"output_dir"`
	Verify    VerifyConfig    `yaml:"verify"`
	Run       RunConfig       `yaml:"run"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects and addresses the key-value store.
type StoreConfig struct {
	Adapter      string   `yaml:"adapter"` // memory | redis
	Addrs        []string `yaml:"addrs"`
	Cluster      bool     `yaml:"cluster"`
	Password     string   `yaml:"password"`
	Nodes        int      `yaml:"nodes"` // simulated nodes of the memory adapter
	PingAttempts int      `yaml:"ping_attempts"`
}

// DatasetConfig overrides the source or report of one fixed dataset.
type DatasetConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Report string `yaml:"report"`
}

// VerifyConfig controls post-load verification.
type VerifyConfig struct {
	SamplePerNode int  `yaml:"sample_per_node"`
	Dump          bool `yaml:"dump"`
}

// RunConfig controls dataset scheduling.
type RunConfig struct {
	Parallel bool `yaml:"parallel"`
}

// TelemetryConfig controls Prometheus metrics.
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogInterval time.Duration `yaml:"log_interval"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Adapter:      "memory",
			Addrs:        []string{"127.0.0.1:6379"},
			Nodes:        2,
			PingAttempts: 5,
		},
		OutputDir: ".",
		Verify:    VerifyConfig{SamplePerNode: 5},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path, expands environment variables and applies it over the
// defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML over cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the configuration for values no component can serve.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Adapter {
	case "", "memory":
	case "redis":
		if len(c.Store.Addrs) == 0 {
			errs = append(errs, errors.New("store.addrs: required for the redis adapter"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.adapter: unknown adapter %q", c.Store.Adapter))
	}
	if c.Store.PingAttempts < 0 {
		errs = append(errs, errors.New("store.ping_attempts: must not be negative"))
	}
	seen := make(map[string]bool)
	for i, d := range c.Datasets {
		if _, err := record.VariantFor(d.Name); err != nil {
			errs = append(errs, fmt.Errorf("datasets[%d]: %w", i, err))
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("datasets[%d]: duplicate dataset %q", i, d.Name))
		}
		seen[d.Name] = true
	}
	if c.Verify.SamplePerNode < 0 {
		errs = append(errs, errors.New("verify.sample_per_node: must not be negative"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Bindings returns the dataset bindings with overrides applied, in the fixed
// order of record.DefaultBindings.
func (c *Config) Bindings() []record.Binding {
	bindings := record.DefaultBindings()
	for _, d := range c.Datasets {
		for i := range bindings {
			if bindings[i].Name != d.Name {
				continue
			}
			if d.Source != "" {
				bindings[i].Source = d.Source
			}
			if d.Report != "" {
				bindings[i].Report = d.Report
			}
		}
	}
	return bindings
}

// SetSource overrides the source of one dataset (command-line flags).
func (c *Config) SetSource(name, source string) {
	for i := range c.Datasets {
		if c.Datasets[i].Name == name {
			c.Datasets[i].Source = source
			return
		}
	}
	c.Datasets = append(c.Datasets, DatasetConfig{Name: name, Source: source})
}
