// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for grove binaries.
//
// Configuration comes from a single YAML file specified by the
// GROVE_CONFIG environment variable or the --config flag. There are no
// fallbacks or automatic discovery — deterministic, auditable
// configuration with no hidden overrides.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when the environment
// matches.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for grove.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Worker configures how mind processes are launched.
	Worker WorkerConfig `yaml:"worker"`

	// Install configures the dependency-installation step run in
	// fresh worktrees and after merges.
	Install InstallConfig `yaml:"install"`

	// Supervisor configures timeouts and crash backoff.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that can be overridden per environment.
type Overrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Worker     *WorkerConfig     `yaml:"worker,omitempty"`
	Install    *InstallConfig    `yaml:"install,omitempty"`
	Supervisor *SupervisorConfig `yaml:"supervisor,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// MindsRoot is the directory holding one working directory per
	// mind; variants live under <mind>/.variants/<name>.
	MindsRoot string `yaml:"minds_root"`

	// State is where grove keeps durable runtime state: the registry,
	// the crash-attempts file, and worker logs.
	State string `yaml:"state"`
}

// WorkerConfig configures how mind processes are launched.
type WorkerConfig struct {
	// Command is the argv run in a mind's working directory to start
	// its process. The assigned port and the mind's own identity are
	// injected through the environment.
	Command []string `yaml:"command"`

	// Env is extra environment for every worker, overlaying the
	// supervisor's own environment.
	Env map[string]string `yaml:"env,omitempty"`

	// PortBase is the lowest port assigned to minds and variants.
	PortBase int `yaml:"port_base"`
}

// InstallConfig configures the dependency-installation step.
type InstallConfig struct {
	// Command is the argv run in a target directory. Empty disables
	// installation.
	Command []string `yaml:"command,omitempty"`
}

// SupervisorConfig configures timeouts and crash recovery.
type SupervisorConfig struct {
	// StartTimeout bounds the wait for a worker's readiness line.
	StartTimeout Duration `yaml:"start_timeout"`

	// StopGrace is how long a process group gets after SIGTERM
	// before SIGKILL.
	StopGrace Duration `yaml:"stop_grace"`

	// ProbeTimeout bounds a single health probe.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// VerifyTimeout bounds merge verification (disposable instance
	// start plus smoke probe).
	VerifyTimeout Duration `yaml:"verify_timeout"`

	// Backoff configures crash-loop restart delays.
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig parameterizes the crash-recovery backoff so tests can
// compress timers.
type BackoffConfig struct {
	// Base is the delay before the first restart attempt.
	Base Duration `yaml:"base"`

	// Cap bounds the exponential growth.
	Cap Duration `yaml:"cap"`

	// MaxAttempts is the consecutive-crash count at which the
	// supervisor gives up and durably marks the mind stopped.
	MaxAttempts int `yaml:"max_attempts"`

	// Sustain is the uptime at which a run counts as a successful
	// sustained start: an exit after at least this long resets the
	// consecutive-crash counter instead of continuing the loop.
	Sustain Duration `yaml:"sustain"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration. Load starts from this
// and applies the file on top.
func Default() Config {
	return Config{
		Environment: Development,
		Paths: PathsConfig{
			MindsRoot: "/var/lib/grove/minds",
			State:     "/var/lib/grove/state",
		},
		Worker: WorkerConfig{
			PortBase: 4800,
		},
		Supervisor: SupervisorConfig{
			StartTimeout:  Duration(30 * time.Second),
			StopGrace:     Duration(5 * time.Second),
			ProbeTimeout:  Duration(2 * time.Second),
			VerifyTimeout: Duration(60 * time.Second),
			Backoff: BackoffConfig{
				Base:        Duration(3 * time.Second),
				Cap:         Duration(60 * time.Second),
				MaxAttempts: 5,
				Sustain:     Duration(30 * time.Second),
			},
		},
	}
}

// Load reads the config file at path, applies it over the defaults,
// then applies the matching environment override section.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var override *Overrides
	switch config.Environment {
	case Development:
		override = config.Development
	case Staging:
		override = config.Staging
	case Production:
		override = config.Production
	case "":
		config.Environment = Development
		override = config.Development
	default:
		return Config{}, fmt.Errorf("config %s: unknown environment %q", path, config.Environment)
	}
	config.apply(override)

	if len(config.Worker.Command) == 0 {
		return Config{}, fmt.Errorf("config %s: worker.command is required", path)
	}
	return config, nil
}

func (c *Config) apply(override *Overrides) {
	if override == nil {
		return
	}
	if override.Paths != nil {
		c.Paths = *override.Paths
	}
	if override.Worker != nil {
		c.Worker = *override.Worker
	}
	if override.Install != nil {
		c.Install = *override.Install
	}
	if override.Supervisor != nil {
		c.Supervisor = *override.Supervisor
	}
}

// RegistryPath returns the registry file location.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Paths.State, "registry.json")
}

// AttemptsPath returns the crash-attempts file location.
func (c *Config) AttemptsPath() string {
	return filepath.Join(c.Paths.State, "crash-attempts.cbor")
}

// LogDir returns the worker log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.State, "logs")
}

// MindDir returns a base mind's working directory.
func (c *Config) MindDir(name string) string {
	return filepath.Join(c.Paths.MindsRoot, name)
}

// VariantsDir returns the directory holding a mind's variant worktrees.
func (c *Config) VariantsDir(base string) string {
	return filepath.Join(c.MindDir(base), ".variants")
}
