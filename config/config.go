// Package config implements a minimal, non-cloud descendant of
// grailbio/reflow's infra package: a single struct-based Config loaded
// from YAML with gopkg.in/yaml.v2, the same library infra/config.go and
// cmd/reflow use to load $HOME/.reflow/config.yaml. SCoOL has no
// provider registry to wire up -- just the handful of values an
// executor needs injected at construction time instead of carried as
// package globals (spec.md §9's re-architecture note on global
// statics): the distributed executor's peer list, its specialization,
// and its tuning constants.
package config

import (
	"os"

	"github.com/kp1181/scool/errors"

	yaml "gopkg.in/yaml.v2"
)

// Config holds an executor's construction-time parameters.
type Config struct {
	// Peers lists every peer's dial address, index i for rank i. Rank 0's
	// own address is Peers[0]; it still listens on it for the others to
	// dial. Required for distexec, unused by seqexec/shmexec.
	Peers []string `yaml:"peers"`

	// Rank is this process's own rank into Peers.
	Rank int `yaml:"rank"`

	// Unique selects the tree-shaped specialization (distexec.Unique,
	// shmexec.TreeExecutor) when true, or the graph-shaped specialization
	// (distexec.NonUnique, shmexec.DAGExecutor) when false.
	Unique bool `yaml:"unique"`

	// P is the number of worker goroutines (shmexec) or views (the
	// sharded task table).
	P uint `yaml:"p"`

	// B is the number of buckets per task-table view.
	B uint `yaml:"b"`

	// LocalFraction is the unique specialization's LOCAL_FRACTION
	// (spec.md §4.7.1). Zero means "use the package default of 0.20".
	LocalFraction float64 `yaml:"local_fraction"`

	// MinStealBatch is the unique specialization's MIN_STEAL_BATCH
	// (spec.md §4.7.1). Zero means "use the package default of 10".
	MinStealBatch int `yaml:"min_steal_batch"`

	// LogLevel names a scool/log.Level ("quiet", "error", "warn", "info",
	// "debug"), overridden by the SCOOL_LOG_LEVEL environment variable if
	// set (see scool/log.LevelFromEnviron).
	LogLevel string `yaml:"log_level"`
}

// Load reads and parses a Config from the YAML file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E("config.Load", errors.Fatal, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.E("config.Load", errors.Fatal, errors.Errorf("parsing %s: %v", path, err))
	}
	if err := c.Validate(); err != nil {
		return nil, errors.E("config.Load", err)
	}
	return &c, nil
}

// Validate checks Config for the invariants the executors rely on:
// Rank must index Peers when Peers is non-empty, LocalFraction must lie
// in [0, 1), and MinStealBatch must not be negative. P and B are not
// checked.
func (c *Config) Validate() error {
	if len(c.Peers) > 0 && (c.Rank < 0 || c.Rank >= len(c.Peers)) {
		return errors.E("config.Validate", errors.Invalid,
			errors.Errorf("rank %d out of range for %d peers", c.Rank, len(c.Peers)))
	}
	if c.LocalFraction < 0 || c.LocalFraction >= 1 {
		return errors.E("config.Validate", errors.Invalid,
			errors.Errorf("local_fraction %f out of range [0, 1)", c.LocalFraction))
	}
	if c.MinStealBatch < 0 {
		return errors.E("config.Validate", errors.Invalid,
			errors.Errorf("min_steal_batch %d must be >= 0", c.MinStealBatch))
	}
	return nil
}

// LocalFractionOrDefault returns LocalFraction, or 0.20 if it is unset.
func (c *Config) LocalFractionOrDefault() float64 {
	if c.LocalFraction == 0 {
		return 0.20
	}
	return c.LocalFraction
}

// MinStealBatchOrDefault returns MinStealBatch, or 10 if it is unset.
func (c *Config) MinStealBatchOrDefault() int {
	if c.MinStealBatch == 0 {
		return 10
	}
	return c.MinStealBatch
}
