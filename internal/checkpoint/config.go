package checkpoint

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the checkpoint subsystem's tunables (spec.md §6.4). The zero
// value is not directly usable; call Config.withDefaults (applied
// automatically by NewService) to fill in spec.md's defaults for any field
// left at its zero value — mirroring the teacher's zero-value-means-default
// pattern (internal/storage/pager's page-size defaulting, before this
// package replaced that file).
type Config struct {
	// TimeBetweenCheckpoints is the number of sleep units between
	// background checkpoints (default 30).
	TimeBetweenCheckpoints int `yaml:"time_between_checkpoints"`

	// SleepUnit is the length of one tick (default 1s).
	SleepUnit time.Duration `yaml:"sleep_unit"`

	// StateCopies is the batch size of state snapshots taken per log-lock
	// acquisition during table collection (default 1024).
	StateCopies int `yaml:"state_copies"`
}

const (
	defaultTimeBetweenCheckpoints = 30
	defaultSleepUnit              = time.Second
	defaultStateCopies            = 1024
)

// DefaultConfig returns spec.md §6.4's defaults.
func DefaultConfig() Config {
	return Config{
		TimeBetweenCheckpoints: defaultTimeBetweenCheckpoints,
		SleepUnit:              defaultSleepUnit,
		StateCopies:            defaultStateCopies,
	}
}

func (c Config) withDefaults() Config {
	if c.TimeBetweenCheckpoints <= 0 {
		c.TimeBetweenCheckpoints = defaultTimeBetweenCheckpoints
	}
	if c.SleepUnit <= 0 {
		c.SleepUnit = defaultSleepUnit
	}
	if c.StateCopies <= 0 {
		c.StateCopies = defaultStateCopies
	}
	return c
}

// LoadConfig reads a YAML config file, generalising the teacher's only use
// of gopkg.in/yaml.v3 (internal/testhelper/examples_test.go's fixture
// decoding) from test fixtures to runtime configuration. A missing or
// zero-valued field falls back to spec.md's default.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("checkpoint: parse config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}
