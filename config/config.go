// Package config loads the host configuration: instance count, audio block
// sizing, per-call queue capacities and the paths of the snapshot database
// and the Lua script.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sugawarayuuta/sonnet"

	"retrohost/constants"
)

var (
	ErrInstances   = errors.New("config: instances out of range")
	ErrSampleRate  = errors.New("config: sample rate out of range")
	ErrBlockFrames = errors.New("config: block frames must be a positive power of two")
	ErrCapacity    = errors.New("config: call capacity must be positive")
)

// Config is the on-disk JSON document.
type Config struct {
	Instances   int            `json:"instances"`
	SampleRate  int            `json:"sample_rate"`
	BlockFrames int            `json:"block_frames"`
	AudioCore   int            `json:"audio_core"` // -1 leaves the real-time loop unpinned
	SnapshotDB  string         `json:"snapshot_db"`
	Script      string         `json:"script"`
	Rom         string         `json:"rom"`
	Status      bool           `json:"status"`
	Calls       map[string]int `json:"calls"` // call name -> max in flight
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Instances:   1,
		SampleRate:  constants.SampleRate,
		BlockFrames: constants.AudioBlockFrames,
		AudioCore:   -1,
		SnapshotDB:  "retrohost.db",
		Status:      true,
		Calls:       map[string]int{},
	}
}

// Load reads path over Default. Missing keys keep their default values.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := sonnet.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Calls == nil {
		c.Calls = map[string]int{}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c as JSON to path.
func (c *Config) Save(path string) error {
	raw, err := sonnet.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// Validate checks ranges. Call names are not checked here; unknown names are
// simply never looked up.
func (c *Config) Validate() error {
	if c.Instances < 1 || c.Instances > constants.MaxSystems {
		return fmt.Errorf("%w: %d (1..%d)", ErrInstances, c.Instances, constants.MaxSystems)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("%w: %d", ErrSampleRate, c.SampleRate)
	}
	if c.BlockFrames <= 0 || c.BlockFrames&(c.BlockFrames-1) != 0 {
		return fmt.Errorf("%w: %d", ErrBlockFrames, c.BlockFrames)
	}
	for name, n := range c.Calls {
		if n <= 0 {
			return fmt.Errorf("%w: %s = %d", ErrCapacity, name, n)
		}
	}
	return nil
}

// Capacity is the configured max in flight for call name, or fallback.
func (c *Config) Capacity(name string, fallback int) int {
	if n, ok := c.Calls[name]; ok && n > 0 {
		return n
	}
	return fallback
}
