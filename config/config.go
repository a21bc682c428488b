// Package config holds the configuration of a whole NDP unit: register file
// sizes, queue depths, unit pools, cache and TLB geometry, functional unit
// timing, and the memory the unit is connected to.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/exec"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/fetch"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/latency"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/lsu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// minIntRegs is x0 plus the implicit base and offset registers of one
// column.
const minIntRegs = 3

// MemoryConfig describes the channels between the unit and memory, and the
// ideal memory used when nothing else is attached.
type MemoryConfig struct {
	// ChannelCapacity is the depth of each request and response FIFO.
	ChannelCapacity int `json:"channel_capacity"`

	// Latency and Bandwidth configure the ideal memory. Bandwidth is
	// accesses per port per cycle.
	Latency   uint64 `json:"latency"`
	Bandwidth int    `json:"bandwidth"`
}

// Config is the configuration of one NDP unit.
type Config struct {
	UnitID int `json:"unit_id"`

	// Frequency of the unit clock in MHz.
	FrequencyMHz int `json:"frequency_mhz"`

	Rename rename.Config         `json:"rename"`
	Fetch  fetch.Config          `json:"fetch"`
	Exec   exec.Config           `json:"exec"`
	LSU    lsu.Config            `json:"lsu"`
	Timing *latency.TimingConfig `json:"timing"`
	Memory MemoryConfig          `json:"memory"`
}

// Default returns the default unit configuration.
func Default() *Config {
	return &Config{
		FrequencyMHz: 1000,
		Rename:       rename.DefaultConfig(),
		Fetch:        fetch.DefaultConfig(),
		Exec:         exec.DefaultConfig(),
		LSU:          lsu.DefaultConfig(),
		Timing:       latency.DefaultTimingConfig(),
		Memory: MemoryConfig{
			ChannelCapacity: 8,
			Latency:         100,
			Bandwidth:       1,
		},
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Timing == nil {
		config.Timing = latency.DefaultTimingConfig()
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := c.JSON()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// JSON returns the indented JSON form of the Config.
func (c *Config) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}

	return data, nil
}

// Validate checks every section of the Config.
func (c *Config) Validate() error {
	if c.FrequencyMHz <= 0 {
		return fmt.Errorf("frequency_mhz must be > 0")
	}

	if c.Rename.NumInt < minIntRegs {
		return fmt.Errorf("rename: num_int must be >= %d to hold x0 and "+
			"the base and offset registers of a column, got %d",
			minIntRegs, c.Rename.NumInt)
	}

	if c.Rename.NumFloat <= 0 || c.Rename.NumVector <= 0 {
		return fmt.Errorf("rename: register files must not be empty")
	}

	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if err := c.Exec.Validate(); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if err := c.LSU.Validate(); err != nil {
		return fmt.Errorf("lsu: %w", err)
	}

	if c.Timing == nil {
		return fmt.Errorf("timing: missing")
	}

	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}

	if c.Memory.ChannelCapacity <= 0 {
		return fmt.Errorf("memory: channel_capacity must be > 0")
	}

	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Timing != nil {
		clone.Timing = c.Timing.Clone()
	}

	return &clone
}
