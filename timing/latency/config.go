package latency

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
)

// FUTiming is the timing of one class of operations on a functional unit.
// Latency is the number of cycles until the result is visible. Interval is
// the number of cycles the unit stays busy before it accepts the next
// operation.
type FUTiming struct {
	Latency  uint64 `json:"latency"`
	Interval uint64 `json:"interval"`
}

// TimingConfig holds the latency and issue interval of every operation
// class. Vector timings apply to one register group.
type TimingConfig struct {
	// ALU covers scalar integer arithmetic and logic. Default: 1/1.
	ALU FUTiming `json:"alu"`

	// Multiply covers scalar integer multiply. Default: 3/1.
	Multiply FUTiming `json:"multiply"`

	// Divide covers scalar integer divide and remainder on the SFU.
	// Default: 16/16.
	Divide FUTiming `json:"divide"`

	// Branch covers conditional branches and jumps. Default: 1/1.
	Branch FUTiming `json:"branch"`

	// CSR covers vsetvli. Default: 1/1.
	CSR FUTiming `json:"csr"`

	// Float covers scalar float add, multiply, compare and moves.
	// Default: 4/1.
	Float FUTiming `json:"float"`

	// FMA covers fused multiply-add. Default: 5/1.
	FMA FUTiming `json:"fma"`

	// FloatSFU covers float divide and square root. Default: 12/6.
	FloatSFU FUTiming `json:"float_sfu"`

	// Address covers scalar address generation. Default: 1/1.
	Address FUTiming `json:"address"`

	VectorALU       FUTiming `json:"vector_alu"`
	VectorMultiply  FUTiming `json:"vector_multiply"`
	VectorFloat     FUTiming `json:"vector_float"`
	VectorSFU       FUTiming `json:"vector_sfu"`
	VectorReduction FUTiming `json:"vector_reduction"`
	VectorAddress   FUTiming `json:"vector_address"`
}

// DefaultTimingConfig returns the default timing values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALU:             FUTiming{Latency: 1, Interval: 1},
		Multiply:        FUTiming{Latency: 3, Interval: 1},
		Divide:          FUTiming{Latency: 16, Interval: 16},
		Branch:          FUTiming{Latency: 1, Interval: 1},
		CSR:             FUTiming{Latency: 1, Interval: 1},
		Float:           FUTiming{Latency: 4, Interval: 1},
		FMA:             FUTiming{Latency: 5, Interval: 1},
		FloatSFU:        FUTiming{Latency: 12, Interval: 6},
		Address:         FUTiming{Latency: 1, Interval: 1},
		VectorALU:       FUTiming{Latency: 2, Interval: 1},
		VectorMultiply:  FUTiming{Latency: 4, Interval: 1},
		VectorFloat:     FUTiming{Latency: 4, Interval: 1},
		VectorSFU:       FUTiming{Latency: 16, Interval: 4},
		VectorReduction: FUTiming{Latency: 6, Interval: 2},
		VectorAddress:   FUTiming{Latency: 1, Interval: 1},
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields missing from the
// file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

func (c *TimingConfig) entries() map[string]FUTiming {
	return map[string]FUTiming{
		"alu":              c.ALU,
		"multiply":         c.Multiply,
		"divide":           c.Divide,
		"branch":           c.Branch,
		"csr":              c.CSR,
		"float":            c.Float,
		"fma":              c.FMA,
		"float_sfu":        c.FloatSFU,
		"address":          c.Address,
		"vector_alu":       c.VectorALU,
		"vector_multiply":  c.VectorMultiply,
		"vector_float":     c.VectorFloat,
		"vector_sfu":       c.VectorSFU,
		"vector_reduction": c.VectorReduction,
		"vector_address":   c.VectorAddress,
	}
}

// Validate checks that every latency and interval is > 0. Entries are
// checked in name order.
func (c *TimingConfig) Validate() error {
	entries := c.entries()

	for _, name := range slices.Sorted(maps.Keys(entries)) {
		t := entries[name]

		if t.Latency == 0 {
			return fmt.Errorf("%s latency must be > 0", name)
		}

		if t.Interval == 0 {
			return fmt.Errorf("%s interval must be > 0", name)
		}
	}

	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
