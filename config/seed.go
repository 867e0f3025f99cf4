// config/seed.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the optional YAML file installed on first start. Rows that already
// exist are left alone.
type Seed struct {
	Regions  []RegionSeed  `yaml:"regions"`
	Chains   []ChainSeed   `yaml:"chains"`
	Seasonal map[int]int64 `yaml:"seasonal"`
}

type RegionSeed struct {
	Name      string `yaml:"name"`
	BaseBonus int64  `yaml:"base_bonus"`
	Enabled   *bool  `yaml:"enabled"`
}

type ChainSeed struct {
	Selector      uint64 `yaml:"selector"`
	Name          string `yaml:"name"`
	Enabled       bool   `yaml:"enabled"`
	ComputeBudget uint64 `yaml:"compute_budget"`
}

// LoadSeed reads path. An empty path yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return &Seed{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for m := range s.Seasonal {
		if m < 1 || m > 12 {
			return nil, fmt.Errorf("seed file: seasonal month %d out of range", m)
		}
	}
	for i, c := range s.Chains {
		if c.Selector == 0 {
			return nil, fmt.Errorf("seed file: chain %d has no selector", i)
		}
	}
	return &s, nil
}
