package infra

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// PolicyFile holds operator overrides for the sweep policy and the price
// table. Zero values mean "keep the built-in default".
type PolicyFile struct {
	Sweep   SweepSection   `toml:"sweep"`
	Pricing map[string]int `toml:"pricing"`
}

// SweepSection is the [sweep] table of the policy file.
type SweepSection struct {
	BatchLimit       int            `toml:"batch_limit"`
	ItemDelayMillis  int            `toml:"item_delay_ms"`
	RetryCap         int            `toml:"retry_cap"`
	MaxChain         int            `toml:"max_chain"`
	ThresholdMinutes map[string]int `toml:"threshold_minutes"`
}

// LoadPolicyFile parses path. An empty path yields an empty policy.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	pf := &PolicyFile{}
	if path == "" {
		return pf, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := pf.validate(); err != nil {
		return nil, err
	}
	return pf, nil
}

func (p *PolicyFile) validate() error {
	if p.Sweep.BatchLimit < 0 || p.Sweep.ItemDelayMillis < 0 || p.Sweep.RetryCap < 0 || p.Sweep.MaxChain < 0 {
		return errors.New("policy file: sweep values must not be negative")
	}
	for step, minutes := range p.Sweep.ThresholdMinutes {
		if minutes <= 0 {
			return fmt.Errorf("policy file: threshold for %q must be positive", step)
		}
	}
	for key, price := range p.Pricing {
		if price < 0 {
			return fmt.Errorf("policy file: price %q must not be negative", key)
		}
	}
	return nil
}
