package dispatch

import (
	"fmt"

	"github.com/kilianp07/shiprelay/core/factory"
	"github.com/kilianp07/shiprelay/core/model"
)

// Config defines dispatch-related settings.
type Config struct {
	// Default is the strategy used when the caller does not pick one.
	Default string `json:"default"`
	// Strategies configures the strategies by factory type. Missing kinds are
	// built with their defaults.
	Strategies []factory.ModuleConfig `json:"strategies"`
	// WaitForOutcome makes the HTTP layer block until the dispatch resolves.
	WaitForOutcome bool `json:"wait_for_outcome"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Default == "" {
		c.Default = model.StrategySequential.String()
	}
}

// Validate checks the strategy names.
func (c Config) Validate() error {
	if _, err := model.ParseStrategyKind(c.Default); err != nil {
		return fmt.Errorf("dispatch.default: %w", err)
	}
	for i, s := range c.Strategies {
		if _, err := model.ParseStrategyKind(s.Type); err != nil {
			return fmt.Errorf("dispatch.strategies[%d]: %w", i, err)
		}
	}
	return nil
}

// DefaultKind returns the parsed default strategy.
func (c Config) DefaultKind() model.StrategyKind {
	k, err := model.ParseStrategyKind(c.Default)
	if err != nil {
		return model.StrategySequential
	}
	return k
}
