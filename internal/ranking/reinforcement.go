// Package ranking holds the confidence arithmetic and the application order of rules.
package ranking

import (
	"fmt"
)

// ConfidenceReinforcementConfig configures confidence reinforcement.
type ConfidenceReinforcementConfig struct {
	// BoostAmount is the confidence increase per confirming correction (+0.05 default).
	BoostAmount float64
	// Ceiling is the maximum confidence value (1.0 default).
	Ceiling float64
	// Floor is the minimum confidence value (0.0 default).
	Floor float64
}

// DefaultReinforcementConfig returns the default reinforcement configuration.
func DefaultReinforcementConfig() ConfidenceReinforcementConfig {
	return ConfidenceReinforcementConfig{
		BoostAmount: 0.05,
		Ceiling:     1.0,
		Floor:       0.0,
	}
}

// Validate checks that the bounds are ordered and inside [0,1].
func (c ConfidenceReinforcementConfig) Validate() error {
	if c.Floor < 0 || c.Ceiling > 1 || c.Floor > c.Ceiling {
		return fmt.Errorf("confidence bounds [%v,%v] must satisfy 0 <= floor <= ceiling <= 1", c.Floor, c.Ceiling)
	}
	if c.BoostAmount < 0 {
		return fmt.Errorf("boost amount %v must not be negative", c.BoostAmount)
	}
	return nil
}

// Reinforce returns current boosted by BoostAmount and clamped to [Floor, Ceiling].
func (c ConfidenceReinforcementConfig) Reinforce(current float64) float64 {
	return c.Clamp(current + c.BoostAmount)
}

// Clamp bounds a confidence to [Floor, Ceiling].
func (c ConfidenceReinforcementConfig) Clamp(conf float64) float64 {
	if conf > c.Ceiling {
		return c.Ceiling
	}
	if conf < c.Floor {
		return c.Floor
	}
	return conf
}

// SuccessRate is success_count / usage_count, or 0 for a rule never used.
func SuccessRate(usage, success int) float64 {
	if usage <= 0 {
		return 0
	}
	return float64(success) / float64(usage)
}
