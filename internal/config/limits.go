package config

import "fmt"

// CoreLimits enforces system-wide resource ceilings on otherwise
// user-controlled knobs (batch size, token budgets, query depth).
type CoreLimits struct {
	MaxBatchSize        int   `yaml:"max_batch_size"`
	MaxTokenBudget       int   `yaml:"max_token_budget"`
	MaxQueryMaxHops      int   `yaml:"max_query_max_hops"`
	MaxSizeBytesCeiling  int64 `yaml:"max_size_bytes_ceiling"`
}

// ValidateCoreLimits checks that core limits are within acceptable ranges.
func (c *Config) ValidateCoreLimits() error {
	if c.CoreLimits.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be >= 1")
	}
	if c.CoreLimits.MaxTokenBudget < 1 {
		return fmt.Errorf("max_token_budget must be >= 1")
	}
	if c.CoreLimits.MaxQueryMaxHops < 1 {
		return fmt.Errorf("max_query_max_hops must be >= 1")
	}
	if c.CoreLimits.MaxSizeBytesCeiling < 1 {
		return fmt.Errorf("max_size_bytes_ceiling must be >= 1")
	}
	return nil
}
