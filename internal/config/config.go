// Package config loads membank's runtime configuration and turns it into
// the option structs the core packages consume.
//
// Precedence, highest first: MEMBANK_* environment variables, the YAML file,
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/index"
	"github.com/HendryAvila/membank/internal/logging"
	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

// Config is the complete membank configuration.
type Config struct {
	DataDir string         `koanf:"data_dir" validate:"required"`
	Memory  MemoryConfig   `koanf:"memory"`
	Recall  RecallConfig   `koanf:"recall"`
	Log     logging.Config `koanf:"log"`
	Metrics MetricsConfig  `koanf:"metrics"`
}

// MemoryConfig mirrors memory.Options.
type MemoryConfig struct {
	BudgetMB         int64   `koanf:"budget_mb" validate:"gt=0"`
	Encryption       bool    `koanf:"encryption"`
	Passphrase       Secret  `koanf:"passphrase" validate:"required_if=Encryption true"`
	SuccessThreshold float64 `koanf:"success_threshold" validate:"gt=0,lte=1"`
	StrictMode       bool    `koanf:"strict_mode"`
	RecomputeEvery   int     `koanf:"recompute_every" validate:"gt=0"`
}

// RecallConfig mirrors recall.Options.
type RecallConfig struct {
	HalfLife      Duration `koanf:"half_life" validate:"gt=0"`
	RiskThreshold float64  `koanf:"risk_threshold" validate:"gt=0,lt=1"`
	PatternTTL    Duration `koanf:"pattern_ttl" validate:"gt=0"`
}

// MetricsConfig controls the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".membank"),
		Memory: MemoryConfig{
			BudgetMB:         memory.DefaultBudgetBytes >> 20,
			SuccessThreshold: memory.DefaultSuccessThreshold,
			RecomputeEvery:   index.DefaultRecomputeEvery,
		},
		Recall: RecallConfig{
			HalfLife:      Duration(recall.DefaultHalfLife),
			RiskThreshold: recall.DefaultRiskThreshold,
			PatternTTL:    Duration(recall.DefaultPatternTTL),
		},
		Log: logging.NewDefaultConfig(),
	}
}

// applyDefaults fills zero values left by the file and environment.
func applyDefaults(c *Config) {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Memory.BudgetMB == 0 {
		c.Memory.BudgetMB = d.Memory.BudgetMB
	}
	if c.Memory.SuccessThreshold == 0 {
		c.Memory.SuccessThreshold = d.Memory.SuccessThreshold
	}
	if c.Memory.RecomputeEvery == 0 {
		c.Memory.RecomputeEvery = d.Memory.RecomputeEvery
	}
	if c.Recall.HalfLife == 0 {
		c.Recall.HalfLife = d.Recall.HalfLife
	}
	if c.Recall.RiskThreshold == 0 {
		c.Recall.RiskThreshold = d.Recall.RiskThreshold
	}
	if c.Recall.PatternTTL == 0 {
		c.Recall.PatternTTL = d.Recall.PatternTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return c.Log.Validate()
}

// MemoryOptions returns the store options for project.
func (c *Config) MemoryOptions(project string, log *zap.Logger) memory.Options {
	var passphrase []byte
	if c.Memory.Passphrase.IsSet() {
		passphrase = []byte(c.Memory.Passphrase.Value())
	}
	return memory.Options{
		Project:          project,
		DataDir:          c.DataDir,
		BudgetBytes:      c.Memory.BudgetMB << 20,
		Encryption:       c.Memory.Encryption,
		Passphrase:       passphrase,
		SuccessThreshold: c.Memory.SuccessThreshold,
		StrictMode:       c.Memory.StrictMode,
		RecomputeEvery:   c.Memory.RecomputeEvery,
		Logger:           log,
	}
}

// RecallOptions returns the context engine options.
func (c *Config) RecallOptions(log *zap.Logger) recall.Options {
	return recall.Options{
		HalfLife:      c.Recall.HalfLife.Duration(),
		RiskThreshold: c.Recall.RiskThreshold,
		PatternTTL:    c.Recall.PatternTTL.Duration(),
		Logger:        log,
	}
}
