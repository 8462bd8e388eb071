// config.go: Layered configuration for the AVC access vector cache
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunables named in spec.md §6. Zero values are not
// meaningful defaults here — always obtain a Config via LoadConfig or
// DefaultConfig rather than a bare Config{}.
type Config struct {
	// Threshold is the soft upper bound on active_count (§6,
	// cache_threshold; default 512).
	Threshold int `mapstructure:"threshold" json:"threshold"`

	// ReclaimBatch is loaded, defaulted (16) and checked by ValidateConfig,
	// but the eviction pass does not read it: it always unlinks up to the
	// compile-time ReclaimBatch constant (§4.4).
	ReclaimBatch int `mapstructure:"reclaim_batch" json:"reclaim_batch"`

	// Slots overrides the bucket table size (§4.2; default 512, must be
	// a power of two — rounded up otherwise). Tests force collisions by
	// setting this small.
	Slots int `mapstructure:"slots" json:"slots"`

	// StatsEnabled turns on the Prometheus collector described in
	// SPEC_FULL.md §6's Statistics export addition.
	StatsEnabled bool `mapstructure:"stats_enabled" json:"stats_enabled"`

	// ReaperInterval is the Reclaimer's background sweep period.
	ReaperInterval time.Duration `mapstructure:"reaper_interval" json:"reaper_interval"`
}

// Global configuration state, mirroring the teacher's
// SetGlobalConfig/GetGlobalConfig pair in config.go — the programmatic
// override a power user sets in an init() function takes priority over
// everything else.
var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// SetGlobalConfig installs a process-wide Config that LoadConfig will
// prefer over environment variables, a config file, or defaults. Intended
// to be called from an init() function, before any Avc is constructed.
func SetGlobalConfig(cfg Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = &cfg
}

// GetGlobalConfig returns the currently installed global Config, or nil
// if SetGlobalConfig was never called.
func GetGlobalConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// DefaultConfig returns the built-in defaults: Threshold 512,
// ReclaimBatch 16, Slots 512, stats disabled.
func DefaultConfig() Config {
	return Config{
		Threshold:      512,
		ReclaimBatch:   ReclaimBatch,
		Slots:          DefaultSlots,
		StatsEnabled:   false,
		ReaperInterval: 20 * time.Millisecond,
	}
}

// LoadConfig resolves a Config with priority: programmatic
// (SetGlobalConfig) > environment variables (AVC_*) > an avc.json/
// avc.yaml file found in the working directory or its parents >
// built-in defaults. This generalizes the teacher's "Go config > JSON
// config > defaults" ladder in config.go by inserting an environment
// layer via viper, the same tool the broader pack's Sentinel-Gate
// config loader uses for env-var binding.
func LoadConfig() (Config, error) {
	if cfg := GetGlobalConfig(); cfg != nil {
		return *cfg, nil
	}

	v := viper.New()
	v.SetEnvPrefix("AVC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("threshold", def.Threshold)
	v.SetDefault("reclaim_batch", def.ReclaimBatch)
	v.SetDefault("slots", def.Slots)
	v.SetDefault("stats_enabled", def.StatsEnabled)
	v.SetDefault("reaper_interval", def.ReaperInterval)

	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("avc: reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("avc: unmarshaling config: %w", err)
	}

	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = def.ReclaimBatch
	}
	if cfg.Slots <= 0 {
		cfg.Slots = def.Slots
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = def.ReaperInterval
	}

	return cfg, nil
}

// findConfigFile searches the working directory and up to five parent
// directories for avc.json or avc.yaml, the same bounded upward search
// as the teacher's findConfigFile in config.go.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for i := 0; i <= 5; i++ {
		for _, name := range []string{"avc.json", "avc.yaml", "avc.yml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ConfigSource reports which layer LoadConfig would resolve a value
// from right now, for diagnostics (mirrors the teacher's
// GetConfigSource).
func ConfigSource() string {
	if GetGlobalConfig() != nil {
		return "programmatic (SetGlobalConfig)"
	}
	if findConfigFile() != "" {
		return "config file"
	}
	return "environment/defaults"
}
