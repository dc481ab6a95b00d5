package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoints so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Tracker params
	ProximityThreshold     *float64 `json:"proximity_threshold,omitempty"`
	MaxFramesLost          *int     `json:"max_frames_lost,omitempty"`
	MemoryTimeout          *string  `json:"memory_timeout,omitempty"`          // duration string like "3s"
	MinLifetimeToRetain    *string  `json:"min_lifetime_to_retain,omitempty"`  // duration string like "2s"
	MaxTrackedEntities     *int     `json:"max_tracked_entities,omitempty"`
	MemoryVisibilityWeight *float64 `json:"memory_visibility_weight,omitempty"`
	MaxHistoryLength       *int     `json:"max_history_length,omitempty"`

	// Alert params
	CriticalDistanceMeters *float64 `json:"critical_distance_meters,omitempty"`
	MinimumRepeatInterval  *string  `json:"minimum_repeat_interval,omitempty"` // duration string like "1.5s"
	InterruptCooldown      *string  `json:"interrupt_cooldown,omitempty"`      // duration string like "1s"
	ResumeSettleDelay      *string  `json:"resume_settle_delay,omitempty"`     // duration string like "300ms"
	DangerousLabels        []string `json:"dangerous_labels,omitempty"`
	Language               *string  `json:"language,omitempty"`

	// Evaluation scheduler params
	EvaluateInterval *string `json:"evaluate_interval,omitempty"` // duration string like "500ms"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/track/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ProximityThreshold != nil {
		if *c.ProximityThreshold <= 0 || *c.ProximityThreshold > 1 {
			return fmt.Errorf("proximity_threshold must be in (0, 1], got %f", *c.ProximityThreshold)
		}
	}

	if c.MemoryVisibilityWeight != nil {
		if *c.MemoryVisibilityWeight < 0 || *c.MemoryVisibilityWeight > 1 {
			return fmt.Errorf("memory_visibility_weight must be between 0 and 1, got %f", *c.MemoryVisibilityWeight)
		}
	}

	if c.MaxTrackedEntities != nil {
		if *c.MaxTrackedEntities <= 0 {
			return fmt.Errorf("max_tracked_entities must be positive, got %d", *c.MaxTrackedEntities)
		}
	}

	if c.CriticalDistanceMeters != nil {
		if *c.CriticalDistanceMeters <= 0 {
			return fmt.Errorf("critical_distance_meters must be positive, got %f", *c.CriticalDistanceMeters)
		}
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"memory_timeout", c.MemoryTimeout},
		{"min_lifetime_to_retain", c.MinLifetimeToRetain},
		{"minimum_repeat_interval", c.MinimumRepeatInterval},
		{"interrupt_cooldown", c.InterruptCooldown},
		{"resume_settle_delay", c.ResumeSettleDelay},
		{"evaluate_interval", c.EvaluateInterval},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", field.name, *field.value, err)
			}
		}
	}

	return nil
}

func durationOrDefault(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetProximityThreshold returns the proximity_threshold value or the default.
func (c *TuningConfig) GetProximityThreshold() float64 {
	if c.ProximityThreshold == nil {
		return 0.15
	}
	return *c.ProximityThreshold
}

// GetMaxFramesLost returns the max_frames_lost value or the default.
func (c *TuningConfig) GetMaxFramesLost() int {
	if c.MaxFramesLost == nil {
		return 10
	}
	return *c.MaxFramesLost
}

// GetMemoryTimeout parses and returns the memory_timeout as a time.Duration.
func (c *TuningConfig) GetMemoryTimeout() time.Duration {
	return durationOrDefault(c.MemoryTimeout, 3*time.Second)
}

// GetMinLifetimeToRetain parses and returns the min_lifetime_to_retain as a time.Duration.
func (c *TuningConfig) GetMinLifetimeToRetain() time.Duration {
	return durationOrDefault(c.MinLifetimeToRetain, 2*time.Second)
}

// GetMaxTrackedEntities returns the max_tracked_entities value or the default.
func (c *TuningConfig) GetMaxTrackedEntities() int {
	if c.MaxTrackedEntities == nil {
		return 20
	}
	return *c.MaxTrackedEntities
}

// GetMemoryVisibilityWeight returns the memory_visibility_weight value or the default.
func (c *TuningConfig) GetMemoryVisibilityWeight() float64 {
	if c.MemoryVisibilityWeight == nil {
		return 0.3
	}
	return *c.MemoryVisibilityWeight
}

// GetMaxHistoryLength returns the max_history_length value or the default.
func (c *TuningConfig) GetMaxHistoryLength() int {
	if c.MaxHistoryLength == nil {
		return 30
	}
	return *c.MaxHistoryLength
}

// GetCriticalDistanceMeters returns the critical_distance_meters value or the default.
func (c *TuningConfig) GetCriticalDistanceMeters() float64 {
	if c.CriticalDistanceMeters == nil {
		return 2.0
	}
	return *c.CriticalDistanceMeters
}

// GetMinimumRepeatInterval parses and returns the minimum_repeat_interval as a time.Duration.
func (c *TuningConfig) GetMinimumRepeatInterval() time.Duration {
	return durationOrDefault(c.MinimumRepeatInterval, 1500*time.Millisecond)
}

// GetInterruptCooldown parses and returns the interrupt_cooldown as a time.Duration.
func (c *TuningConfig) GetInterruptCooldown() time.Duration {
	return durationOrDefault(c.InterruptCooldown, time.Second)
}

// GetResumeSettleDelay parses and returns the resume_settle_delay as a time.Duration.
func (c *TuningConfig) GetResumeSettleDelay() time.Duration {
	return durationOrDefault(c.ResumeSettleDelay, 300*time.Millisecond)
}

// GetDangerousLabels returns the dangerous_labels value or the default set.
func (c *TuningConfig) GetDangerousLabels() []string {
	if len(c.DangerousLabels) == 0 {
		return []string{
			"person", "pedestrian",
			"cyclist", "bicycle",
			"car", "truck", "bus", "motorcycle",
			"pole", "cone", "barrier",
		}
	}
	out := make([]string, len(c.DangerousLabels))
	copy(out, c.DangerousLabels)
	return out
}

// GetLanguage returns the language value or the default.
func (c *TuningConfig) GetLanguage() string {
	if c.Language == nil || *c.Language == "" {
		return "en"
	}
	return *c.Language
}

// GetEvaluateInterval parses and returns the evaluate_interval as a time.Duration.
func (c *TuningConfig) GetEvaluateInterval() time.Duration {
	return durationOrDefault(c.EvaluateInterval, 500*time.Millisecond)
}
