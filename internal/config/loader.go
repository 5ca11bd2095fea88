package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultPath               = "config/config.yaml"
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 2000
	DefaultFixedDeltaSeconds  = 0.05
	DefaultTimeoutSeconds     = 60.0
	DefaultTickTimeoutSeconds = 0.0
	DefaultWidth              = 1280
	DefaultHeight             = 720
	DefaultAgent              = AgentBehavior
	DefaultBehavior           = BehaviorNormal
	DefaultTargetSpeed        = 30.0
	DefaultVehicleFilter      = "vehicle.*"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		FixedDeltaSeconds:  DefaultFixedDeltaSeconds,
		TimeoutSeconds:     DefaultTimeoutSeconds,
		TickTimeoutSeconds: DefaultTickTimeoutSeconds,
		Resolution:         Resolution{Width: DefaultWidth, Height: DefaultHeight},
		Agent:              DefaultAgent,
		Behavior:           DefaultBehavior,
		TargetSpeed:        DefaultTargetSpeed,
		VehicleFilter:      DefaultVehicleFilter,
		History:            true,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// LoadConfig reads, parses and validates the yaml file at path. A missing
// file yields the defaults; fields absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig is LoadConfig without validation, for callers that overlay
// further values before validating.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return ValidationError{Field: "host", Message: "required field is empty"}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return ValidationError{Field: "port", Message: "must be between 1 and 65535"}
	}
	if cfg.Sync && cfg.FixedDeltaSeconds <= 0 {
		return ValidationError{Field: "fixed_delta_seconds", Message: "must be positive in synchronous mode"}
	}
	if cfg.FixedDeltaSeconds < 0 {
		return ValidationError{Field: "fixed_delta_seconds", Message: "must not be negative"}
	}
	if cfg.TimeoutSeconds <= 0 {
		return ValidationError{Field: "timeout_seconds", Message: "must be positive"}
	}
	if cfg.TickTimeoutSeconds < 0 {
		return ValidationError{Field: "tick_timeout_seconds", Message: "must not be negative"}
	}
	if cfg.Resolution.Width <= 0 {
		return ValidationError{Field: "resolution.width", Message: "must be positive"}
	}
	if cfg.Resolution.Height <= 0 {
		return ValidationError{Field: "resolution.height", Message: "must be positive"}
	}
	if !slices.Contains(Agents, cfg.Agent) {
		return ValidationError{Field: "agent", Message: fmt.Sprintf("must be one of %s", strings.Join(Agents, ", "))}
	}
	if !slices.Contains(Behaviors, cfg.Behavior) {
		return ValidationError{Field: "behavior", Message: fmt.Sprintf("must be one of %s", strings.Join(Behaviors, ", "))}
	}
	if cfg.TargetSpeed <= 0 {
		return ValidationError{Field: "target_speed", Message: "must be positive"}
	}
	if strings.TrimSpace(cfg.VehicleFilter) == "" {
		return ValidationError{Field: "vehicle_filter", Message: "required field is empty"}
	}
	if cfg.MaxFrames < 0 {
		return ValidationError{Field: "max_frames", Message: "must not be negative"}
	}
	return nil
}
