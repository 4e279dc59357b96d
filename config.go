package steam

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// configValidate validates SolverConfig tags.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// SolverConfig holds the termination criteria and execution parameters of the
// solvers.
type SolverConfig struct {
	// MaxIterations caps the number of linearize/solve/step iterations.
	MaxIterations int `yaml:"max_iterations" validate:"gte=1"`
	// AbsoluteCostThreshold stops the solver once the cost is at or below it.
	AbsoluteCostThreshold float64 `yaml:"absolute_cost_threshold" validate:"gte=0"`
	// AbsoluteCostChangeThreshold stops the solver once an accepted step
	// changes the cost by at most this much.
	AbsoluteCostChangeThreshold float64 `yaml:"absolute_cost_change_threshold" validate:"gte=0"`
	// RelativeCostChangeThreshold is the same criterion relative to the cost
	// before the step.
	RelativeCostChangeThreshold float64 `yaml:"relative_cost_change_threshold" validate:"gte=0"`
	// CostIncreaseTolerance lets Gauss-Newton accept steps that increase the
	// cost by at most this much.
	CostIncreaseTolerance float64 `yaml:"cost_increase_tolerance" validate:"gte=0"`
	// Verbose logs every iteration at Info level instead of Debug.
	Verbose bool `yaml:"verbose"`
	// NumWorkers is the number of goroutines linearizing cost terms.
	NumWorkers int `yaml:"num_workers" validate:"gte=1"`
	// PoolCapacity is the number of tree nodes of each kind per worker.
	PoolCapacity int `yaml:"pool_capacity" validate:"gte=1"`
	// InitialDamping is the first Levenberg-Marquardt damping factor λ.
	InitialDamping float64 `yaml:"initial_damping" validate:"gt=0"`
	// DampingFactor multiplies λ after a failed step and divides it after a
	// successful one.
	DampingFactor float64 `yaml:"damping_factor" validate:"gt=1"`
	// MaxDampingRetries bounds the consecutive failed steps within one
	// Levenberg-Marquardt iteration.
	MaxDampingRetries int `yaml:"max_damping_retries" validate:"gte=0"`
}

// DefaultSolverConfig returns the default configuration.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MaxIterations:               100,
		AbsoluteCostThreshold:       0,
		AbsoluteCostChangeThreshold: 1e-4,
		RelativeCostChangeThreshold: 1e-4,
		CostIncreaseTolerance:       0,
		NumWorkers:                  1,
		PoolCapacity:                DefaultPoolCapacity,
		InitialDamping:              1e-4,
		DampingFactor:               10,
		MaxDampingRetries:           10,
	}
}

// Validate checks that the configuration values are valid.
func (c SolverConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoadSolverConfig loads a SolverConfig from a YAML file. Fields omitted from
// the file keep their default values, so partial configs are safe.
func LoadSolverConfig(path string) (SolverConfig, error) {
	cfg := DefaultSolverConfig()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return cfg, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
