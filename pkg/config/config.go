// Package config provides configuration loading and management for krigcache.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"krigcache/pkg/interpdb"
	"krigcache/pkg/interpolation"
	"krigcache/pkg/store"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Database holds the cache tuning parameters
	Database struct {
		// MaxKrigingModelSize is the number of samples a local model may hold
		MaxKrigingModelSize int `yaml:"maxKrigingModelSize"`

		// MaxNumberSearchModels is the number of candidate models tested per query
		MaxNumberSearchModels int `yaml:"maxNumberSearchModels"`

		// Theta is the correlation length-scale parameter
		Theta float64 `yaml:"theta"`

		// MeanErrorFactor scales the kriging error estimate
		MeanErrorFactor float64 `yaml:"meanErrorFactor"`

		// Tolerance is the accepted absolute error per output
		Tolerance float64 `yaml:"tolerance"`

		// MaxQueryPointModelDistance is the search radius for candidate models
		MaxQueryPointModelDistance float64 `yaml:"maxQueryPointModelDistance"`

		// MaxEntriesPerNode is the M-tree node capacity
		MaxEntriesPerNode int `yaml:"maxEntriesPerNode"`
	} `yaml:"database"`

	// Model selects the kriging building blocks
	Model struct {
		Regression  string `yaml:"regression"`
		Correlation string `yaml:"correlation"`
	} `yaml:"model"`

	// Ellipsoid holds the region-of-applicability parameters
	Ellipsoid struct {
		ShapeExponent    float64 `yaml:"shapeExponent"`
		GrowthHeadroom   float64 `yaml:"growthHeadroom"`
		GrowthExponent   float64 `yaml:"growthExponent"`
		MaxInputDistance float64 `yaml:"maxInputDistance"`
		InitialEpsilon   float64 `yaml:"initialEpsilon"`
	} `yaml:"ellipsoid"`

	// Problem describes the function being cached
	Problem struct {
		PointDimension int `yaml:"pointDimension"`
		ValueDimension int `yaml:"valueDimension"`

		// PointScaling divides each input coordinate; empty means no scaling
		PointScaling []float64 `yaml:"pointScaling,omitempty"`

		// ValueScaling divides each output; empty means no scaling
		ValueScaling []float64 `yaml:"valueScaling,omitempty"`
	} `yaml:"problem"`

	// Batch parameters
	Batch struct {
		// ChunkSize is the number of samples read per chunk
		ChunkSize int `yaml:"chunkSize"`
	} `yaml:"batch"`

	// Storage parameters
	Storage struct {
		// Path is the Badger directory; empty keeps the database in memory
		Path string `yaml:"path"`

		// Compression is one of none, lz4 or zstd
		Compression string `yaml:"compression"`

		// SyncWrites flushes every write to disk
		SyncWrites bool `yaml:"syncWrites"`
	} `yaml:"storage"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	opts := interpdb.DefaultOptions(1, 1)
	cfg.Database.MaxKrigingModelSize = opts.MaxKrigingModelSize
	cfg.Database.MaxNumberSearchModels = opts.MaxNumberSearchModels
	cfg.Database.Theta = opts.Theta
	cfg.Database.MeanErrorFactor = opts.MeanErrorFactor
	cfg.Database.Tolerance = opts.Tolerance
	cfg.Database.MaxQueryPointModelDistance = opts.MaxQueryPointModelDistance
	cfg.Database.MaxEntriesPerNode = opts.MaxEntriesPerNode

	cfg.Model.Regression = opts.Regression.String()
	cfg.Model.Correlation = opts.Correlation.String()

	ell := interpolation.DefaultEllipsoidParams()
	cfg.Ellipsoid.ShapeExponent = ell.ShapeExponent
	cfg.Ellipsoid.GrowthHeadroom = ell.GrowthHeadroom
	cfg.Ellipsoid.GrowthExponent = ell.GrowthExponent
	cfg.Ellipsoid.MaxInputDistance = ell.MaxInputDistance
	cfg.Ellipsoid.InitialEpsilon = ell.InitialEpsilon

	cfg.Problem.PointDimension = 1
	cfg.Problem.ValueDimension = 1

	cfg.Batch.ChunkSize = 1024

	cfg.Storage.Compression = store.CompressionZSTD.String()

	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// DatabaseOptions converts the configuration into database options.
func (c *Config) DatabaseOptions() (interpdb.Options, error) {
	opts := interpdb.DefaultOptions(c.Problem.PointDimension, c.Problem.ValueDimension)
	var err error
	if opts.Regression, err = interpolation.ParseRegressionKind(c.Model.Regression); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if opts.Correlation, err = interpolation.ParseCorrelationKind(c.Model.Correlation); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	opts.MaxKrigingModelSize = c.Database.MaxKrigingModelSize
	opts.MaxNumberSearchModels = c.Database.MaxNumberSearchModels
	opts.Theta = c.Database.Theta
	opts.MeanErrorFactor = c.Database.MeanErrorFactor
	opts.Tolerance = c.Database.Tolerance
	opts.MaxQueryPointModelDistance = c.Database.MaxQueryPointModelDistance
	opts.MaxEntriesPerNode = c.Database.MaxEntriesPerNode
	opts.Ellipsoid = interpolation.EllipsoidParams{
		ShapeExponent:    c.Ellipsoid.ShapeExponent,
		GrowthHeadroom:   c.Ellipsoid.GrowthHeadroom,
		GrowthExponent:   c.Ellipsoid.GrowthExponent,
		MaxInputDistance: c.Ellipsoid.MaxInputDistance,
		InitialEpsilon:   c.Ellipsoid.InitialEpsilon,
	}
	return opts, nil
}

// Validate checks the configuration as a whole.
func (c *Config) Validate() error {
	opts, err := c.DatabaseOptions()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := interpolation.NewEllipsoidConfig(opts.Ellipsoid); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if n := len(c.Problem.PointScaling); n != 0 && n != c.Problem.PointDimension {
		return fmt.Errorf("%w: pointScaling has %d entries, pointDimension is %d", ErrInvalidConfig, n, c.Problem.PointDimension)
	}
	if n := len(c.Problem.ValueScaling); n != 0 && n != c.Problem.ValueDimension {
		return fmt.Errorf("%w: valueScaling has %d entries, valueDimension is %d", ErrInvalidConfig, n, c.Problem.ValueDimension)
	}
	for _, s := range append(append([]float64(nil), c.Problem.PointScaling...), c.Problem.ValueScaling...) {
		if s == 0 {
			return fmt.Errorf("%w: scaling factors must be non-zero", ErrInvalidConfig)
		}
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunkSize must be positive, got %d", ErrInvalidConfig, c.Batch.ChunkSize)
	}
	if _, err := store.ParseCompression(c.Storage.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Output.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logFormat must be text or json, got %q", ErrInvalidConfig, c.Output.LogFormat)
	}
	return nil
}
