package interpdb

import (
	"fmt"

	"krigcache/internal/logging"
	"krigcache/pkg/interpolation"
	"krigcache/pkg/mtree"
)

// Options are the tuning parameters of a database.
type Options struct {
	PointDimension int
	ValueDimension int

	// MaxKrigingModelSize caps the samples per model before a new model
	// is created.
	MaxKrigingModelSize int

	// MaxNumberSearchModels caps the candidate models tested per query.
	MaxNumberSearchModels int

	// Theta is the correlation length-scale parameter.
	Theta float64

	// MeanErrorFactor scales the kriging error estimate before comparing
	// it with Tolerance.
	MeanErrorFactor float64

	// Tolerance is the accepted absolute error per output.
	Tolerance float64

	// MaxQueryPointModelDistance is the search radius for candidate models.
	MaxQueryPointModelDistance float64

	Regression  interpolation.RegressionKind
	Correlation interpolation.CorrelationKind
	Ellipsoid   interpolation.EllipsoidParams

	// MaxEntriesPerNode is the M-tree node capacity.
	MaxEntriesPerNode int
}

// DefaultOptions returns the standard parameters for a function from
// R^pointDim to R^valueDim.
func DefaultOptions(pointDim, valueDim int) Options {
	return Options{
		PointDimension:             pointDim,
		ValueDimension:             valueDim,
		MaxKrigingModelSize:        4,
		MaxNumberSearchModels:      1,
		Theta:                      4.0e2,
		MeanErrorFactor:            7.07106781186548,
		Tolerance:                  1.0e-4,
		MaxQueryPointModelDistance: 1.0e6,
		Regression:                 interpolation.LinearDerivative,
		Correlation:                interpolation.GaussianDerivative,
		Ellipsoid:                  interpolation.DefaultEllipsoidParams(),
		MaxEntriesPerNode:          mtree.DefaultMaxEntries,
	}
}

// Validate checks ranges and model compatibility.
func (o Options) Validate() error {
	switch {
	case o.PointDimension <= 0:
		return fmt.Errorf("%w: point dimension must be positive, got %d", ErrInvalidOptions, o.PointDimension)
	case o.ValueDimension <= 0:
		return fmt.Errorf("%w: value dimension must be positive, got %d", ErrInvalidOptions, o.ValueDimension)
	case o.MaxKrigingModelSize < 1:
		return fmt.Errorf("%w: maxKrigingModelSize must be at least 1, got %d", ErrInvalidOptions, o.MaxKrigingModelSize)
	case o.MaxNumberSearchModels < 1:
		return fmt.Errorf("%w: maxNumberSearchModels must be at least 1, got %d", ErrInvalidOptions, o.MaxNumberSearchModels)
	case !(o.Theta > 0):
		return fmt.Errorf("%w: theta must be positive, got %g", ErrInvalidOptions, o.Theta)
	case !(o.MeanErrorFactor > 0):
		return fmt.Errorf("%w: meanErrorFactor must be positive, got %g", ErrInvalidOptions, o.MeanErrorFactor)
	case !(o.Tolerance > 0):
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalidOptions, o.Tolerance)
	case !(o.MaxQueryPointModelDistance > 0):
		return fmt.Errorf("%w: maxQueryPointModelDistance must be positive, got %g", ErrInvalidOptions, o.MaxQueryPointModelDistance)
	case o.MaxEntriesPerNode < 2:
		return fmt.Errorf("%w: maxEntriesPerNode must be at least 2, got %d", ErrInvalidOptions, o.MaxEntriesPerNode)
	case !o.Regression.IsValid():
		return fmt.Errorf("%w: unknown regression model %s", ErrInvalidOptions, o.Regression)
	case !o.Correlation.IsValid():
		return fmt.Errorf("%w: unknown correlation model %s", ErrInvalidOptions, o.Correlation)
	}
	// New models are built from the single sample that created them.
	regression := interpolation.RegressionModel{Kind: o.Regression}
	if n := regression.SeedSamples(o.PointDimension); n > 1 {
		return fmt.Errorf("%w: %s regression needs %d samples to build, models start from one", ErrInvalidOptions, o.Regression, n)
	}
	return nil
}

// Option configures the ambient dependencies of a DB
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(db *DB) { db.metrics = m }
}
