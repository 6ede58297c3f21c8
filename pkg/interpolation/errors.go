package interpolation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidModel is returned for unusable model configurations.
	ErrInvalidModel = errors.New("invalid model configuration")

	// ErrIncompatibleModels is returned when the regression and correlation
	// models disagree on the number of components per point.
	ErrIncompatibleModels = errors.New("incompatible regression and correlation models")

	// ErrNoSamples is returned when building a model without samples.
	ErrNoSamples = errors.New("kriging model has no samples")
)

// BuildError reports which stage of a kriging build failed.
type BuildError struct {
	Stage   string
	Samples int
	cause   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("kriging build failed at %s with %d samples: %v", e.Stage, e.Samples, e.cause)
}

func (e *BuildError) Unwrap() error { return e.cause }
