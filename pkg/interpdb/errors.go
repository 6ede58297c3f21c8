package interpdb

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOptions is returned for out-of-range options.
	ErrInvalidOptions = errors.New("invalid database options")

	// ErrModelBuild is returned when a new model cannot be built from a
	// sample. The database is left unchanged.
	ErrModelBuild = errors.New("model build failed")

	// ErrMissingGradient is returned when a sample has no gradient.
	ErrMissingGradient = errors.New("sample gradient is required")

	// ErrCorrupt is returned when loaded or checked state is inconsistent.
	ErrCorrupt = errors.New("inconsistent database state")
)

// DimensionError reports a sample whose shape does not match the database.
type DimensionError struct {
	What     string
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s dimension mismatch: expected %d, got %d", e.What, e.Expected, e.Actual)
}
