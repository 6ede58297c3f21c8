package interpdb

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
	"krigcache/pkg/interpolation"
	"krigcache/pkg/mtree"
)

// Path tells which test accepted an interpolation.
type Path int

const (
	PathNone Path = iota
	PathEllipsoid
	PathKrigingError
)

func (p Path) String() string {
	switch p {
	case PathNone:
		return "none"
	case PathEllipsoid:
		return "ellipsoid"
	case PathKrigingError:
		return "kriging_error"
	default:
		return "unknown"
	}
}

// Model is one local surrogate: a kriging model over its samples and the
// ellipsoid describing where it may answer. Anchor is the point under
// which the model is indexed and never moves.
type Model struct {
	ID        mtree.ObjectID
	Anchor    geometry.Point
	Kriging   *interpolation.MultivariateKrigingModel
	Ellipsoid *interpolation.EllipsoidModel
}

// NumberSamples returns the samples backing the kriging model
func (m *Model) NumberSamples() int { return m.Kriging.NumberPoints() }

// accept runs the acceptance tests for p. It reports whether p is past the
// ellipsoid's distance limit and, on success, which test passed.
func (m *Model) accept(p geometry.Point, opts *Options) (Path, bool) {
	ok, hitLimit, _ := m.Ellipsoid.TestInterp(p)
	if hitLimit {
		return PathNone, true
	}
	if ok {
		return PathEllipsoid, false
	}
	if m.Kriging.NumberPoints() < 2 {
		return PathNone, false
	}
	mse := m.Kriging.MeanSquaredError(p)
	if opts.MeanErrorFactor*math.Sqrt(math.Max(floats.Max(mse), 0)) <= opts.Tolerance {
		return PathKrigingError, false
	}
	return PathNone, false
}

func (m *Model) predict(p geometry.Point) (geometry.Value, *mat.Dense) {
	return m.Kriging.Interpolate(p)
}

// errorRatio is the worst prediction error at a sample relative to the
// tolerance.
func (m *Model) errorRatio(p geometry.Point, values []float64, tol float64) float64 {
	pred, _ := m.predict(p)
	return pred.MaxAbsDiff(geometry.Value(values)) / tol
}
