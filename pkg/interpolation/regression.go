// Package interpolation implements the local surrogate models stored in the
// cache: universal kriging with optional derivative information and the
// ellipsoidal region of applicability that decides when a model may answer.
package interpolation

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
)

// RegressionKind selects the trend basis of a kriging model
type RegressionKind int

const (
	// Constant uses a single constant basis function.
	Constant RegressionKind = iota
	// Linear uses the basis [1, x1..xd].
	Linear
	// LinearDerivative uses the linear basis together with its derivatives,
	// for samples whose values carry gradients.
	LinearDerivative
)

func (k RegressionKind) String() string {
	switch k {
	case Constant:
		return "constant"
	case Linear:
		return "linear"
	case LinearDerivative:
		return "linearDerivative"
	default:
		return fmt.Sprintf("RegressionKind(%d)", int(k))
	}
}

// IsValid reports whether k is one of the defined kinds
func (k RegressionKind) IsValid() bool {
	switch k {
	case Constant, Linear, LinearDerivative:
		return true
	}
	return false
}

// ParseRegressionKind maps a configuration name to a regression kind.
func ParseRegressionKind(name string) (RegressionKind, error) {
	switch strings.ToLower(name) {
	case "constant":
		return Constant, nil
	case "linear":
		return Linear, nil
	case "linearderivative", "linear_derivative":
		return LinearDerivative, nil
	}
	return 0, fmt.Errorf("%w: unknown regression model %q", ErrInvalidModel, name)
}

// RegressionModel evaluates the trend basis at a point.
type RegressionModel struct {
	Kind RegressionKind
}

// Components returns the number of output components per point: 1 for
// plain models, d+1 for derivative models.
func (r RegressionModel) Components(dim int) int {
	switch r.Kind {
	case Constant, Linear:
		return 1
	case LinearDerivative:
		return dim + 1
	}
	panic(fmt.Sprintf("interpolation: unhandled regression kind %d", r.Kind))
}

// BasisSize returns the number of trend coefficients.
func (r RegressionModel) BasisSize(dim int) int {
	switch r.Kind {
	case Constant:
		return 1
	case Linear, LinearDerivative:
		return dim + 1
	}
	panic(fmt.Sprintf("interpolation: unhandled regression kind %d", r.Kind))
}

// SeedSamples returns how many samples a model needs before its trend
// coefficients are determined: the basis size over the components each
// sample contributes, rounded up.
func (r RegressionModel) SeedSamples(dim int) int {
	c := r.Components(dim)
	return (r.BasisSize(dim) + c - 1) / c
}

// Values returns the components×basis matrix F(p).
func (r RegressionModel) Values(p geometry.Point) *mat.Dense {
	d := p.Dim()
	switch r.Kind {
	case Constant:
		return geometry.Identity(1)
	case Linear:
		row := make([]float64, d+1)
		row[0] = 1
		copy(row[1:], p)
		return mat.NewDense(1, d+1, row)
	case LinearDerivative:
		m := geometry.Identity(d + 1)
		for i := 0; i < d; i++ {
			m.Set(0, i+1, p[i])
		}
		return m
	}
	panic(fmt.Sprintf("interpolation: unhandled regression kind %d", r.Kind))
}
