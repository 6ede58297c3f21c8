package interpolation

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
)

// CorrelationKind selects the covariance kernel of a kriging model
type CorrelationKind int

const (
	// Gaussian is the kernel exp(-θ‖p1-p2‖²).
	Gaussian CorrelationKind = iota
	// GaussianDerivative is the Gaussian kernel extended with the
	// covariances between values and first derivatives.
	GaussianDerivative
)

func (k CorrelationKind) String() string {
	switch k {
	case Gaussian:
		return "gaussian"
	case GaussianDerivative:
		return "gaussianDerivative"
	default:
		return fmt.Sprintf("CorrelationKind(%d)", int(k))
	}
}

// IsValid reports whether k is one of the defined kinds
func (k CorrelationKind) IsValid() bool {
	return k == Gaussian || k == GaussianDerivative
}

// ParseCorrelationKind maps a configuration name to a correlation kind.
func ParseCorrelationKind(name string) (CorrelationKind, error) {
	switch strings.ToLower(name) {
	case "gaussian":
		return Gaussian, nil
	case "gaussianderivative", "gaussian_derivative":
		return GaussianDerivative, nil
	}
	return 0, fmt.Errorf("%w: unknown correlation model %q", ErrInvalidModel, name)
}

// CorrelationModel evaluates covariance blocks between two points.
type CorrelationModel struct {
	kind   CorrelationKind
	thetas []float64
}

// NewCorrelationModel creates a correlation model with a single positive
// length-scale parameter.
func NewCorrelationModel(kind CorrelationKind, thetas []float64) (*CorrelationModel, error) {
	c := &CorrelationModel{kind: kind}
	if err := c.SetThetas(thetas); err != nil {
		return nil, err
	}
	return c, nil
}

// Kind returns the kernel variant
func (c *CorrelationModel) Kind() CorrelationKind { return c.kind }

// Thetas returns a copy of the kernel parameters
func (c *CorrelationModel) Thetas() []float64 {
	return append([]float64(nil), c.thetas...)
}

// SetThetas replaces the kernel parameters. Models that use this
// correlation model must be rebuilt afterwards.
func (c *CorrelationModel) SetThetas(thetas []float64) error {
	if len(thetas) != 1 {
		return fmt.Errorf("%w: expected 1 theta, got %d", ErrInvalidModel, len(thetas))
	}
	if !(thetas[0] > 0) {
		return fmt.Errorf("%w: theta must be positive, got %g", ErrInvalidModel, thetas[0])
	}
	c.thetas = append(c.thetas[:0], thetas...)
	return nil
}

// Components returns the number of output components per point.
func (c *CorrelationModel) Components(dim int) int {
	switch c.kind {
	case Gaussian:
		return 1
	case GaussianDerivative:
		return dim + 1
	}
	panic(fmt.Sprintf("interpolation: unhandled correlation kind %d", c.kind))
}

// Value returns the covariance block C(p1, p2). Rows index the components
// at p1, columns the components at p2.
func (c *CorrelationModel) Value(p1, p2 geometry.Point) *mat.Dense {
	theta := c.thetas[0]
	delta := p1.Sub(p2)
	s := math.Exp(-theta * delta.Dot(delta))

	switch c.kind {
	case Gaussian:
		return mat.NewDense(1, 1, []float64{s})
	case GaussianDerivative:
		d := len(delta)
		m := mat.NewDense(d+1, d+1, nil)
		m.Set(0, 0, s)
		for i := 1; i <= d; i++ {
			di := delta[i-1]
			m.Set(0, i, 2*theta*di*s)
			m.Set(i, 0, -2*theta*di*s)
			m.Set(i, i, s*(2*theta-4*theta*theta*di*di))
			for j := i + 1; j <= d; j++ {
				v := s * (-4 * theta * theta * di * delta[j-1])
				m.Set(i, j, v)
				m.Set(j, i, v)
			}
		}
		return m
	}
	panic(fmt.Sprintf("interpolation: unhandled correlation kind %d", c.kind))
}
