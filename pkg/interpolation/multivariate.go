package interpolation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
)

// MultivariateKrigingModel interpolates a vector-valued function with one
// kriging model per output component. All component models share the
// sample points and the regression/correlation models.
type MultivariateKrigingModel struct {
	pointDim    int
	valueDim    int
	derivative  bool
	regression  RegressionModel
	correlation *CorrelationModel
	models      []*KrigingModel

	points    []geometry.Point
	values    [][]float64
	gradients []*mat.Dense
}

// NewMultivariateKrigingModel creates an empty model for a function from
// R^pointDim to R^valueDim.
func NewMultivariateKrigingModel(pointDim, valueDim int, regression RegressionModel, correlation *CorrelationModel) (*MultivariateKrigingModel, error) {
	if valueDim <= 0 {
		return nil, fmt.Errorf("%w: value dimension must be positive, got %d", ErrInvalidModel, valueDim)
	}
	m := &MultivariateKrigingModel{
		pointDim:    pointDim,
		valueDim:    valueDim,
		regression:  regression,
		correlation: correlation,
		models:      make([]*KrigingModel, valueDim),
	}
	for i := range m.models {
		km, err := NewKrigingModel(pointDim, regression, correlation)
		if err != nil {
			return nil, err
		}
		m.models[i] = km
	}
	m.derivative = m.models[0].Components() > 1
	return m, nil
}

// PointDim returns the input-space dimension
func (m *MultivariateKrigingModel) PointDim() int { return m.pointDim }

// ValueDim returns the output-space dimension
func (m *MultivariateKrigingModel) ValueDim() int { return m.valueDim }

// UsesDerivatives reports whether samples carry gradients
func (m *MultivariateKrigingModel) UsesDerivatives() bool { return m.derivative }

// Regression returns the shared trend basis
func (m *MultivariateKrigingModel) Regression() RegressionModel { return m.regression }

// Correlation returns the shared covariance kernel
func (m *MultivariateKrigingModel) Correlation() *CorrelationModel { return m.correlation }

// NumberPoints returns the number of samples
func (m *MultivariateKrigingModel) NumberPoints() int { return len(m.points) }

// Points returns copies of the sample points
func (m *MultivariateKrigingModel) Points() []geometry.Point {
	out := make([]geometry.Point, len(m.points))
	for i, p := range m.points {
		out[i] = p.Clone()
	}
	return out
}

// IsValid reports whether every component model is built.
func (m *MultivariateKrigingModel) IsValid() bool {
	for _, km := range m.models {
		if !km.IsValid() {
			return false
		}
	}
	return len(m.points) > 0
}

// AddPoint appends a sample. gradient is valueDim×pointDim with
// gradient[j][i] = ∂f_j/∂x_i; it may be nil when the model does not use
// derivatives.
func (m *MultivariateKrigingModel) AddPoint(point geometry.Point, values []float64, gradient *mat.Dense) {
	if len(values) != m.valueDim {
		panic(fmt.Sprintf("interpolation: %d values, model expects %d", len(values), m.valueDim))
	}
	if m.derivative {
		if gradient == nil {
			panic("interpolation: derivative model requires a gradient")
		}
		r, c := gradient.Dims()
		if r != m.valueDim || c != m.pointDim {
			panic(fmt.Sprintf("interpolation: gradient is %dx%d, expected %dx%d", r, c, m.valueDim, m.pointDim))
		}
	}

	for j, km := range m.models {
		if m.derivative {
			km.AddPoint(point, geometry.NewDerivativeValue(values[j], gradient.RawRowView(j)))
		} else {
			km.AddPoint(point, geometry.Value{values[j]})
		}
	}

	m.points = append(m.points, point.Clone())
	m.values = append(m.values, append([]float64(nil), values...))
	if gradient != nil {
		m.gradients = append(m.gradients, mat.DenseCopyOf(gradient))
	} else {
		m.gradients = append(m.gradients, nil)
	}
}

// RemoveLastPoint drops the most recent sample from every component model.
func (m *MultivariateKrigingModel) RemoveLastPoint() {
	if len(m.points) == 0 {
		return
	}
	for _, km := range m.models {
		km.RemoveLastPoint()
	}
	last := len(m.points) - 1
	m.points = m.points[:last]
	m.values = m.values[:last]
	m.gradients = m.gradients[:last]
}

// Build builds every component model, stopping at the first failure.
func (m *MultivariateKrigingModel) Build() error {
	for j, km := range m.models {
		if err := km.Build(); err != nil {
			return fmt.Errorf("output %d: %w", j, err)
		}
	}
	return nil
}

// Interpolate returns the predicted values and Jacobian (valueDim×pointDim)
// at p. The Jacobian is zero when the model does not use derivatives.
func (m *MultivariateKrigingModel) Interpolate(p geometry.Point) (geometry.Value, *mat.Dense) {
	values := make(geometry.Value, m.valueDim)
	jac := mat.NewDense(m.valueDim, m.pointDim, nil)
	for j, km := range m.models {
		v := km.Interpolate(p)
		values[j] = v[0]
		if m.derivative {
			jac.SetRow(j, v[1:])
		}
	}
	return values, jac
}

// MeanSquaredError returns the predicted variance of each output value at p.
func (m *MultivariateKrigingModel) MeanSquaredError(p geometry.Point) []float64 {
	out := make([]float64, m.valueDim)
	for j, km := range m.models {
		out[j] = km.MeanSquaredError(p)[0]
	}
	return out
}
