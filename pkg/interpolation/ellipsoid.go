package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
)

// EllipsoidParams are the tunable inputs of the region-of-applicability
// model.
type EllipsoidParams struct {
	// ShapeExponent (shM) selects the growth shape: negative grows
	// symmetrically around the center, zero and positive values recenter
	// the ellipsoid towards the new point.
	ShapeExponent float64

	// GrowthHeadroom (grH) is the extra growth applied to a perfect fit.
	// Negative disables headroom.
	GrowthHeadroom float64

	// GrowthExponent (grM) controls how fast headroom shrinks as the
	// observed error approaches the tolerance.
	GrowthExponent float64

	// MaxInputDistance (interpPDistMax) is a hard cap on the input-space
	// distance from the center at which the model may answer.
	MaxInputDistance float64

	// InitialEpsilon (epsA) is the initial output-space radius.
	InitialEpsilon float64
}

// DefaultEllipsoidParams returns the standard ellipsoid parameters
func DefaultEllipsoidParams() EllipsoidParams {
	return EllipsoidParams{
		ShapeExponent:    -1,
		GrowthHeadroom:   1.2,
		GrowthExponent:   64,
		MaxInputDistance: 1.0,
		InitialEpsilon:   1e-5,
	}
}

// EllipsoidConfig is the validated, immutable form of EllipsoidParams
// shared by every ellipsoid of a database.
type EllipsoidConfig struct {
	params EllipsoidParams

	growthK       float64 // grH^grM - 1
	growthExpInv  float64 // 1/grM
	growthEnabled bool
	shapeInf      bool
	shapeZero     bool
}

// NewEllipsoidConfig validates params and precomputes the derived growth
// constants.
func NewEllipsoidConfig(params EllipsoidParams) (*EllipsoidConfig, error) {
	cfg := &EllipsoidConfig{params: params}

	if params.InitialEpsilon <= 0 {
		return nil, fmt.Errorf("%w: initial epsilon must be positive, got %g", ErrInvalidModel, params.InitialEpsilon)
	}
	if params.MaxInputDistance <= 0 {
		return nil, fmt.Errorf("%w: max input distance must be positive, got %g", ErrInvalidModel, params.MaxInputDistance)
	}

	cfg.growthEnabled = params.GrowthHeadroom >= 0
	if cfg.growthEnabled {
		if params.GrowthHeadroom < 1 {
			return nil, fmt.Errorf("%w: growth headroom must be >= 1, got %g", ErrInvalidModel, params.GrowthHeadroom)
		}
		if params.GrowthExponent <= 0 {
			return nil, fmt.Errorf("%w: growth exponent must be positive, got %g", ErrInvalidModel, params.GrowthExponent)
		}
		cfg.growthK = math.Pow(params.GrowthHeadroom, params.GrowthExponent) - 1
		cfg.growthExpInv = 1 / params.GrowthExponent
	}

	cfg.shapeInf = params.ShapeExponent < 0
	cfg.shapeZero = !cfg.shapeInf && params.ShapeExponent < 1e-8
	return cfg, nil
}

// Params returns the parameters the config was built from
func (c *EllipsoidConfig) Params() EllipsoidParams { return c.params }

// GrowthFactor returns the headroom factor for an error ratio in [0, 1]:
// grH·(1/(1+grK·r))^(1/grM), or 1 when headroom is disabled. It is grH for
// a perfect fit and 1 when the error equals the tolerance.
func (c *EllipsoidConfig) GrowthFactor(errorRatio float64) float64 {
	if errorRatio < 0 || errorRatio > 1 {
		panic(fmt.Sprintf("interpolation: error ratio %g outside [0, 1]", errorRatio))
	}
	if !c.growthEnabled {
		return 1
	}
	return c.params.GrowthHeadroom * math.Pow(1/(1+c.growthK*errorRatio), c.growthExpInv)
}

// EllipsoidModel is the region of applicability of a local model: a first
// order expansion around a center together with an output-space ellipsoid
// {Δ : ‖A·Δ‖ ≤ 1} of tolerated prediction differences.
type EllipsoidModel struct {
	cfg      *EllipsoidConfig
	point    geometry.Point
	value    geometry.Value
	jacobian *mat.Dense // valueDim×pointDim
	shape    *mat.Dense // A, valueDim×valueDim
}

// NewEllipsoidModel creates an ellipsoid centered at a sample. The initial
// shape is diag(1/epsA).
func NewEllipsoidModel(cfg *EllipsoidConfig, point geometry.Point, value geometry.Value, jacobian *mat.Dense) *EllipsoidModel {
	r, c := jacobian.Dims()
	if r != value.Dim() || c != point.Dim() {
		panic(fmt.Sprintf("interpolation: jacobian is %dx%d, expected %dx%d", r, c, value.Dim(), point.Dim()))
	}
	shape := mat.NewDense(r, r, nil)
	for i := 0; i < r; i++ {
		shape.Set(i, i, 1/cfg.params.InitialEpsilon)
	}
	return &EllipsoidModel{
		cfg:      cfg,
		point:    point.Clone(),
		value:    value.Clone(),
		jacobian: mat.DenseCopyOf(jacobian),
		shape:    shape,
	}
}

// Config returns the shared configuration
func (e *EllipsoidModel) Config() *EllipsoidConfig { return e.cfg }

// Center returns a copy of the expansion point
func (e *EllipsoidModel) Center() geometry.Point { return e.point.Clone() }

// Value returns a copy of the value at the expansion point
func (e *EllipsoidModel) Value() geometry.Value { return e.value.Clone() }

// Jacobian returns a copy of the generalized Jacobian
func (e *EllipsoidModel) Jacobian() *mat.Dense { return mat.DenseCopyOf(e.jacobian) }

// Shape returns a copy of the ellipsoid matrix A
func (e *EllipsoidModel) Shape() *mat.Dense { return mat.DenseCopyOf(e.shape) }

// EstimateDiff returns the first order output change GJ·(p - center).
func (e *EllipsoidModel) EstimateDiff(p geometry.Point) geometry.Vector {
	return geometry.MatVec(e.jacobian, p.Sub(e.point))
}

// Interpolate returns value + GJ·(p - center).
func (e *EllipsoidModel) Interpolate(p geometry.Point) geometry.Value {
	return e.value.AddScaled(1, e.EstimateDiff(p))
}

// TestInterp decides whether the model may answer at p.
//
// Returns:
//   - canInterp: the estimated output change lies inside the ellipsoid
//   - hitLimit: p is farther than MaxInputDistance from the center
//   - est: the estimated output change GJ·(p - center)
func (e *EllipsoidModel) TestInterp(p geometry.Point) (canInterp, hitLimit bool, est geometry.Vector) {
	diff := p.Sub(e.point)
	est = geometry.MatVec(e.jacobian, diff)
	if diff.Norm() > e.cfg.params.MaxInputDistance {
		return false, true, est
	}
	return geometry.MatVec(e.shape, est).Norm() <= 1, false, est
}

// Grow enlarges the ellipsoid so that valueDiff, observed at newPoint with
// the given error ratio, falls inside it. Points already inside leave the
// model unchanged.
//
// Returns whether the center moved and by which fraction of the way towards
// newPoint.
func (e *EllipsoidModel) Grow(valueDiff geometry.Vector, newPoint geometry.Point, errorRatio float64) (shifted bool, shiftFactor float64) {
	mapped := geometry.MatVec(e.shape, valueDiff)
	dSq := mapped.Dot(mapped)
	if dSq < 1 {
		return false, 0
	}

	d := math.Sqrt(dSq)
	n := mat.NewVecDense(len(mapped), mapped.Scale(1/d))
	d *= e.cfg.GrowthFactor(errorRatio)

	// w_c = n·A[:,c]
	w := mat.NewVecDense(len(mapped), nil)
	w.MulVec(e.shape.T(), n)

	if e.cfg.shapeInf {
		e.shape.RankOne(e.shape, 1/d-1, n, w)
		return false, 0
	}

	var a, b float64
	if e.cfg.shapeZero {
		a = 0.5 * (d + 1)
		b = math.Sqrt(a)
	} else {
		shM := e.cfg.params.ShapeExponent
		a = ((2+shM)*d + math.Sqrt(4*(1+shM)+d*d*shM*shM)) / (4 + 2*shM)
		fb := 1 - d*d + 2*a*d
		temp := fb*fb - 4*a*a
		if temp <= 0 {
			b = math.Sqrt(fb / 2)
		} else {
			b = math.Sqrt((fb - math.Sqrt(temp)) / 2)
		}
	}

	next := mat.NewDense(len(mapped), len(mapped), nil)
	next.Scale(1/b, e.shape)
	next.RankOne(next, 1/a-1/b, n, w)
	e.shape = next

	shiftFactor = (d - a) / d
	e.point = e.point.Add(newPoint.Sub(e.point).Scale(shiftFactor))
	e.value = e.value.AddScaled(shiftFactor, valueDiff)
	return true, shiftFactor
}
