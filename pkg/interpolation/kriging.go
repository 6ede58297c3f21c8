package interpolation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
)

// KrigingModel is a universal kriging interpolant over an ordered set of
// samples. Samples may carry derivative data, in which case each value is
// [f, ∂f/∂x1, ..., ∂f/∂xd] and both the regression and the correlation
// model must be derivative variants.
//
// The model must be rebuilt after every change to its samples or to the
// correlation parameters; until then IsValid reports false.
type KrigingModel struct {
	dim         int
	components  int
	regression  RegressionModel
	correlation *CorrelationModel

	points []geometry.Point
	values []geometry.Value

	valid    bool
	p        *mat.Dense    // stacked regression blocks, nk×m
	invR     *mat.Dense    // inverse covariance, nk×nk
	invPRP   *mat.Dense    // (PᵀR⁻¹P)⁻¹, m×m
	au       *mat.VecDense // GLS trend coefficients
	bu       *mat.VecDense // residual weights
	sigmaSqr float64
}

// NewKrigingModel creates an empty kriging model.
//
// Parameters:
//   - dim: dimension of the input space
//   - regression: trend basis
//   - correlation: covariance kernel, possibly shared with other models
//
// Returns:
//   - the model, or ErrIncompatibleModels when regression and correlation
//     disagree on the number of components per point
func NewKrigingModel(dim int, regression RegressionModel, correlation *CorrelationModel) (*KrigingModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidModel, dim)
	}
	if correlation == nil {
		return nil, fmt.Errorf("%w: nil correlation model", ErrInvalidModel)
	}
	rc, cc := regression.Components(dim), correlation.Components(dim)
	if rc != cc {
		return nil, fmt.Errorf("%w: %s has %d components, %s has %d",
			ErrIncompatibleModels, regression.Kind, rc, correlation.Kind(), cc)
	}
	return &KrigingModel{
		dim:         dim,
		components:  rc,
		regression:  regression,
		correlation: correlation,
	}, nil
}

// Dim returns the input-space dimension
func (k *KrigingModel) Dim() int { return k.dim }

// Components returns the number of components of each sample value
func (k *KrigingModel) Components() int { return k.components }

// IsValid reports whether the model was built after its last change
func (k *KrigingModel) IsValid() bool { return k.valid }

// NumberPoints returns the number of samples
func (k *KrigingModel) NumberPoints() int { return len(k.points) }

// SigmaSqr returns the process variance estimate of the last build
func (k *KrigingModel) SigmaSqr() float64 { return k.sigmaSqr }

// Regression returns the trend basis
func (k *KrigingModel) Regression() RegressionModel { return k.regression }

// Correlation returns the covariance kernel
func (k *KrigingModel) Correlation() *CorrelationModel { return k.correlation }

// Points returns copies of the sample points.
func (k *KrigingModel) Points() []geometry.Point {
	out := make([]geometry.Point, len(k.points))
	for i, p := range k.points {
		out[i] = p.Clone()
	}
	return out
}

// Values returns copies of the sample values.
func (k *KrigingModel) Values() []geometry.Value {
	out := make([]geometry.Value, len(k.values))
	for i, v := range k.values {
		out[i] = v.Clone()
	}
	return out
}

// AddPoint appends a sample and invalidates the model.
func (k *KrigingModel) AddPoint(p geometry.Point, v geometry.Value) {
	if p.Dim() != k.dim {
		panic(fmt.Sprintf("interpolation: point dimension %d, model dimension %d", p.Dim(), k.dim))
	}
	if v.Dim() != k.components {
		panic(fmt.Sprintf("interpolation: value has %d components, model expects %d", v.Dim(), k.components))
	}
	k.points = append(k.points, p.Clone())
	k.values = append(k.values, v.Clone())
	k.valid = false
}

// RemoveLastPoint drops the most recent sample and invalidates the model.
func (k *KrigingModel) RemoveLastPoint() {
	if len(k.points) == 0 {
		return
	}
	k.points = k.points[:len(k.points)-1]
	k.values = k.values[:len(k.values)-1]
	k.valid = false
}

// Build assembles the covariance system and computes the generalized least
// squares coefficients. On failure the model stays invalid and the returned
// error wraps geometry.ErrSingularMatrix or ErrNoSamples.
func (k *KrigingModel) Build() error {
	k.valid = false

	n := len(k.points)
	if n == 0 {
		return &BuildError{Stage: "samples", cause: ErrNoSamples}
	}
	c := k.components
	m := k.regression.BasisSize(k.dim)
	nk := n * c

	p := mat.NewDense(nk, m, nil)
	for i, pt := range k.points {
		p.Slice(i*c, (i+1)*c, 0, m).(*mat.Dense).Copy(k.regression.Values(pt))
	}

	r := mat.NewDense(nk, nk, nil)
	for i, pi := range k.points {
		for j, pj := range k.points {
			r.Slice(i*c, (i+1)*c, j*c, (j+1)*c).(*mat.Dense).Copy(k.correlation.Value(pi, pj))
		}
	}

	invR, err := geometry.Inverse(r)
	if err != nil {
		return &BuildError{Stage: "covariance inverse", Samples: n, cause: err}
	}

	var ptInvR mat.Dense
	ptInvR.Mul(p.T(), invR)
	var prp mat.Dense
	prp.Mul(&ptInvR, p)
	invPRP, err := geometry.Inverse(&prp)
	if err != nil {
		return &BuildError{Stage: "regression inverse", Samples: n, cause: err}
	}

	// A = (PᵀR⁻¹P)⁻¹ PᵀR⁻¹, B = R⁻¹(I - PA)
	var a mat.Dense
	a.Mul(invPRP, &ptInvR)
	var pa mat.Dense
	pa.Mul(p, &a)
	ipa := geometry.Identity(nk)
	ipa.Sub(ipa, &pa)
	var b mat.Dense
	b.Mul(invR, ipa)

	u := mat.NewVecDense(nk, nil)
	for i, v := range k.values {
		for j := 0; j < c; j++ {
			u.SetVec(i*c+j, v[j])
		}
	}

	au := mat.NewVecDense(m, nil)
	au.MulVec(&a, u)
	bu := mat.NewVecDense(nk, nil)
	bu.MulVec(&b, u)

	resid := mat.NewVecDense(nk, nil)
	resid.MulVec(p, au)
	resid.SubVec(u, resid)
	weighted := mat.NewVecDense(nk, nil)
	weighted.MulVec(invR, resid)

	k.p = p
	k.invR = invR
	k.invPRP = invPRP
	k.au = au
	k.bu = bu
	k.sigmaSqr = mat.Dot(resid, weighted) / float64(n)
	k.valid = true
	return nil
}

// Coefficients returns copies of the trend coefficients and residual weights
// computed by the last successful build.
func (k *KrigingModel) Coefficients() (au, bu []float64) {
	k.mustBeValid()
	return append([]float64(nil), k.au.RawVector().Data...),
		append([]float64(nil), k.bu.RawVector().Data...)
}

func (k *KrigingModel) mustBeValid() {
	if !k.valid {
		panic("interpolation: kriging model used before a successful build")
	}
}

// crossCorrelation returns the components×nk row of blocks C(p, p_j).
func (k *KrigingModel) crossCorrelation(p geometry.Point) *mat.Dense {
	c := k.components
	out := mat.NewDense(c, len(k.points)*c, nil)
	for j, pj := range k.points {
		out.Slice(0, c, j*c, (j+1)*c).(*mat.Dense).Copy(k.correlation.Value(p, pj))
	}
	return out
}

// Interpolate predicts the value at p as F(p)·Au + Σ_j C(p, p_j)·Bu_j.
// The prediction reproduces the samples exactly.
func (k *KrigingModel) Interpolate(p geometry.Point) geometry.Value {
	k.mustBeValid()

	trend := mat.NewVecDense(k.components, nil)
	trend.MulVec(k.regression.Values(p), k.au)
	resid := mat.NewVecDense(k.components, nil)
	resid.MulVec(k.crossCorrelation(p), k.bu)
	trend.AddVec(trend, resid)

	return geometry.Value(append([]float64(nil), trend.RawVector().Data...))
}

// MeanSquaredError returns the predicted variance of each component at p:
//
//	σ²[C(p,p) - c R⁻¹ cᵀ + u (PᵀR⁻¹P)⁻¹ uᵀ],  u = F(p) - c R⁻¹ P
//
// Negative round-off results are clamped to zero.
func (k *KrigingModel) MeanSquaredError(p geometry.Point) []float64 {
	k.mustBeValid()

	cx := k.crossCorrelation(p)
	var cInvR mat.Dense
	cInvR.Mul(cx, k.invR)
	var explained mat.Dense
	explained.Mul(&cInvR, cx.T())

	var u mat.Dense
	u.Mul(&cInvR, k.p)
	u.Sub(k.regression.Values(p), &u)
	var uq mat.Dense
	uq.Mul(&u, k.invPRP)
	var trendTerm mat.Dense
	trendTerm.Mul(&uq, u.T())

	self := k.correlation.Value(p, p)
	out := make([]float64, k.components)
	for i := range out {
		v := k.sigmaSqr * (self.At(i, i) - explained.At(i, i) + trendTerm.At(i, i))
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out
}
