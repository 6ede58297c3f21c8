package interpolation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
	"krigcache/pkg/store"
)

// newDerivativeModel creates a derivative kriging model for f(x) = x² in 1-D
// sampled at the given points.
func newDerivativeModel(t *testing.T, theta float64, xs ...float64) *KrigingModel {
	t.Helper()
	corr, err := NewCorrelationModel(GaussianDerivative, []float64{theta})
	require.NoError(t, err)
	km, err := NewKrigingModel(1, RegressionModel{Kind: LinearDerivative}, corr)
	require.NoError(t, err)
	for _, x := range xs {
		km.AddPoint(geometry.Point{x}, geometry.Value{x * x, 2 * x})
	}
	return km
}

func TestRegressionValues(t *testing.T) {
	p := geometry.Point{2, 3}

	c := RegressionModel{Kind: Constant}.Values(p)
	assert.True(t, mat.Equal(c, mat.NewDense(1, 1, []float64{1})))

	l := RegressionModel{Kind: Linear}.Values(p)
	assert.True(t, mat.Equal(l, mat.NewDense(1, 3, []float64{1, 2, 3})))

	ld := RegressionModel{Kind: LinearDerivative}.Values(p)
	want := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		0, 1, 0,
		0, 0, 1,
	})
	assert.True(t, mat.Equal(ld, want))

	assert.Equal(t, 3, RegressionModel{Kind: LinearDerivative}.Components(2))
	assert.Equal(t, 1, RegressionModel{Kind: Linear}.Components(2))
}

func TestSeedSamples(t *testing.T) {
	assert.Equal(t, 1, RegressionModel{Kind: Constant}.SeedSamples(3))
	assert.Equal(t, 4, RegressionModel{Kind: Linear}.SeedSamples(3))
	assert.Equal(t, 1, RegressionModel{Kind: LinearDerivative}.SeedSamples(3))

	assert.True(t, Linear.IsValid())
	assert.False(t, RegressionKind(7).IsValid())
	assert.True(t, GaussianDerivative.IsValid())
	assert.False(t, CorrelationKind(-1).IsValid())
}

func TestParseKinds(t *testing.T) {
	rk, err := ParseRegressionKind("linearDerivative")
	require.NoError(t, err)
	assert.Equal(t, LinearDerivative, rk)

	ck, err := ParseCorrelationKind("gaussian")
	require.NoError(t, err)
	assert.Equal(t, Gaussian, ck)

	_, err = ParseRegressionKind("quadratic")
	assert.True(t, errors.Is(err, ErrInvalidModel))
	_, err = ParseCorrelationKind("matern")
	assert.True(t, errors.Is(err, ErrInvalidModel))
}

func TestCorrelationDerivativeBlock(t *testing.T) {
	corr, err := NewCorrelationModel(GaussianDerivative, []float64{0.5})
	require.NoError(t, err)

	p1 := geometry.Point{0.2, -0.4}
	p2 := geometry.Point{1.0, 0.3}

	c12 := corr.Value(p1, p2)
	c21 := corr.Value(p2, p1)
	assert.True(t, mat.EqualApprox(c12, c21.T(), 1e-14), "C(p1,p2) must equal C(p2,p1)ᵀ")

	s := math.Exp(-0.5 * (0.8*0.8 + 0.7*0.7))
	assert.InDelta(t, s, c12.At(0, 0), 1e-15)
	assert.InDelta(t, 2*0.5*(-0.8)*s, c12.At(0, 1), 1e-15)
	assert.InDelta(t, -2*0.5*(-0.8)*s, c12.At(1, 0), 1e-15)

	self := corr.Value(p1, p1)
	assert.True(t, mat.EqualApprox(self, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), 1e-15))
}

func TestCorrelationThetas(t *testing.T) {
	_, err := NewCorrelationModel(Gaussian, []float64{0})
	assert.True(t, errors.Is(err, ErrInvalidModel))
	_, err = NewCorrelationModel(Gaussian, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrInvalidModel))

	corr, err := NewCorrelationModel(Gaussian, []float64{1})
	require.NoError(t, err)
	require.NoError(t, corr.SetThetas([]float64{3}))
	assert.Equal(t, []float64{3}, corr.Thetas())
}

func TestIncompatibleModels(t *testing.T) {
	corr, err := NewCorrelationModel(GaussianDerivative, []float64{1})
	require.NoError(t, err)
	_, err = NewKrigingModel(2, RegressionModel{Kind: Linear}, corr)
	assert.True(t, errors.Is(err, ErrIncompatibleModels))
}

// TestKrigingExactAtSamples verifies that the interpolant reproduces its
// samples.
func TestKrigingExactAtSamples(t *testing.T) {
	km := newDerivativeModel(t, 1.0, 0, 1, 2)
	require.NoError(t, km.Build())
	require.True(t, km.IsValid())

	for _, x := range []float64{0, 1, 2} {
		v := km.Interpolate(geometry.Point{x})
		assert.InDelta(t, x*x, v[0], 1e-9, "value at %g", x)
		assert.InDelta(t, 2*x, v[1], 1e-9, "derivative at %g", x)

		mse := km.MeanSquaredError(geometry.Point{x})
		assert.InDelta(t, 0, mse[0], 1e-8)
	}

	// between samples the prediction is close and carries variance
	v := km.Interpolate(geometry.Point{1.5})
	assert.InDelta(t, 2.25, v[0], 0.25)
	assert.Greater(t, km.MeanSquaredError(geometry.Point{1.5})[0], 0.0)
}

func TestKrigingPlainGaussian(t *testing.T) {
	corr, err := NewCorrelationModel(Gaussian, []float64{2})
	require.NoError(t, err)
	km, err := NewKrigingModel(1, RegressionModel{Kind: Linear}, corr)
	require.NoError(t, err)

	xs := []float64{0, 0.5, 1, 1.5, 2}
	for _, x := range xs {
		km.AddPoint(geometry.Point{x}, geometry.Value{math.Sin(x)})
	}
	require.NoError(t, km.Build())

	for _, x := range xs {
		assert.InDelta(t, math.Sin(x), km.Interpolate(geometry.Point{x})[0], 1e-9)
	}
	assert.InDelta(t, math.Sin(0.75), km.Interpolate(geometry.Point{0.75})[0], 0.05)
}

func TestKrigingSingleSampleIsTaylorExpansion(t *testing.T) {
	km := newDerivativeModel(t, 400, 0.5)
	require.NoError(t, km.Build())

	// f(0.5) = 0.25, f'(0.5) = 1
	v := km.Interpolate(geometry.Point{0.7})
	assert.InDelta(t, 0.45, v[0], 1e-12)
	assert.InDelta(t, 1.0, v[1], 1e-12)
	assert.InDelta(t, 0, km.SigmaSqr(), 1e-15)
}

// TestKrigingBuildDeterminism verifies that rebuilding from the same samples
// reproduces the coefficients exactly.
func TestKrigingBuildDeterminism(t *testing.T) {
	km := newDerivativeModel(t, 1.0, 0, 0.7, 1.3, 2)
	require.NoError(t, km.Build())
	au1, bu1 := km.Coefficients()
	sigma1 := km.SigmaSqr()

	require.NoError(t, km.Build())
	au2, bu2 := km.Coefficients()
	assert.Equal(t, au1, au2)
	assert.Equal(t, bu1, bu2)
	assert.Equal(t, sigma1, km.SigmaSqr())

	other := newDerivativeModel(t, 1.0, 0, 0.7, 1.3, 2)
	require.NoError(t, other.Build())
	au3, bu3 := other.Coefficients()
	assert.Equal(t, au1, au3)
	assert.Equal(t, bu1, bu3)
}

// TestKrigingSingularBuild verifies that duplicate samples make the build
// fail and leave the model invalid.
func TestKrigingSingularBuild(t *testing.T) {
	km := newDerivativeModel(t, 1.0, 1, 1)
	err := km.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, geometry.ErrSingularMatrix))

	var be *BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "covariance inverse", be.Stage)

	assert.False(t, km.IsValid())
	assert.Panics(t, func() { km.Interpolate(geometry.Point{1}) })

	// dropping the duplicate makes the model usable again
	km.RemoveLastPoint()
	require.NoError(t, km.Build())
	assert.InDelta(t, 1.0, km.Interpolate(geometry.Point{1})[0], 1e-12)
}

func TestKrigingNoSamples(t *testing.T) {
	km := newDerivativeModel(t, 1.0)
	err := km.Build()
	assert.True(t, errors.Is(err, ErrNoSamples))
	assert.False(t, km.IsValid())
}

func TestAddPointInvalidates(t *testing.T) {
	km := newDerivativeModel(t, 1.0, 0)
	require.NoError(t, km.Build())
	km.AddPoint(geometry.Point{1}, geometry.Value{1, 2})
	assert.False(t, km.IsValid())
	assert.Panics(t, func() { km.AddPoint(geometry.Point{1, 2}, geometry.Value{1, 2}) })
	assert.Panics(t, func() { km.AddPoint(geometry.Point{1}, geometry.Value{1}) })
}

func TestMultivariateKriging(t *testing.T) {
	corr, err := NewCorrelationModel(GaussianDerivative, []float64{1})
	require.NoError(t, err)
	mv, err := NewMultivariateKrigingModel(2, 2, RegressionModel{Kind: LinearDerivative}, corr)
	require.NoError(t, err)
	require.True(t, mv.UsesDerivatives())

	// f(x, y) = (x + 2y, x·y)
	f := func(p geometry.Point) ([]float64, *mat.Dense) {
		x, y := p[0], p[1]
		return []float64{x + 2*y, x * y}, mat.NewDense(2, 2, []float64{1, 2, y, x})
	}
	samples := []geometry.Point{{0, 0}, {1, 0}, {0, 1}}
	for _, p := range samples {
		v, g := f(p)
		mv.AddPoint(p, v, g)
	}
	require.NoError(t, mv.Build())
	assert.True(t, mv.IsValid())
	assert.Equal(t, 3, mv.NumberPoints())

	for _, p := range samples {
		want, wantJac := f(p)
		got, jac := mv.Interpolate(p)
		assert.InDeltaSlice(t, want, []float64(got), 1e-9)
		assert.True(t, mat.EqualApprox(jac, wantJac, 1e-9))
	}

	// the linear component is reproduced everywhere
	got, _ := mv.Interpolate(geometry.Point{0.4, 0.3})
	assert.InDelta(t, 1.0, got[0], 1e-9)

	mse := mv.MeanSquaredError(geometry.Point{0, 0})
	assert.Len(t, mse, 2)

	mv.RemoveLastPoint()
	assert.False(t, mv.IsValid())
	assert.Equal(t, 2, mv.NumberPoints())
}

func TestKrigingPersistence(t *testing.T) {
	km := newDerivativeModel(t, 1.0, 0, 1, 2)
	require.NoError(t, km.Build())

	db := store.NewMemory()
	require.NoError(t, km.PutToDatabase(db))

	restored, err := GetKrigingModelFromDatabase(db)
	require.NoError(t, err)
	require.True(t, restored.IsValid())

	au1, bu1 := km.Coefficients()
	au2, bu2 := restored.Coefficients()
	assert.Equal(t, au1, au2)
	assert.Equal(t, bu1, bu2)
	assert.Equal(t, km.Points(), restored.Points())
}

func TestMultivariatePersistence(t *testing.T) {
	corr, err := NewCorrelationModel(GaussianDerivative, []float64{2})
	require.NoError(t, err)
	mv, err := NewMultivariateKrigingModel(1, 2, RegressionModel{Kind: LinearDerivative}, corr)
	require.NoError(t, err)
	mv.AddPoint(geometry.Point{0}, []float64{0, 1}, mat.NewDense(2, 1, []float64{1, 0}))
	mv.AddPoint(geometry.Point{1}, []float64{1, 1}, mat.NewDense(2, 1, []float64{1, 0}))
	require.NoError(t, mv.Build())

	db := store.NewMemory()
	require.NoError(t, mv.PutToDatabase(db))
	restored, err := GetMultivariateKrigingModelFromDatabase(db)
	require.NoError(t, err)

	want, _ := mv.Interpolate(geometry.Point{0.3})
	got, _ := restored.Interpolate(geometry.Point{0.3})
	assert.Equal(t, want, got)
}

func TestMultivariateRestoreOnSharedModels(t *testing.T) {
	corr, err := NewCorrelationModel(GaussianDerivative, []float64{2})
	require.NoError(t, err)
	regression := RegressionModel{Kind: LinearDerivative}
	mv, err := NewMultivariateKrigingModel(1, 1, regression, corr)
	require.NoError(t, err)
	mv.AddPoint(geometry.Point{0}, []float64{0}, mat.NewDense(1, 1, []float64{1}))
	mv.AddPoint(geometry.Point{1}, []float64{1}, mat.NewDense(1, 1, []float64{3}))
	require.NoError(t, mv.Build())

	db := store.NewMemory()
	require.NoError(t, mv.PutToDatabase(db))

	shared, err := NewCorrelationModel(GaussianDerivative, []float64{2})
	require.NoError(t, err)
	restored, err := GetSharedMultivariateKrigingModelFromDatabase(db, regression, shared)
	require.NoError(t, err)
	assert.Same(t, shared, restored.Correlation())
	want, _ := mv.Interpolate(geometry.Point{0.3})
	got, _ := restored.Interpolate(geometry.Point{0.3})
	assert.Equal(t, want, got)

	other, err := NewCorrelationModel(GaussianDerivative, []float64{5})
	require.NoError(t, err)
	_, err = GetSharedMultivariateKrigingModelFromDatabase(db, regression, other)
	assert.ErrorIs(t, err, ErrIncompatibleModels)

	plain, err := NewCorrelationModel(Gaussian, []float64{2})
	require.NoError(t, err)
	_, err = GetSharedMultivariateKrigingModelFromDatabase(db, RegressionModel{Kind: Constant}, plain)
	assert.ErrorIs(t, err, ErrIncompatibleModels)
}
