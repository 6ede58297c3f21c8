package interpdb

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
	"krigcache/pkg/interpolation"
	"krigcache/pkg/mtree"
	"krigcache/pkg/store"
)

// quadratic is f(x) = x² + x with its derivative.
func quadratic(x float64) (geometry.Point, []float64, *mat.Dense) {
	return geometry.Point{x}, []float64{x*x + x}, mat.NewDense(1, 1, []float64{2*x + 1})
}

func newTestDB(t *testing.T, modify func(*Options), options ...Option) *DB {
	t.Helper()
	opts := DefaultOptions(1, 1)
	opts.Tolerance = 0.01
	opts.MaxNumberSearchModels = 4
	opts.MaxEntriesPerNode = 4
	if modify != nil {
		modify(&opts)
	}
	db, err := New(opts, options...)
	require.NoError(t, err)
	return db
}

// train runs the query-then-insert loop of a simulation over n evenly
// spaced points of [0, 1].
func train(t *testing.T, db *DB, n int) {
	t.Helper()
	hint := NoHint
	for i := 0; i < n; i++ {
		p, v, g := quadratic(float64(i) / float64(n-1))
		if _, hit := db.Interpolate(p, &hint); hit {
			continue
		}
		_, err := db.Insert(&hint, p, v, g)
		require.NoError(t, err)
	}
}

func TestInterpolateEmpty(t *testing.T) {
	db := newTestDB(t, nil)
	hint := NoHint
	res, hit := db.Interpolate(geometry.Point{0.3}, &hint)
	assert.False(t, hit)
	assert.Equal(t, 0, res.CandidatesTested)
	assert.Equal(t, NoHint, hint)
}

// TestCacheAccuracy trains on a smooth function and checks that queries
// between the training points are answered within tolerance.
func TestCacheAccuracy(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = 1 })
	const n = 50
	train(t, db, n)

	stats := db.Stats()
	assert.Equal(t, int64(0), stats.BuildFailures)
	assert.Equal(t, int64(0), stats.Extended)
	assert.Greater(t, stats.Grown, stats.Created)
	assert.Equal(t, stats.Models, int(stats.Created))

	h := 1.0 / float64(n-1)
	hits := 0
	hint := NoHint
	for i := 0; i < n-1; i++ {
		x := (float64(i) + 0.5) * h
		res, hit := db.Interpolate(geometry.Point{x}, &hint)
		if !hit {
			continue
		}
		hits++
		_, want, _ := quadratic(x)
		assert.LessOrEqual(t, math.Abs(res.Values[0]-want[0]), db.Options().Tolerance+1e-5, "x=%g", x)
		assert.Equal(t, Hint(res.Model), hint)
	}
	assert.GreaterOrEqual(t, hits, 45)

	violations, err := db.CheckConsistency()
	require.NoError(t, err)
	assert.Empty(t, violations)
}

// TestNoisyCacheAccuracy trains on 50 noisy samples of sin(3x) and checks
// that 50 fresh queries are mostly answered within tolerance of the
// noise-free function, with and without model extension.
func TestNoisyCacheAccuracy(t *testing.T) {
	const (
		n     = 50
		noise = 1e-4
	)
	f := func(x float64) float64 { return math.Sin(3 * x) }

	for _, size := range []int{1, 4} {
		t.Run(fmt.Sprintf("modelSize=%d", size), func(t *testing.T) {
			db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = size })
			rng := rand.New(rand.NewSource(5))

			hint := NoHint
			for i := 0; i < n; i++ {
				x := float64(i) / float64(n-1)
				p := geometry.Point{x}
				if _, hit := db.Interpolate(p, &hint); hit {
					continue
				}
				v := []float64{f(x) + noise*rng.NormFloat64()}
				g := mat.NewDense(1, 1, []float64{3 * math.Cos(3*x)})
				_, err := db.Insert(&hint, p, v, g)
				require.NoError(t, err)
			}
			stats := db.Stats()
			assert.Equal(t, int64(0), stats.BuildFailures)
			if size > 1 {
				assert.Positive(t, stats.Extended)
			}

			hits := 0
			hint = NoHint
			for i := 0; i < n; i++ {
				x := (float64(i) + 0.5) / n
				res, hit := db.Interpolate(geometry.Point{x}, &hint)
				if !hit {
					continue
				}
				hits++
				assert.LessOrEqual(t, math.Abs(res.Values[0]-f(x)), db.Options().Tolerance+10*noise, "x=%g", x)
			}
			assert.GreaterOrEqual(t, hits, 45)

			violations, err := db.CheckConsistency()
			require.NoError(t, err)
			assert.Empty(t, violations)
		})
	}
}

func TestInsertActions(t *testing.T) {
	db := newTestDB(t, func(o *Options) {
		o.MaxKrigingModelSize = 2
		o.Ellipsoid.MaxInputDistance = 0.1
	})
	hint := NoHint

	p, v, g := quadratic(0)
	res, err := db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	assert.Equal(t, ActionNew, res.Action)
	first := res.Model
	assert.Equal(t, Hint(first), hint)

	// Beyond the distance limit the region cannot grow, so the sample goes
	// into the model while it has room.
	p, v, g = quadratic(0.5)
	res, err = db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	assert.Equal(t, ActionExtend, res.Action)
	assert.Equal(t, first, res.Model)

	p, v, g = quadratic(1)
	res, err = db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	assert.Equal(t, ActionNew, res.Action)
	assert.NotEqual(t, first, res.Model)

	m, ok := db.Model(first)
	require.True(t, ok)
	assert.Equal(t, 2, m.NumberSamples())
	assert.Equal(t, 2, db.NumberModels())

	// Close to the second model the linear prediction is within tolerance.
	p, v, g = quadratic(1.01)
	res, err = db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	assert.Equal(t, ActionGrow, res.Action)
	assert.LessOrEqual(t, res.ErrorRatio, 1.0)

	stats := db.Stats()
	assert.Equal(t, int64(4), stats.Inserts)
	assert.Equal(t, int64(1), stats.Grown)
	assert.Equal(t, int64(1), stats.Extended)
	assert.Equal(t, int64(2), stats.Created)
}

func TestInsertRollsBackFailedBuild(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = 3 })
	hint := NoHint

	res, err := db.Insert(&hint, geometry.Point{0}, []float64{0}, mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	first := res.Model

	// A second, contradicting sample at the same point makes the
	// covariance singular.
	res, err = db.Insert(&hint, geometry.Point{0}, []float64{1}, mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.Equal(t, ActionNew, res.Action)

	m, ok := db.Model(first)
	require.True(t, ok)
	assert.Equal(t, 1, m.NumberSamples())
	assert.True(t, m.Kriging.IsValid())
	assert.Equal(t, int64(1), db.Stats().BuildFailures)

	violations, err := db.CheckConsistency()
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestKrigingErrorPath(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.Tolerance = 1e-3 })
	hint := NoHint
	for _, x := range []float64{0, 0.5} {
		p, v, g := quadratic(x)
		_, err := db.Insert(&hint, p, v, g)
		require.NoError(t, err)
	}
	require.Equal(t, 1, db.NumberModels())

	// At a sample the kriging variance vanishes even though the point is
	// far outside the ellipsoid.
	res, hit := db.Interpolate(geometry.Point{0.5}, &hint)
	require.True(t, hit)
	assert.Equal(t, PathKrigingError, res.Path)
	assert.InDelta(t, 0.75, res.Values[0], 1e-6)
	r, c := res.Jacobian.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, c)
	assert.Equal(t, int64(1), db.Stats().KrigingErrorHits)
}

func TestHints(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = 1 })
	train(t, db, 20)

	stale := Hint(1000)
	_, _ = db.Interpolate(geometry.Point{0.5}, &stale)
	assert.NotEqual(t, Hint(1000), stale)
	assert.Equal(t, int64(1), db.Stats().LostHints)

	hint := NoHint
	res, hit := db.Interpolate(geometry.Point{0.51}, &hint)
	require.True(t, hit)
	res2, hit := db.Interpolate(geometry.Point{0.511}, &hint)
	require.True(t, hit)
	assert.True(t, res2.Flags.UsedHint)
	assert.Equal(t, res.Model, res2.Model)
	assert.Equal(t, 1, res2.CandidatesTested)

	// A nil hint is allowed.
	_, hit = db.Interpolate(geometry.Point{0.51}, nil)
	assert.True(t, hit)
}

func TestMissSetsHintToNearestCandidate(t *testing.T) {
	db := newTestDB(t, nil)
	hint := NoHint
	p, v, g := quadratic(0)
	res, err := db.Insert(&hint, p, v, g)
	require.NoError(t, err)

	hint = NoHint
	_, hit := db.Interpolate(geometry.Point{0.4}, &hint)
	assert.False(t, hit)
	assert.Equal(t, Hint(res.Model), hint)
}

func TestDistanceLimit(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.Ellipsoid.MaxInputDistance = 0.05 })
	hint := NoHint
	p, v, g := quadratic(0)
	_, err := db.Insert(&hint, p, v, g)
	require.NoError(t, err)

	res, hit := db.Interpolate(geometry.Point{0.2}, &hint)
	assert.False(t, hit)
	assert.True(t, res.Flags.HitDistanceLimit)
}

// TestSearchLimitCountsModelsBeyondHint checks that a tested hint does not
// use up one of the MaxNumberSearchModels nearest candidates.
func TestSearchLimitCountsModelsBeyondHint(t *testing.T) {
	db := newTestDB(t, func(o *Options) {
		o.MaxKrigingModelSize = 1
		o.MaxNumberSearchModels = 1
		o.Ellipsoid.MaxInputDistance = 0.1
	})
	var ids []mtree.ObjectID
	for _, x := range []float64{0, 0.5, 1} {
		p, v, g := quadratic(x)
		res, err := db.Insert(nil, p, v, g)
		require.NoError(t, err)
		require.Equal(t, ActionNew, res.Action)
		ids = append(ids, res.Model)
	}

	hint := Hint(ids[0])
	res, hit := db.Interpolate(geometry.Point{0.2}, &hint)
	assert.False(t, hit)
	assert.True(t, res.Flags.UsedHint)
	assert.True(t, res.Flags.HitDistanceLimit)
	assert.Equal(t, 2, res.CandidatesTested)
	assert.Equal(t, Hint(ids[0]), hint)

	res, _ = db.Interpolate(geometry.Point{0.2}, nil)
	assert.Equal(t, 1, res.CandidatesTested)

	hint = Hint(ids[0])
	candidates := db.insertCandidates(&hint, geometry.Point{0.2})
	require.Len(t, candidates, 2)
	assert.Equal(t, ids[0], candidates[0].ID)
	assert.Equal(t, ids[1], candidates[1].ID)
}

func TestInsertValidation(t *testing.T) {
	db := newTestDB(t, nil)
	grad := mat.NewDense(1, 1, []float64{1})

	var dimErr *DimensionError
	_, err := db.Insert(nil, geometry.Point{0, 1}, []float64{0}, grad)
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, "point", dimErr.What)

	_, err = db.Insert(nil, geometry.Point{0}, []float64{0, 1}, grad)
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, "value", dimErr.What)

	_, err = db.Insert(nil, geometry.Point{0}, []float64{0}, mat.NewDense(1, 2, nil))
	require.True(t, errors.As(err, &dimErr))

	_, err = db.Insert(nil, geometry.Point{0}, []float64{0}, nil)
	assert.ErrorIs(t, err, ErrMissingGradient)
	assert.Equal(t, 0, db.NumberModels())

	assert.Panics(t, func() { db.Interpolate(geometry.Point{0, 0}, nil) })
}

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero point dimension", func(o *Options) { o.PointDimension = 0 }},
		{"zero model size", func(o *Options) { o.MaxKrigingModelSize = 0 }},
		{"negative tolerance", func(o *Options) { o.Tolerance = -1 }},
		{"NaN theta", func(o *Options) { o.Theta = math.NaN() }},
		{"tiny node", func(o *Options) { o.MaxEntriesPerNode = 1 }},
		{"incompatible models", func(o *Options) { o.Regression = interpolation.LinearDerivative; o.Correlation = interpolation.Gaussian }},
		{"linear trend from one sample", func(o *Options) {
			o.Regression = interpolation.Linear
			o.Correlation = interpolation.Gaussian
		}},
		{"unknown regression", func(o *Options) { o.Regression = interpolation.RegressionKind(9) }},
		{"unknown correlation", func(o *Options) { o.Correlation = interpolation.CorrelationKind(9) }},
		{"bad ellipsoid", func(o *Options) { o.Ellipsoid.GrowthHeadroom = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions(2, 1)
			tt.modify(&opts)
			_, err := New(opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

// TestPlainKriging checks that a database without derivative models
// creates a model from its first sample and answers from it.
func TestPlainKriging(t *testing.T) {
	db := newTestDB(t, func(o *Options) {
		o.Regression = interpolation.Constant
		o.Correlation = interpolation.Gaussian
	})
	hint := NoHint
	p, v, g := quadratic(0.5)
	res, err := db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	assert.Equal(t, ActionNew, res.Action)
	assert.Equal(t, 1, db.NumberModels())

	out, hit := db.Interpolate(p, &hint)
	require.True(t, hit)
	assert.InDelta(t, v[0], out.Values[0], 1e-12)
}

func TestMultivariate(t *testing.T) {
	opts := DefaultOptions(2, 2)
	opts.Tolerance = 0.01
	db, err := New(opts)
	require.NoError(t, err)

	// f(x, y) = (x + 2y, xy)
	sample := func(x, y float64) (geometry.Point, []float64, *mat.Dense) {
		return geometry.Point{x, y}, []float64{x + 2*y, x * y}, mat.NewDense(2, 2, []float64{1, 2, y, x})
	}
	hint := NoHint
	p, v, g := sample(0.5, 0.5)
	_, err = db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	p, v, g = sample(0.52, 0.51)
	res, err := db.Insert(&hint, p, v, g)
	require.NoError(t, err)
	assert.Equal(t, ActionGrow, res.Action)

	out, hit := db.Interpolate(geometry.Point{0.51, 0.505}, &hint)
	require.True(t, hit)
	assert.InDelta(t, 0.51+2*0.505, out.Values[0], 1e-9)
	assert.InDelta(t, 0.51*0.505, out.Values[1], 0.01)
}

func TestSaveLoad(t *testing.T) {
	db := newTestDB(t, func(o *Options) {
		o.MaxKrigingModelSize = 2
		o.MaxQueryPointModelDistance = 0.5
	})
	train(t, db, 30)

	backend, err := store.OpenBadger(store.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	s := store.New(backend, store.CompressionZSTD)
	defer s.Close()
	require.NoError(t, db.Save(s))

	loaded, err := Load(s)
	require.NoError(t, err)
	assert.Equal(t, db.NumberModels(), loaded.NumberModels())
	assert.Equal(t, db.Options(), loaded.Options())
	for id, m := range loaded.models {
		assert.Same(t, loaded.correlation, m.Kriging.Correlation(), "model %d", id)
		assert.Equal(t, loaded.regression, m.Kriging.Regression())
	}

	for i := 0; i < 29; i++ {
		x := (float64(i) + 0.5) / 29
		want, wantHit := db.Interpolate(geometry.Point{x}, nil)
		got, gotHit := loaded.Interpolate(geometry.Point{x}, nil)
		require.Equal(t, wantHit, gotHit, "x=%g", x)
		if wantHit {
			assert.Equal(t, want.Model, got.Model)
			assert.InDelta(t, want.Values[0], got.Values[0], 1e-9)
		}
	}

	// Ids keep increasing after a reload.
	hint := NoHint
	res, err := loaded.Insert(&hint, geometry.Point{5}, []float64{30}, mat.NewDense(1, 1, []float64{11}))
	require.NoError(t, err)
	assert.Equal(t, ActionNew, res.Action)
	_, exists := db.Model(res.Model)
	assert.False(t, exists)
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.PutInt("version", 99))
	_, err := Load(s)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsModelsBuiltOnOtherCorrelation(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = 1 })
	train(t, db, 10)
	s := store.NewMemory()
	require.NoError(t, db.Save(s))

	o := db.Options()
	require.NoError(t, s.PutDoubleArray("tuning", []float64{2 * o.Theta, o.MeanErrorFactor, o.Tolerance, o.MaxQueryPointModelDistance}))
	_, err := Load(s)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPrometheusCollector(reg)
	db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = 1 }, WithMetrics(collector))
	train(t, db, 20)

	stats := db.Stats()
	assert.Equal(t, float64(stats.Created), testutil.ToFloat64(collector.inserts.WithLabelValues("new")))
	assert.Equal(t, float64(stats.Grown), testutil.ToFloat64(collector.inserts.WithLabelValues("grow")))
	assert.Equal(t, float64(stats.Models), testutil.ToFloat64(collector.models))
	assert.Equal(t, float64(stats.Queries-stats.Hits), testutil.ToFloat64(collector.interpolations.WithLabelValues("miss")))

	n, err := testutil.GatherAndCount(reg, "krigcache_candidates_tested")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentAccess(t *testing.T) {
	db := newTestDB(t, func(o *Options) { o.MaxKrigingModelSize = 1 })
	train(t, db, 10)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			hint := NoHint
			for i := 0; i < 200; i++ {
				x := float64((i*7+w)%100) / 100
				if _, hit := db.Interpolate(geometry.Point{x}, &hint); !hit && w == 0 {
					p, v, g := quadratic(x)
					_, err := db.Insert(&hint, p, v, g)
					assert.NoError(t, err)
				}
			}
		}(w)
	}
	wg.Wait()

	violations, err := db.CheckConsistency()
	require.NoError(t, err)
	assert.Empty(t, violations)
}
