// Package interpdb is the adaptive surrogate cache: a collection of local
// kriging models indexed by an M-tree, each with an ellipsoid describing
// where it may answer within tolerance.
package interpdb

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"krigcache/internal/logging"
	"krigcache/pkg/geometry"
	"krigcache/pkg/interpolation"
	"krigcache/pkg/mtree"
)

// Hint carries the id of the model that served or nearly served the
// previous query of a caller. NoHint means none.
type Hint int

const NoHint Hint = -1

// Action tells how Insert absorbed a sample.
type Action int

const (
	ActionGrow Action = iota
	ActionExtend
	ActionNew
)

func (a Action) String() string {
	switch a {
	case ActionGrow:
		return "grow"
	case ActionExtend:
		return "extend"
	case ActionNew:
		return "new"
	default:
		return "unknown"
	}
}

// Flags describe how a query went beyond its outcome.
type Flags struct {
	UsedHint         bool
	LostHint         bool
	HitDistanceLimit bool
}

// Result is the outcome of Interpolate.
type Result struct {
	Values           geometry.Value
	Jacobian         *mat.Dense // valueDim×pointDim
	Model            mtree.ObjectID
	Path             Path
	Flags            Flags
	CandidatesTested int
}

// InsertResult is the outcome of Insert.
type InsertResult struct {
	Model      mtree.ObjectID
	Action     Action
	ErrorRatio float64
	Shifted    bool
}

// Stats are running counters since the database was created or loaded.
type Stats struct {
	Queries          int64
	Hits             int64
	HintHits         int64
	KrigingErrorHits int64
	LostHints        int64

	Inserts       int64
	Grown         int64
	Extended      int64
	Created       int64
	BuildFailures int64

	Models int
}

type counters struct {
	queries, hits, hintHits, krigingHits, lostHints atomic.Int64
	inserts, grown, extended, created, failures     atomic.Int64
}

// DB is safe for concurrent use. Queries share a read lock; inserts are
// exclusive.
type DB struct {
	mu sync.RWMutex

	opts        Options
	regression  interpolation.RegressionModel
	correlation *interpolation.CorrelationModel
	ellipsoid   *interpolation.EllipsoidConfig

	tree   *mtree.Tree
	models map[mtree.ObjectID]*Model
	nextID mtree.ObjectID

	counters counters
	logger   *logging.Logger
	metrics  MetricsCollector
}

// New creates an empty database.
func New(opts Options, options ...Option) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	corr, err := interpolation.NewCorrelationModel(opts.Correlation, []float64{opts.Theta})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	regression := interpolation.RegressionModel{Kind: opts.Regression}
	if _, err := interpolation.NewMultivariateKrigingModel(opts.PointDimension, opts.ValueDimension, regression, corr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	ell, err := interpolation.NewEllipsoidConfig(opts.Ellipsoid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	db := &DB{
		opts:        opts,
		regression:  regression,
		correlation: corr,
		ellipsoid:   ell,
		models:      make(map[mtree.ObjectID]*Model),
		logger:      logging.NoopLogger(),
		metrics:     NoopMetricsCollector{},
	}
	for _, opt := range options {
		opt(db)
	}
	db.logger = db.logger.WithComponent("interpdb")
	db.tree = mtree.New(
		mtree.WithMaxEntries(opts.MaxEntriesPerNode),
		mtree.WithLogger(db.logger.WithComponent("mtree")),
	)
	return db, nil
}

// Options returns the parameters the database was created with
func (db *DB) Options() Options { return db.opts }

// NumberModels returns the number of local models.
func (db *DB) NumberModels() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.models)
}

// Model returns the model with the given id.
func (db *DB) Model(id mtree.ObjectID) (*Model, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m, ok := db.models[id]
	return m, ok
}

func (db *DB) checkPoint(point geometry.Point) {
	if point.Dim() != db.opts.PointDimension {
		panic(fmt.Sprintf("interpdb: point has dimension %d, database expects %d", point.Dim(), db.opts.PointDimension))
	}
}

// Interpolate answers a query from the cached models if one of them is
// accurate enough at point. The hint model is tried first, then the
// nearest models within MaxQueryPointModelDistance.
//
// On a hit hint is set to the answering model; on a miss it is set to the
// nearest model that was tested, or NoHint. A nil hint is allowed.
func (db *DB) Interpolate(point geometry.Point, hint *Hint) (Result, bool) {
	db.checkPoint(point)
	db.mu.RLock()
	defer db.mu.RUnlock()

	res := Result{Model: mtree.UndefinedObject}
	tested := make(map[mtree.ObjectID]bool)
	nearest, nearestDist := mtree.UndefinedObject, 0.0
	consider := func(m *Model, dist float64) bool {
		tested[m.ID] = true
		res.CandidatesTested++
		path, hitLimit := m.accept(point, &db.opts)
		if hitLimit {
			res.Flags.HitDistanceLimit = true
		}
		if path != PathNone {
			res.Values, res.Jacobian = m.predict(point)
			res.Model, res.Path = m.ID, path
			return true
		}
		if nearest == mtree.UndefinedObject || dist < nearestDist {
			nearest, nearestDist = m.ID, dist
		}
		return false
	}

	hit := false
	if hint != nil && *hint != NoHint {
		if m, ok := db.models[mtree.ObjectID(*hint)]; ok {
			res.Flags.UsedHint = true
			hit = consider(m, m.Anchor.Distance(point))
		} else {
			res.Flags.LostHint = true
		}
	}
	if !hit {
		for _, c := range db.nearest(point, tested) {
			if hit = consider(db.models[c.Object], c.Distance); hit {
				break
			}
		}
	}

	db.recordQuery(&res, hit)
	if hint != nil {
		switch {
		case hit:
			*hint = Hint(res.Model)
		case nearest != mtree.UndefinedObject:
			*hint = Hint(nearest)
		default:
			*hint = NoHint
		}
	}
	return res, hit
}

func (db *DB) recordQuery(res *Result, hit bool) {
	db.counters.queries.Add(1)
	if res.Flags.LostHint {
		db.counters.lostHints.Add(1)
	}
	if hit {
		db.counters.hits.Add(1)
		if res.Flags.UsedHint && res.CandidatesTested == 1 {
			db.counters.hintHits.Add(1)
		}
		if res.Path == PathKrigingError {
			db.counters.krigingHits.Add(1)
		}
	}
	db.metrics.RecordInterpolate(hit, res.Path, res.CandidatesTested)
	db.logger.LogInterpolate(int(res.Model), hit, res.CandidatesTested, res.Path.String())
}

// Insert adds a sample the caller computed after a miss. values has
// ValueDimension entries and gradient is ValueDimension×PointDimension
// with gradient[j][i] = ∂f_j/∂x_i.
//
// The sample grows the region of the first candidate that already predicts
// it within tolerance; otherwise it extends the nearest candidate with
// room for more samples; otherwise it seeds a new model. hint is updated to
// the model that absorbed the sample.
func (db *DB) Insert(hint *Hint, point geometry.Point, values []float64, gradient *mat.Dense) (InsertResult, error) {
	if err := db.checkSample(point, values, gradient); err != nil {
		return InsertResult{}, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	candidates := db.insertCandidates(hint, point)

	res, ok := db.grow(candidates, point, values)
	if !ok {
		res, ok = db.extend(candidates, point, values, gradient)
	}
	if !ok {
		var err error
		if res, err = db.create(point, values, gradient); err != nil {
			return InsertResult{}, err
		}
	}

	db.counters.inserts.Add(1)
	switch res.Action {
	case ActionGrow:
		db.counters.grown.Add(1)
	case ActionExtend:
		db.counters.extended.Add(1)
	case ActionNew:
		db.counters.created.Add(1)
	}
	db.metrics.RecordInsert(res.Action)
	db.metrics.SetModels(len(db.models))
	db.logger.LogInsert(int(res.Model), res.Action.String(), db.models[res.Model].NumberSamples())
	if hint != nil {
		*hint = Hint(res.Model)
	}
	return res, nil
}

func (db *DB) checkSample(point geometry.Point, values []float64, gradient *mat.Dense) error {
	if point.Dim() != db.opts.PointDimension {
		return &DimensionError{What: "point", Expected: db.opts.PointDimension, Actual: point.Dim()}
	}
	if len(values) != db.opts.ValueDimension {
		return &DimensionError{What: "value", Expected: db.opts.ValueDimension, Actual: len(values)}
	}
	if gradient == nil {
		return ErrMissingGradient
	}
	r, c := gradient.Dims()
	if r != db.opts.ValueDimension {
		return &DimensionError{What: "gradient rows", Expected: db.opts.ValueDimension, Actual: r}
	}
	if c != db.opts.PointDimension {
		return &DimensionError{What: "gradient columns", Expected: db.opts.PointDimension, Actual: c}
	}
	return nil
}

// nearest returns up to MaxNumberSearchModels models within
// MaxQueryPointModelDistance of point, nearest first, leaving out the ones
// in skip.
func (db *DB) nearest(point geometry.Point, skip map[mtree.ObjectID]bool) []mtree.SearchResult {
	limit := db.opts.MaxNumberSearchModels
	found := db.tree.Nearest(point, db.opts.MaxQueryPointModelDistance, limit+len(skip))
	out := make([]mtree.SearchResult, 0, limit)
	for _, c := range found {
		if len(out) == limit {
			break
		}
		if !skip[c.Object] {
			out = append(out, c)
		}
	}
	return out
}

// insertCandidates returns the hint model followed by the nearest models,
// without repeats.
func (db *DB) insertCandidates(hint *Hint, point geometry.Point) []*Model {
	var out []*Model
	seen := make(map[mtree.ObjectID]bool)
	if hint != nil && *hint != NoHint {
		if m, ok := db.models[mtree.ObjectID(*hint)]; ok {
			out = append(out, m)
			seen[m.ID] = true
		}
	}
	for _, c := range db.nearest(point, seen) {
		out = append(out, db.models[c.Object])
	}
	return out
}

func (db *DB) grow(candidates []*Model, point geometry.Point, values []float64) (InsertResult, bool) {
	for _, m := range candidates {
		_, hitLimit, est := m.Ellipsoid.TestInterp(point)
		if hitLimit {
			continue
		}
		ratio := m.errorRatio(point, values, db.opts.Tolerance)
		if ratio > 1 {
			continue
		}
		shifted, _ := m.Ellipsoid.Grow(est, point, ratio)
		return InsertResult{Model: m.ID, Action: ActionGrow, ErrorRatio: ratio, Shifted: shifted}, true
	}
	return InsertResult{}, false
}

func (db *DB) extend(candidates []*Model, point geometry.Point, values []float64, gradient *mat.Dense) (InsertResult, bool) {
	for _, m := range candidates {
		if m.NumberSamples() >= db.opts.MaxKrigingModelSize {
			continue
		}
		m.Kriging.AddPoint(point, values, gradient)
		err := m.Kriging.Build()
		if err == nil {
			return InsertResult{Model: m.ID, Action: ActionExtend}, true
		}
		db.buildFailed(m.ID, m.NumberSamples(), err)
		m.Kriging.RemoveLastPoint()
		if err := m.Kriging.Build(); err != nil {
			// A model that built before the sample was added builds again
			// from the same data.
			panic(fmt.Sprintf("interpdb: model %d no longer builds after rollback: %v", m.ID, err))
		}
	}
	return InsertResult{}, false
}

func (db *DB) create(point geometry.Point, values []float64, gradient *mat.Dense) (InsertResult, error) {
	id := db.nextID
	m, err := db.newModel(id, point, values, gradient)
	if err != nil {
		db.buildFailed(id, 1, err)
		return InsertResult{}, fmt.Errorf("%w: %w", ErrModelBuild, err)
	}
	if err := db.tree.Insert(id, m.Anchor); err != nil {
		return InsertResult{}, err
	}
	db.models[id] = m
	db.nextID++
	return InsertResult{Model: id, Action: ActionNew}, nil
}

func (db *DB) newModel(id mtree.ObjectID, point geometry.Point, values []float64, gradient *mat.Dense) (*Model, error) {
	km, err := interpolation.NewMultivariateKrigingModel(db.opts.PointDimension, db.opts.ValueDimension, db.regression, db.correlation)
	if err != nil {
		return nil, err
	}
	km.AddPoint(point, values, gradient)
	if err := km.Build(); err != nil {
		return nil, err
	}
	return &Model{
		ID:        id,
		Anchor:    point.Clone(),
		Kriging:   km,
		Ellipsoid: interpolation.NewEllipsoidModel(db.ellipsoid, point, values, gradient),
	}, nil
}

func (db *DB) buildFailed(id mtree.ObjectID, samples int, err error) {
	db.counters.failures.Add(1)
	db.metrics.RecordBuildFailure()
	db.logger.LogBuildFailure(int(id), samples, err)
}

// Stats returns a snapshot of the counters.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c := &db.counters
	return Stats{
		Queries:          c.queries.Load(),
		Hits:             c.hits.Load(),
		HintHits:         c.hintHits.Load(),
		KrigingErrorHits: c.krigingHits.Load(),
		LostHints:        c.lostHints.Load(),
		Inserts:          c.inserts.Load(),
		Grown:            c.grown.Load(),
		Extended:         c.extended.Load(),
		Created:          c.created.Load(),
		BuildFailures:    c.failures.Load(),
		Models:           len(db.models),
	}
}

// TreeStatistics returns per-level statistics of the model index.
func (db *DB) TreeStatistics() []mtree.LevelStatistic {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Statistics()
}

// TreeSummary returns aggregate figures of the model index.
func (db *DB) TreeSummary() mtree.Summary {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Summary()
}

// CheckConsistency validates the index and its agreement with the model
// table. Index violations are returned as is; a model table mismatch is
// reported as an error.
func (db *DB) CheckConsistency() ([]mtree.Violation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	violations := db.tree.CheckConsistency()
	if db.tree.Len() != len(db.models) {
		return violations, fmt.Errorf("%w: index holds %d models, table holds %d", ErrCorrupt, db.tree.Len(), len(db.models))
	}
	for id, m := range db.models {
		if !db.tree.Contains(id) {
			return violations, fmt.Errorf("%w: model %d is not indexed", ErrCorrupt, id)
		}
		if !m.Kriging.IsValid() {
			return violations, fmt.Errorf("%w: model %d is not built", ErrCorrupt, id)
		}
	}
	return violations, nil
}
