// Package driver runs a stream of function evaluations through the
// surrogate cache the way a simulation would: query first, and on a miss
// hand the true evaluation back to the cache.
package driver

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"krigcache/internal/logging"
	"krigcache/internal/models"
	"krigcache/pkg/geometry"
	"krigcache/pkg/interpdb"
)

// Params holds the batch run parameters.
type Params struct {
	// PointsFile holds one record of pointDim numbers per sample.
	PointsFile string

	// ValuesFile holds, per sample, valueDim values followed by the
	// pointDim·valueDim gradient entries laid out gradient[i*valueDim+j] =
	// ∂f_j/∂x_i.
	ValuesFile string

	// ChunkSize is the number of samples read at a time.
	ChunkSize int

	// PointScaling divides each input coordinate. Empty means 1.
	PointScaling []float64

	// ValueScaling divides each output. Empty means 1.
	ValueScaling []float64
}

// RunMetrics summarises a batch run. Errors are measured in scaled units
// on the samples the cache answered.
type RunMetrics struct {
	Points          int
	Hits            int
	Inserts         int
	Grown           int
	Extended        int
	NewModels       int
	ToleranceMisses int

	// MaxError is the largest absolute error of an answered sample
	MaxError float64

	// RMSE is the root mean square error over all answered outputs
	RMSE float64

	HitRate  float64
	Duration time.Duration
}

// Driver feeds the samples of a batch run through a database.
type Driver struct {
	params *Params
	db     *interpdb.DB
	logger *logging.Logger

	pointDim, valueDim         int
	pointScaling, valueScaling []float64

	hint      interpdb.Hint
	truth     []float64
	predicted []float64
	metrics   RunMetrics
}

// NewDriver creates a driver for db.
func NewDriver(params *Params, db *interpdb.DB, logger *logging.Logger) (*Driver, error) {
	if params.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", params.ChunkSize)
	}
	if logger == nil {
		logger = logging.NoopLogger()
	}
	opts := db.Options()
	d := &Driver{
		params:   params,
		db:       db,
		logger:   logger.WithComponent("driver"),
		pointDim: opts.PointDimension,
		valueDim: opts.ValueDimension,
		hint:     interpdb.NoHint,
	}
	var err error
	if d.pointScaling, err = scaling("point", params.PointScaling, d.pointDim); err != nil {
		return nil, err
	}
	if d.valueScaling, err = scaling("value", params.ValueScaling, d.valueDim); err != nil {
		return nil, err
	}
	return d, nil
}

func scaling(what string, factors []float64, dim int) ([]float64, error) {
	if len(factors) == 0 {
		out := make([]float64, dim)
		floats.AddConst(1, out)
		return out, nil
	}
	if len(factors) != dim {
		return nil, fmt.Errorf("%s scaling has %d factors, dimension is %d", what, len(factors), dim)
	}
	for _, f := range factors {
		if f == 0 || math.IsNaN(f) {
			return nil, fmt.Errorf("%s scaling factors must be non-zero numbers", what)
		}
	}
	return append([]float64(nil), factors...), nil
}

// Process runs the whole batch. Reading and processing overlap: one
// goroutine reads chunks ahead while the other feeds them to the database.
func (d *Driver) Process(ctx context.Context) error {
	start := time.Now()
	d.logger.Info("starting batch run",
		"points_file", d.params.PointsFile,
		"values_file", d.params.ValuesFile,
		"chunk_size", d.params.ChunkSize)

	chunks := make(chan models.Chunk, 2)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		return d.readChunks(gctx, chunks)
	})
	g.Go(func() error {
		for chunk := range chunks {
			if err := d.processChunk(gctx, chunk); err != nil {
				return err
			}
		}
		return nil
	})
	err := g.Wait()

	d.finalize(time.Since(start))
	if err != nil {
		return fmt.Errorf("batch run failed after %d points: %w", d.metrics.Points, err)
	}
	d.logger.Info("batch run complete",
		"points", d.metrics.Points,
		"hits", d.metrics.Hits,
		"models", d.db.NumberModels(),
		"hit_rate", d.metrics.HitRate,
		"max_error", d.metrics.MaxError)
	return nil
}

func (d *Driver) processChunk(ctx context.Context, chunk models.Chunk) error {
	hitsBefore := d.metrics.Hits
	for _, s := range chunk.Samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.processSample(s); err != nil {
			return fmt.Errorf("sample %d: %w", s.Index, err)
		}
	}
	d.logger.Debug("chunk processed",
		"chunk", chunk.Index,
		"samples", len(chunk.Samples),
		"hits", d.metrics.Hits-hitsBefore)
	return nil
}

func (d *Driver) processSample(s models.Sample) error {
	d.metrics.Points++
	res, hit := d.db.Interpolate(s.Point, &d.hint)
	if hit {
		d.metrics.Hits++
		diff := res.Values.MaxAbsDiff(geometry.Value(s.Values))
		if diff > d.db.Options().Tolerance {
			d.metrics.ToleranceMisses++
		}
		d.metrics.MaxError = math.Max(d.metrics.MaxError, diff)
		d.truth = append(d.truth, s.Values...)
		d.predicted = append(d.predicted, res.Values...)
		return nil
	}

	ins, err := d.db.Insert(&d.hint, s.Point, s.Values, s.Gradient)
	if err != nil {
		return err
	}
	d.metrics.Inserts++
	switch ins.Action {
	case interpdb.ActionGrow:
		d.metrics.Grown++
	case interpdb.ActionExtend:
		d.metrics.Extended++
	case interpdb.ActionNew:
		d.metrics.NewModels++
	}
	return nil
}

func (d *Driver) finalize(elapsed time.Duration) {
	d.metrics.Duration = elapsed
	d.metrics.RMSE = calculateRMSE(d.truth, d.predicted)
	if d.metrics.Points > 0 {
		d.metrics.HitRate = float64(d.metrics.Hits) / float64(d.metrics.Points)
	}
}

// GetMetrics returns the metrics of the last run
func (d *Driver) GetMetrics() RunMetrics {
	return d.metrics
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, predicted []float64) float64 {
	n := len(original)
	if n != len(predicted) || n == 0 {
		return 0
	}
	diff := make([]float64, n)
	floats.SubTo(diff, original, predicted)
	return floats.Norm(diff, 2) / math.Sqrt(float64(n))
}
