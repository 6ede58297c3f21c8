package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"krigcache/internal/models"
)

// ErrRecordMismatch is returned when the points and values files do not
// hold the same number of records.
var ErrRecordMismatch = errors.New("points and values files have different record counts")

// numberReader yields whitespace-separated numbers from a stream.
type numberReader struct {
	name    string
	scanner *bufio.Scanner
	count   int
}

func newNumberReader(name string, r io.Reader) *numberReader {
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanWords)
	return &numberReader{name: name, scanner: s}
}

// next fills dst. It returns io.EOF if the stream ends before the first
// number and io.ErrUnexpectedEOF if it ends inside the record.
func (n *numberReader) next(dst []float64) error {
	for i := range dst {
		if !n.scanner.Scan() {
			if err := n.scanner.Err(); err != nil {
				return fmt.Errorf("%s: %w", n.name, err)
			}
			if i == 0 {
				return io.EOF
			}
			return fmt.Errorf("%s: record %d: %w", n.name, n.count, io.ErrUnexpectedEOF)
		}
		v, err := strconv.ParseFloat(n.scanner.Text(), 64)
		if err != nil {
			return fmt.Errorf("%s: record %d: %w", n.name, n.count, err)
		}
		dst[i] = v
	}
	n.count++
	return nil
}

// sampleReader pairs point and value records and applies scaling.
type sampleReader struct {
	points, values *numberReader
	pointDim       int
	valueDim       int
	pointScaling   []float64
	valueScaling   []float64
	index          int
}

// read returns the next sample, or io.EOF when both files are exhausted.
func (r *sampleReader) read() (models.Sample, error) {
	p := make([]float64, r.pointDim)
	perr := r.points.next(p)
	if perr != nil && perr != io.EOF {
		return models.Sample{}, perr
	}
	raw := make([]float64, r.valueDim*(1+r.pointDim))
	verr := r.values.next(raw)
	if verr != nil && verr != io.EOF {
		return models.Sample{}, verr
	}
	switch {
	case perr == io.EOF && verr == io.EOF:
		return models.Sample{}, io.EOF
	case perr == io.EOF || verr == io.EOF:
		return models.Sample{}, fmt.Errorf("%w: %d points, %d values", ErrRecordMismatch, r.points.count, r.values.count)
	}

	m, d := r.valueDim, r.pointDim
	values := raw[:m]
	grad := mat.NewDense(m, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < m; j++ {
			grad.Set(j, i, raw[m+i*m+j]*r.pointScaling[i]/r.valueScaling[j])
		}
	}
	for i := range p {
		p[i] /= r.pointScaling[i]
	}
	for j := range values {
		values[j] /= r.valueScaling[j]
	}

	s := models.Sample{Index: r.index, Point: p, Values: values, Gradient: grad}
	r.index++
	return s, nil
}

// readChunks streams chunks of up to chunkSize samples until both files
// are exhausted or ctx is cancelled.
func (d *Driver) readChunks(ctx context.Context, out chan<- models.Chunk) error {
	pf, err := os.Open(d.params.PointsFile)
	if err != nil {
		return fmt.Errorf("failed to open points file: %w", err)
	}
	defer pf.Close()
	vf, err := os.Open(d.params.ValuesFile)
	if err != nil {
		return fmt.Errorf("failed to open values file: %w", err)
	}
	defer vf.Close()

	r := &sampleReader{
		points:       newNumberReader(d.params.PointsFile, pf),
		values:       newNumberReader(d.params.ValuesFile, vf),
		pointDim:     d.pointDim,
		valueDim:     d.valueDim,
		pointScaling: d.pointScaling,
		valueScaling: d.valueScaling,
	}

	for index := 0; ; index++ {
		chunk := models.Chunk{Index: index}
		var readErr error
		for len(chunk.Samples) < d.params.ChunkSize {
			s, err := r.read()
			if err != nil {
				readErr = err
				break
			}
			chunk.Samples = append(chunk.Samples, s)
		}
		if len(chunk.Samples) > 0 {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
