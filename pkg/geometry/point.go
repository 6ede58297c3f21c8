// Package geometry provides the fixed-dimension tuples and dense matrix
// helpers shared by the kriging engine, the region-of-applicability model
// and the M-tree index.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Point is a location in the input space.
type Point []float64

// Value is a location in the output space. When a sample carries derivative
// data the first component is the function value followed by the gradient.
type Value []float64

// Vector is a displacement between two points or two values.
type Vector []float64

func checkDims(op string, a, b int) {
	if a != b {
		panic(fmt.Sprintf("geometry: %s dimension mismatch: %d != %d", op, a, b))
	}
}

// Dim returns the number of coordinates of the point
func (p Point) Dim() int { return len(p) }

// Clone returns a copy of the point that does not share storage
func (p Point) Clone() Point {
	c := make(Point, len(p))
	copy(c, p)
	return c
}

// Sub returns the vector p - q.
func (p Point) Sub(q Point) Vector {
	checkDims("point sub", len(p), len(q))
	v := make(Vector, len(p))
	floats.SubTo(v, p, q)
	return v
}

// Add returns the point translated by v.
func (p Point) Add(v Vector) Point {
	checkDims("point add", len(p), len(v))
	r := make(Point, len(p))
	floats.AddTo(r, p, v)
	return r
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	checkDims("distance", len(p), len(q))
	return floats.Distance(p, q, 2)
}

// Equal reports whether both points have identical coordinates.
func (p Point) Equal(q Point) bool {
	return len(p) == len(q) && floats.Equal(p, q)
}

// NewDerivativeValue concatenates a function value with its gradient.
func NewDerivativeValue(value float64, gradient []float64) Value {
	v := make(Value, 1+len(gradient))
	v[0] = value
	copy(v[1:], gradient)
	return v
}

// Dim returns the number of components of the value
func (v Value) Dim() int { return len(v) }

// Clone returns a copy of the value
func (v Value) Clone() Value {
	c := make(Value, len(v))
	copy(c, v)
	return c
}

// Sub returns the vector v - w.
func (v Value) Sub(w Value) Vector {
	checkDims("value sub", len(v), len(w))
	d := make(Vector, len(v))
	floats.SubTo(d, v, w)
	return d
}

// AddScaled returns v + alpha*d.
func (v Value) AddScaled(alpha float64, d Vector) Value {
	checkDims("value add", len(v), len(d))
	r := v.Clone()
	floats.AddScaled(r, alpha, d)
	return r
}

// MaxAbsDiff returns the largest absolute componentwise difference.
func (v Value) MaxAbsDiff(w Value) float64 {
	checkDims("value diff", len(v), len(w))
	return floats.Distance(v, w, math.Inf(1))
}

// Norm returns the L2 norm of the vector
func (v Vector) Norm() float64 { return floats.Norm(v, 2) }

// Dot returns the inner product of two vectors.
func (v Vector) Dot(w Vector) float64 {
	checkDims("dot", len(v), len(w))
	return floats.Dot(v, w)
}

// Scale returns alpha*v.
func (v Vector) Scale(alpha float64) Vector {
	r := make(Vector, len(v))
	copy(r, v)
	floats.Scale(alpha, r)
	return r
}
