package models

import (
	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
)

// Sample is one evaluation of the cached function, already scaled
type Sample struct {
	// Index is the position of the sample in the input stream
	Index int

	// Point is the input
	Point geometry.Point

	// Values are the outputs at Point
	Values []float64

	// Gradient is valueDim×pointDim with Gradient[j][i] = ∂f_j/∂x_i
	Gradient *mat.Dense
}

// Chunk is a batch of consecutive samples read together
type Chunk struct {
	// Index is the position of this chunk in the stream
	Index int

	Samples []Sample
}
