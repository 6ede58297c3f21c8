package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxConditionNumber is the largest condition number accepted by Inverse.
const MaxConditionNumber = 1e12

// ErrSingularMatrix is returned when a matrix cannot be inverted reliably.
var ErrSingularMatrix = errors.New("singular matrix")

// SingularMatrixError carries the condition estimate of a rejected matrix.
type SingularMatrixError struct {
	Cond float64
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("singular matrix (condition number %g)", e.Cond)
}

func (e *SingularMatrixError) Unwrap() error { return ErrSingularMatrix }

// Identity returns the n×n identity matrix.
func Identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Inverse computes the inverse of a square matrix with a general LU
// factorization.
//
// Parameters:
//   - a: square matrix, not required to be symmetric
//
// Returns:
//   - a freshly allocated inverse
//   - a *SingularMatrixError when the factorization is singular or the
//     condition number exceeds MaxConditionNumber
func Inverse(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()
	if r != c {
		panic(fmt.Sprintf("geometry: inverse of non-square %dx%d matrix", r, c))
	}

	var lu mat.LU
	lu.Factorize(a)
	cond := lu.Cond()
	if math.IsNaN(cond) || cond > MaxConditionNumber {
		return nil, &SingularMatrixError{Cond: cond}
	}

	inv := mat.NewDense(r, r, nil)
	if err := lu.SolveTo(inv, false, Identity(r)); err != nil {
		return nil, &SingularMatrixError{Cond: cond}
	}
	return inv, nil
}

// MatVec returns m*v as a new vector.
func MatVec(m mat.Matrix, v []float64) Vector {
	r, _ := m.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(m, mat.NewVecDense(len(v), append([]float64(nil), v...)))
	return Vector(out.RawVector().Data)
}

// Flatten copies a dense matrix into row-major order.
func Flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
