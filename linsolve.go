package steam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearSolver solves the normal equations A·x = b for a symmetric positive
// definite A. Failures wrap ErrSolveFailed.
type LinearSolver interface {
	Solve(A mat.Symmetric, b mat.Vector) (*mat.VecDense, error)
}

// CholeskySolver solves the normal equations with a dense Cholesky
// factorization and keeps the last factorization for covariance queries.
type CholeskySolver struct {
	chol  mat.Cholesky
	valid bool
}

// NewCholeskySolver returns a Cholesky solver.
func NewCholeskySolver() *CholeskySolver {
	return &CholeskySolver{}
}

// Solve implements the LinearSolver interface.
func (s *CholeskySolver) Solve(A mat.Symmetric, b mat.Vector) (*mat.VecDense, error) {
	s.valid = false
	if n := A.SymmetricDim(); n != b.Len() {
		return nil, fmt.Errorf("%w: %w: A is %dx%d, b has %d elements", ErrSolveFailed, ErrDimensionMismatch, n, n, b.Len())
	}
	if ok := s.chol.Factorize(A); !ok {
		return nil, fmt.Errorf("%w: %w", ErrSolveFailed, ErrNotPositiveDefinite)
	}
	var x mat.VecDense
	if err := s.chol.SolveVecTo(&x, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	s.valid = true
	return &x, nil
}

// Covariance returns A⁻¹ for the last successfully factorized A, which for
// the Gauss-Newton normal equations approximates the covariance of the
// estimate.
func (s *CholeskySolver) Covariance() (*mat.SymDense, error) {
	if !s.valid {
		return nil, fmt.Errorf("%w: no factorization available", ErrSolveFailed)
	}
	var inv mat.SymDense
	if err := s.chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	return &inv, nil
}
