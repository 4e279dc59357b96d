package steam

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Precondition violations are raised as panics whose value wraps one of these
// errors, so callers that recover can still test them with errors.Is.
var (
	ErrDimensionMismatch   = errors.New("dimensions must agree")
	ErrNilArgument         = errors.New("nil argument")
	ErrDuplicateKey        = errors.New("duplicate state key")
	ErrUnknownState        = errors.New("state variable not in state vector")
	ErrPendingProposal     = errors.New("an update is already pending, accept or reject it first")
	ErrNoPendingProposal   = errors.New("no pending update")
	ErrNotPositiveDefinite = errors.New("matrix is not positive definite")
	ErrDuplicateKnot       = errors.New("duplicate knot time")
	ErrPoolExhausted       = errors.New("node pool exhausted")
)

// Errors returned to the caller.
var (
	ErrSolveFailed       = errors.New("linear solve failed")
	ErrStepUnsuccessful  = errors.New("step did not reduce the cost")
	ErrOutOfRange        = errors.New("time outside trajectory range")
	ErrInvalidConfig     = errors.New("invalid solver configuration")
	ErrProblemHasNoState = errors.New("problem has no unlocked state variables")
)

// DimensionAgreement defines how two matrices' dimensions should agree.
type DimensionAgreement uint8

const (
	rows2cols DimensionAgreement = iota + 1
	cols2rows
	cols2cols
	rows2rows
	rowsAndcols
)

// checkMatDims checks the matrix dimensions match provided a DimensionAgreement. Returns an error if not.
func checkMatDims(m1, m2 mat.Matrix, name1, name2 string, method DimensionAgreement) error {
	r1, c1 := m1.Dims()
	r2, c2 := m2.Dims()
	switch method {
	case rows2cols:
		if r1 != c2 {
			return fmt.Errorf("%w: %s(%dx...) %s(...x%d)", ErrDimensionMismatch, name1, r1, name2, c2)
		}
	case cols2rows:
		if c1 != r2 {
			return fmt.Errorf("%w: %s(...x%d) %s(%dx...)", ErrDimensionMismatch, name1, c1, name2, r2)
		}
	case cols2cols:
		if c1 != c2 {
			return fmt.Errorf("%w: %s(...x%d) %s(...x%d)", ErrDimensionMismatch, name1, c1, name2, c2)
		}
	case rows2rows:
		if r1 != r2 {
			return fmt.Errorf("%w: %s(%dx...) %s(%dx...)", ErrDimensionMismatch, name1, r1, name2, r2)
		}
	case rowsAndcols:
		if c1 != c2 || r1 != r2 {
			return fmt.Errorf("%w: %s(%dx%d) %s(%dx%d)", ErrDimensionMismatch, name1, r1, c1, name2, r2, c2)
		}
	}
	return nil
}

// checkVecLen panics with ErrDimensionMismatch when v does not have n elements.
func checkVecLen(v mat.Vector, n int, name string) {
	if v.Len() != n {
		panic(fmt.Errorf("%w: %s has %d elements, expected %d", ErrDimensionMismatch, name, v.Len(), n))
	}
}

func mustNotBeNil(isNil bool, name string) {
	if isNil {
		panic(fmt.Errorf("%w: %s", ErrNilArgument, name))
	}
}
