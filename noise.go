package steam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// MatrixType tells NewNoiseModel how to interpret its matrix.
type MatrixType uint8

const (
	// Covariance is the error covariance R.
	Covariance MatrixType = iota
	// Information is R⁻¹.
	Information
	// SqrtInformation is any square S with SᵀS = R⁻¹.
	SqrtInformation
)

// NoiseModel whitens raw errors: for an error e it returns S·e where SᵀS is
// the information matrix, so that the squared whitened norm is eᵀR⁻¹e.
type NoiseModel struct {
	sqrtInfo *mat.Dense
	covar    *mat.SymDense
	dim      int
	sampler  *distmv.Normal
}

// NewNoiseModel builds a noise model from m. A matrix that is not symmetric
// positive definite (or, for SqrtInformation, not invertible) panics with
// ErrNotPositiveDefinite.
func NewNoiseModel(m mat.Matrix, typ MatrixType) *NoiseModel {
	mustNotBeNil(m == nil, "noise matrix")
	r, c := m.Dims()
	if r != c {
		panic(fmt.Errorf("%w: noise matrix is %dx%d", ErrDimensionMismatch, r, c))
	}

	info := mat.NewSymDense(r, nil)
	n := &NoiseModel{dim: r}
	switch typ {
	case Covariance:
		var chol mat.Cholesky
		if ok := chol.Factorize(asSymmetric(m)); !ok {
			panic(fmt.Errorf("%w: covariance", ErrNotPositiveDefinite))
		}
		if err := chol.InverseTo(info); err != nil {
			panic(fmt.Errorf("%w: covariance: %v", ErrNotPositiveDefinite, err))
		}
	case Information:
		info.CopySym(asSymmetric(m))
	case SqrtInformation:
		n.sqrtInfo = mat.DenseCopyOf(m)
		info.SymOuterK(1, n.sqrtInfo.T())
	default:
		panic(fmt.Errorf("steam: unknown noise matrix type %d", typ))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		panic(fmt.Errorf("%w: information", ErrNotPositiveDefinite))
	}
	if n.sqrtInfo == nil {
		// info = L·Lᵀ, so S = Lᵀ satisfies SᵀS = info.
		var L mat.TriDense
		chol.LTo(&L)
		n.sqrtInfo = mat.DenseCopyOf(L.T())
	}
	n.covar = mat.NewSymDense(r, nil)
	if err := chol.InverseTo(n.covar); err != nil {
		panic(fmt.Errorf("%w: information: %v", ErrNotPositiveDefinite, err))
	}
	return n
}

// asSymmetric returns m as a mat.Symmetric, panicking when it is not exactly
// symmetric.
func asSymmetric(m mat.Matrix) mat.Symmetric {
	if s, ok := m.(mat.Symmetric); ok {
		return s
	}
	s, err := AsSymDense(mat.DenseCopyOf(m))
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err))
	}
	return s
}

// Dim returns the error dimension.
func (n *NoiseModel) Dim() int {
	return n.dim
}

// SqrtInformation returns S. The result must not be modified.
func (n *NoiseModel) SqrtInformation() mat.Matrix {
	return n.sqrtInfo
}

// Covariance returns R. The result must not be modified.
func (n *NoiseModel) Covariance() mat.Symmetric {
	return n.covar
}

// WhitenError returns S·e.
func (n *NoiseModel) WhitenError(e mat.Vector) *mat.VecDense {
	checkVecLen(e, n.dim, "raw error")
	out := mat.NewVecDense(n.dim, nil)
	out.MulVec(n.sqrtInfo, e)
	return out
}

// WhitenedErrorNorm returns ‖S·e‖.
func (n *NoiseModel) WhitenedErrorNorm(e mat.Vector) float64 {
	return mat.Norm(n.WhitenError(e), 2)
}

// Sample draws a zero-mean error with covariance R, for synthetic
// measurements. The sampler is seeded from the global source.
func (n *NoiseModel) Sample() *mat.VecDense {
	if n.sampler == nil {
		normal, ok := distmv.NewNormal(make([]float64, n.dim), n.covar, nil)
		if !ok {
			panic(fmt.Errorf("%w: covariance", ErrNotPositiveDefinite))
		}
		n.sampler = normal
	}
	return mat.NewVecDense(n.dim, n.sampler.Rand(nil))
}

// String implements the Stringer interface.
func (n *NoiseModel) String() string {
	return fmt.Sprintf("NoiseModel{\nR=%v}\n", mat.Formatted(n.covar, mat.Prefix("  ")))
}
