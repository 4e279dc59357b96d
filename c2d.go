package steam

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// VanLoan discretizes the continuous-time system ẋ = A·x + Γ·w, with w white
// noise of power spectral density W, over an interval Δt. It returns the
// transition matrix F = exp(A·Δt) and the process noise covariance Q. The
// error reports a violated Nyquist sampling criterion; F and Q are computed
// regardless.
func VanLoan(A, Γ, W mat.Matrix, Δt float64) (*mat.Dense, *mat.SymDense, error) {
	var err error
	if e := checkMatDims(A, Γ, "A", "Γ", rows2rows); e != nil {
		panic(e)
	}
	if e := checkMatDims(Γ, W, "Γ", "W", cols2rows); e != nil {
		panic(e)
	}

	// Check aliasing
	var eig mat.Eigen
	if ok := eig.Factorize(A, mat.EigenNone); ok {
		λmax := 0.0
		for _, λ := range eig.Values(nil) {
			λmax = math.Max(λmax, cmplx.Abs(λ))
		}
		if 2*λmax*Δt >= math.Pi {
			err = fmt.Errorf("steam: Nyquist sampling criterion not fulfilled with Δt=%f", Δt)
		}
	}

	// Compute F and Q.
	var ΓW, ΓWΓ, Ap mat.Dense
	ΓW.Mul(Γ, W)
	ΓWΓ.Mul(&ΓW, Γ.T())
	ΓWΓ.Scale(Δt, &ΓWΓ)
	Ap.Scale(Δt, A)
	n, _ := A.Dims()
	M := mat.NewDense(2*n, 2*n, nil)

	// Populate M = [-AΔt ΓWΓᵀΔt; 0 AᵀΔt]
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			M.Set(i, j, -Ap.At(i, j))
			M.Set(i+n, j+n, Ap.At(j, i))
			M.Set(i, j+n, ΓWΓ.At(i, j))
		}
	}

	var expM mat.Dense
	expM.Exp(M)

	// The lower right block is Fᵀ and the upper right one F⁻¹Q.
	F := mat.NewDense(n, n, nil)
	F1Q := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			F1Q.Set(i, j, expM.At(i, j+n))
			F.Set(i, j, expM.At(j+n, i+n))
		}
	}
	var Q mat.Dense
	Q.Mul(F, F1Q)
	return F, symmetrize(&Q), err
}
