package steam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestVanLoan(t *testing.T) {
	A := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	Γ := mat.NewDense(2, 1, []float64{0, 1})
	W := mat.NewDense(1, 1, []float64{1})
	F, Q, err := VanLoan(A, Γ, W, 0.1)
	require.NoError(t, err)
	Fexp := mat.NewDense(2, 2, []float64{1, 0.1, 0, 1})
	Qexp := mat.NewSymDense(2, []float64{0.001 / 3, 0.005, 0.005, 0.1})

	if !mat.EqualApprox(F, Fexp, 1e-9) {
		t.Fatalf("F incorrectly computed\n%v", mat.Formatted(F))
	}
	if !mat.EqualApprox(Q, Qexp, 1e-9) {
		t.Fatalf("Q incorrectly computed\n%v", mat.Formatted(Q))
	}
}

func TestVanLoanNyquist(t *testing.T) {
	// Eigenvalues ±2i, so Δt must stay below π/4.
	A := mat.NewDense(2, 2, []float64{0, 2, -2, 0})
	Γ := Identity(2)
	W := Identity(2)
	_, _, err := VanLoan(A, Γ, W, 0.1)
	assert.NoError(t, err)
	F, Q, err := VanLoan(A, Γ, W, 1)
	assert.Error(t, err)
	assert.NotNil(t, F)
	assert.NotNil(t, Q)
}

func TestVanLoanDims(t *testing.T) {
	assertPanicIs(t, ErrDimensionMismatch, func() {
		VanLoan(Identity(2), Identity(3), Identity(3), 0.1)
	})
	assertPanicIs(t, ErrDimensionMismatch, func() {
		VanLoan(Identity(2), Identity(2), Identity(3), 0.1)
	})
}

func TestPriorCovariance(t *testing.T) {
	qc := mat.NewDiagDense(6, []float64{1, 2, 3, 0.1, 0.2, 0.3})
	dt := 0.5
	Q := PriorCovariance(qc, dt)
	require.Equal(t, 12, Q.SymmetricDim())
	for i := 0; i < 6; i++ {
		q := qc.At(i, i)
		assert.InDelta(t, dt*dt*dt/3*q, Q.At(i, i), 1e-10)
		assert.InDelta(t, dt*dt/2*q, Q.At(i, i+6), 1e-10)
		assert.InDelta(t, dt*q, Q.At(i+6, i+6), 1e-10)
		assert.InDelta(t, 0, Q.At(i, (i+1)%6), 1e-10)
	}
}
