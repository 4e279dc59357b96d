package steam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNoiseModelTypesAgree(t *testing.T) {
	R := mat.NewSymDense(2, []float64{4, 1, 1, 2})
	var info mat.SymDense
	var chol mat.Cholesky
	require.True(t, chol.Factorize(R))
	require.NoError(t, chol.InverseTo(&info))

	fromCov := NewNoiseModel(R, Covariance)
	fromInfo := NewNoiseModel(&info, Information)
	fromSqrt := NewNoiseModel(fromCov.SqrtInformation(), SqrtInformation)

	e := mat.NewVecDense(2, []float64{0.7, -1.3})
	var tmp mat.VecDense
	tmp.MulVec(&info, e)
	want := math.Sqrt(mat.Dot(e, &tmp))

	for name, n := range map[string]*NoiseModel{"covariance": fromCov, "information": fromInfo, "sqrt": fromSqrt} {
		assert.Equal(t, 2, n.Dim(), name)
		assert.InDelta(t, want, n.WhitenedErrorNorm(e), 1e-12, name)
		assert.True(t, mat.EqualApprox(n.Covariance(), R, 1e-12), name)
	}
}

func TestNoiseModelIdentity(t *testing.T) {
	n := NewNoiseModel(ScaledIdentity(3, 1), Covariance)
	e := mat.NewVecDense(3, []float64{1, 2, 3})
	assert.True(t, mat.EqualApprox(n.WhitenError(e), e, 1e-15))
}

func TestNoiseModelPanics(t *testing.T) {
	assertPanicIs(t, ErrNotPositiveDefinite, func() {
		NewNoiseModel(mat.NewSymDense(2, []float64{1, 1, 1, 1}), Covariance)
	})
	assertPanicIs(t, ErrNotPositiveDefinite, func() {
		NewNoiseModel(mat.NewSymDense(2, []float64{-1, 0, 0, 1}), Information)
	})
	assertPanicIs(t, ErrNotPositiveDefinite, func() {
		NewNoiseModel(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), Covariance)
	})
	assertPanicIs(t, ErrDimensionMismatch, func() {
		NewNoiseModel(mat.NewDense(2, 3, nil), Covariance)
	})
	assertPanicIs(t, ErrNilArgument, func() {
		NewNoiseModel(nil, Covariance)
	})
	assertPanicIs(t, ErrDimensionMismatch, func() {
		NewNoiseModel(Identity(2), Covariance).WhitenError(mat.NewVecDense(3, nil))
	})
}

func TestNoiseModelSample(t *testing.T) {
	n := NewNoiseModel(mat.NewDiagDense(2, []float64{1e-6, 4}), Covariance)
	const samples = 2000
	var sumSq [2]float64
	for i := 0; i < samples; i++ {
		s := n.Sample()
		require.Equal(t, 2, s.Len())
		sumSq[0] += s.AtVec(0) * s.AtVec(0)
		sumSq[1] += s.AtVec(1) * s.AtVec(1)
	}
	assert.InDelta(t, 1e-6, sumSq[0]/samples, 1e-6)
	assert.InDelta(t, 4, sumSq[1]/samples, 0.6)
}

func TestNoiseModelString(t *testing.T) {
	n := NewNoiseModel(ScaledIdentity(2, 3), Covariance)
	assert.Contains(t, n.String(), "NoiseModel{")
}
