package steam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

func TestImplementsStateVariable(t *testing.T) {
	implements := func(StateVariable) {}
	implements(new(VectorSpaceStateVar))
	implements(new(TransformStateVar))
	implements(new(LandmarkStateVar))
}

func TestStateKeysAreUnique(t *testing.T) {
	a := NewVectorSpaceStateVar(mat.NewVecDense(2, nil))
	b := NewVectorSpaceStateVar(mat.NewVecDense(2, nil))
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Len(t, a.Key().String(), 36)
}

func TestVectorSpaceStateVar(t *testing.T) {
	v0 := mat.NewVecDense(3, []float64{1, 2, 3})
	s := NewVectorSpaceStateVar(v0)
	v0.SetVec(0, 100)
	assert.Equal(t, 1.0, s.Value().AtVec(0), "the initial value must be copied")
	assert.Equal(t, 3, s.PerturbDim())
	assert.False(t, s.IsLocked())

	s.Update(mat.NewVecDense(3, []float64{0.5, -1, 0}))
	assert.True(t, mat.Equal(s.Value(), mat.NewVecDense(3, []float64{1.5, 1, 3})))

	c := s.Clone()
	assert.Equal(t, s.Key(), c.Key())
	s.Update(mat.NewVecDense(3, []float64{1, 1, 1}))
	assert.Equal(t, 1.5, c.(*VectorSpaceStateVar).Value().AtVec(0), "clones must not share storage")

	s.SetFromCopy(c)
	assert.Equal(t, 1.5, s.Value().AtVec(0))

	assertPanicIs(t, ErrDimensionMismatch, func() { s.Update(mat.NewVecDense(2, nil)) })
	assertPanicIs(t, ErrDimensionMismatch, func() { s.SetValue(mat.NewVecDense(4, nil)) })
	assertPanicIs(t, ErrDuplicateKey, func() { s.SetFromCopy(NewVectorSpaceStateVar(mat.NewVecDense(3, nil))) })
	assertPanicIs(t, ErrNilArgument, func() { s.SetFromCopy(nil) })
}

func TestTransformStateVar(t *testing.T) {
	s := NewTransformStateVar(se3.NewIdentity())
	assert.Equal(t, 6, s.PerturbDim())

	xi := mat.NewVecDense(6, []float64{0.1, 0.2, 0.3, 0.01, -0.02, 0.03})
	s.Update(xi)
	assert.True(t, mat.EqualApprox(s.Value().Vec(), xi, 1e-12))

	// Left update: exp(δ)·T.
	delta := mat.NewVecDense(6, []float64{0, 0, 0, 0.2, 0, 0})
	want := se3.FromVec(delta).Mul(s.Value())
	s.Update(delta)
	assert.True(t, mat.EqualApprox(s.Value().Matrix(), want.Matrix(), 1e-12))

	c := s.Clone().(*TransformStateVar)
	s.Update(delta)
	assert.True(t, mat.EqualApprox(c.Value().Matrix(), want.Matrix(), 1e-12))
	s.SetFromCopy(c)
	assert.True(t, mat.Equal(s.Value().Matrix(), c.Value().Matrix()))

	assertPanic(t, func() { s.SetFromCopy(NewVectorSpaceStateVar(mat.NewVecDense(6, nil))) })
	assertPanic(t, func() { NewTransformStateVar(se3.Transformation{}) })
}

func TestLandmarkStateVar(t *testing.T) {
	p := mat.NewVecDense(3, []float64{1, 2, 3})
	l := NewLandmarkStateVar(p)
	assert.False(t, l.HasReferenceFrame())
	assert.True(t, mat.Equal(l.GlobalValue(), p))

	ref := se3.FromVec(mat.NewVecDense(6, []float64{1, 0, -1, 0, 0, 0.5}))
	lf := NewLandmarkStateVarInFrame(p, NewFixedTransformEvaluator(ref))
	require.True(t, lf.HasReferenceFrame())
	back := ref.TransformPoint(lf.GlobalValue())
	assert.True(t, mat.EqualApprox(back, p, 1e-12))

	c := lf.Clone().(*LandmarkStateVar)
	lf.Update(mat.NewVecDense(3, []float64{1, 1, 1}))
	assert.Equal(t, 1.0, c.Value().AtVec(0))
	assert.True(t, c.HasReferenceFrame())
	lf.SetFromCopy(c)
	assert.Equal(t, 1.0, lf.Value().AtVec(0))

	assertPanicIs(t, ErrDimensionMismatch, func() { NewLandmarkStateVar(mat.NewVecDense(4, nil)) })
	assertPanicIs(t, ErrNilArgument, func() { NewLandmarkStateVarInFrame(p, nil) })
}
