package steam

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// snapshot returns the raw values of every state, in insertion order.
func snapshot(sv *StateVector) [][]float64 {
	var out [][]float64
	for _, s := range sv.StateVariables() {
		switch v := s.(type) {
		case *TransformStateVar:
			out = append(out, append([]float64(nil), v.Value().Matrix().RawMatrix().Data...))
		case *VectorSpaceStateVar:
			out = append(out, append([]float64(nil), v.Value().RawVector().Data...))
		case *LandmarkStateVar:
			out = append(out, append([]float64(nil), v.Value().RawVector().Data...))
		}
	}
	return out
}

func chainProblem(n int) *Problem {
	sv, c := chainCollection(n)
	p := NewProblem()
	for _, s := range sv.StateVariables() {
		p.AddStateVariable(s)
	}
	for _, term := range c.Terms() {
		p.AddCostTerm(term)
	}
	return p
}

func TestProposeRejectRestoresState(t *testing.T) {
	p := chainProblem(5)
	p.AddStateVariable(NewLandmarkStateVar(vec(1, 2, 3)))
	before := snapshot(p.StateVector())
	cost := p.Cost()

	step := mat.NewVecDense(p.StateVector().TotalDim(), nil)
	for i := 0; i < step.Len(); i++ {
		step.SetVec(i, 0.01*float64(i%7)-0.03)
	}
	prop := p.ProposeUpdate(step)
	assert.NotEqual(t, cost, prop.Cost())
	assert.NotEmpty(t, cmp.Diff(before, snapshot(p.StateVector())))

	prop.Reject()
	if diff := cmp.Diff(before, snapshot(p.StateVector())); diff != "" {
		t.Fatalf("state not restored bit for bit (-want +got):\n%s", diff)
	}
	assert.Equal(t, cost, p.Cost())
}

func TestProposeAccept(t *testing.T) {
	p := chainProblem(3)
	step := mat.NewVecDense(p.StateVector().TotalDim(), nil)
	step.SetVec(0, 0.1)
	prop := p.ProposeUpdate(step)
	after := snapshot(p.StateVector())
	prop.Accept()
	assert.Empty(t, cmp.Diff(after, snapshot(p.StateVector())))
	assert.Equal(t, prop.Cost(), p.Cost())
}

func TestProposalLifecycle(t *testing.T) {
	p := chainProblem(3)
	step := mat.NewVecDense(p.StateVector().TotalDim(), nil)
	prop := p.ProposeUpdate(step)
	assertPanicIs(t, ErrPendingProposal, func() { p.ProposeUpdate(step) })
	prop.Accept()
	assertPanicIs(t, ErrNoPendingProposal, func() { prop.Accept() })
	assertPanicIs(t, ErrNoPendingProposal, func() { prop.Reject() })

	stale := p.ProposeUpdate(step)
	stale.Reject()
	next := p.ProposeUpdate(step)
	assertPanicIs(t, ErrNoPendingProposal, func() { stale.Accept() })
	next.Accept()

	assertPanicIs(t, ErrDimensionMismatch, func() { p.ProposeUpdate(mat.NewVecDense(1, nil)) })
	// A failed proposal leaves nothing pending.
	p.ProposeUpdate(step).Reject()
}

func TestProposeRestoresOnPanic(t *testing.T) {
	p := NewProblem()
	x := NewVectorSpaceStateVar(vec(0))
	p.AddStateVariable(x)
	p.AddCostTerm(NewCostTerm(&limitEvaluator{x: x, limit: 1}, NewNoiseModel(Identity(1), Covariance), L2Loss{}))

	assertPanic(t, func() { p.ProposeUpdate(vec(2)) })
	assert.Equal(t, 0.0, x.Value().AtVec(0))
	p.ProposeUpdate(vec(0.5)).Accept()
	assert.Equal(t, 0.5, x.Value().AtVec(0))
}

// failingUpdateState panics whenever a perturbation is applied.
type failingUpdateState struct {
	*VectorSpaceStateVar
}

func (failingUpdateState) Update(mat.Vector) { panic("update failed") }

func TestProposeRestoresOnUpdatePanic(t *testing.T) {
	p := NewProblem()
	x := NewVectorSpaceStateVar(vec(1, 2))
	p.AddStateVariable(x)
	p.AddStateVariable(failingUpdateState{NewVectorSpaceStateVar(vec(3))})

	assertPanic(t, func() { p.ProposeUpdate(vec(0.5, 0.5, 0.5)) })
	assert.Equal(t, []float64{1, 2}, x.Value().RawVector().Data)
	assert.Nil(t, p.pending)
}

func TestProblemReusesWorkspaces(t *testing.T) {
	p := chainProblem(6)
	p.BuildGaussNewtonTerms(3, 32)
	first := append([]*Workspace(nil), p.workspaces...)
	require.Len(t, first, 3)

	p.BuildGaussNewtonTerms(3, 32)
	require.Len(t, p.workspaces, 3)
	for i, ws := range p.workspaces {
		assert.Same(t, first[i], ws, "workspace %d", i)
		assert.Zero(t, ws.Live(), "workspace %d", i)
	}

	p.BuildGaussNewtonTerms(2, 32)
	assert.Len(t, p.workspaces, 2)
	p.BuildGaussNewtonTerms(2, 64)
	assert.Equal(t, 64, p.workspaces[0].Cap())
	p.BuildGaussNewtonTerms(0, 64)
	assert.Len(t, p.workspaces, 1)
}

func TestProblemBuildGaussNewtonTerms(t *testing.T) {
	p := chainProblem(4)
	h, g := p.BuildGaussNewtonTerms(2, DefaultPoolCapacity)
	n := p.StateVector().TotalDim()
	require.Equal(t, n, h.Indexing().TotalDim())
	require.Equal(t, n, g.VecDense().Len())
	var chol mat.Cholesky
	assert.True(t, chol.Factorize(h.SymDense()), "the chain hessian is positive definite")

	assertPanicIs(t, ErrProblemHasNoState, func() { NewProblem().BuildGaussNewtonTerms(1, 1) })
}
