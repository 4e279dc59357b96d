package steam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool[int](2)
	assert.Equal(t, 2, p.Cap())
	a := p.Acquire()
	b := p.Acquire()
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, p.Live())
	assertPanicIs(t, ErrPoolExhausted, func() { p.Acquire() })

	a.SetValue(42)
	a.AddChild(b)
	a.Release()
	assert.Equal(t, 0, p.Live(), "releasing a node releases its subtree")
	assert.Zero(t, a.Value())
	assert.Zero(t, a.NumChildren())

	assertPanic(t, func() { p.Release(a) })
	assertPanic(t, func() { NewPool[int](2).Release(p.Acquire()) })
	assertPanic(t, func() { NewPool[int](0) })
}

func TestPoolMixedTree(t *testing.T) {
	ws := NewWorkspace(4)
	root := ws.Vectors.Acquire()
	child := ws.Transforms.Acquire()
	child.SetValue(se3.NewIdentity())
	root.AddChild(child)
	root.SetValue(mat.NewVecDense(1, nil))
	require.Equal(t, 2, ws.Live())

	got := childAs[se3.Transformation](root, 0)
	assert.Same(t, child, got)
	assert.Same(t, child, root.Child(0))
	assertPanic(t, func() { childAs[*mat.VecDense](root, 0) })

	root.Release()
	assert.Zero(t, ws.Live())
}

func TestWorkspaceReuse(t *testing.T) {
	ws := NewWorkspace(3)
	s := NewTransformStateVar(se3.NewIdentity())
	e := NewLogMapEvaluator(NewInverseTransformEvaluator(NewTransformStateEvaluator(s)))
	// Each pass needs three nodes; a leak would exhaust the pool on the second.
	for i := 0; i < 10; i++ {
		EvaluateJacobians[*mat.VecDense](e, ws, nil, 6)
		require.Zero(t, ws.Live())
	}
}

func TestWorkspaceReset(t *testing.T) {
	wss := NewWorkspaces(2, 2)
	require.Len(t, wss, 2)
	assert.NotSame(t, wss[0], wss[1])
	ws := wss[0]
	assert.Equal(t, 2, ws.Cap())

	leaked := ws.Transforms.Acquire()
	leaked.SetValue(se3.NewIdentity())
	ws.Vectors.Acquire()
	ws.Vectors.Acquire()
	assertPanicIs(t, ErrPoolExhausted, func() { ws.Vectors.Acquire() })

	ws.Reset()
	assert.Zero(t, ws.Live())
	assert.Zero(t, leaked.Value())
	ws.Vectors.Acquire()
	ws.Vectors.Acquire()
	assert.Equal(t, 2, ws.Live())
}
