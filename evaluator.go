package steam

import (
	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

// Evaluator is a node of an expression graph producing a value of type T and,
// on demand, its Jacobians with respect to the unlocked states it depends on.
//
// Evaluate computes the value alone. EvaluateTree computes the value and
// caches every intermediate result in a tree of pooled nodes, which
// AppendJacobians then walks: given the chain-rule factor lhs accumulated by
// the caller, it appends one contribution per reachable unlocked state to out.
// The caller releases the tree once the Jacobians are consumed.
type Evaluator[T any] interface {
	// IsActive reports whether any unlocked state is reachable.
	IsActive() bool
	Evaluate() T
	EvaluateTree(ws *Workspace) *EvalTreeNode[T]
	AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[T], out *Jacobians)
}

// TransformEvaluator produces a pose.
type TransformEvaluator = Evaluator[se3.Transformation]

// VectorEvaluator produces a vector.
type VectorEvaluator = Evaluator[*mat.VecDense]

// EvaluateJacobians evaluates e and returns its value together with its
// Jacobians under lhs (the identity of the output dimension when nil). The
// tree is released before returning.
func EvaluateJacobians[T any](e Evaluator[T], ws *Workspace, lhs *mat.Dense, outDim int) (T, *Jacobians) {
	mustNotBeNil(e == nil, "evaluator")
	mustNotBeNil(ws == nil, "workspace")
	if lhs == nil {
		lhs = Identity(outDim)
	}
	tree := e.EvaluateTree(ws)
	defer tree.Release()
	jacs := NewJacobians()
	if e.IsActive() {
		e.AppendJacobians(lhs, tree, jacs)
	}
	return tree.Value(), jacs
}

// TransformStateEvaluator is the leaf referencing a pose state.
type TransformStateEvaluator struct {
	state *TransformStateVar
}

// NewTransformStateEvaluator returns the evaluator of s.
func NewTransformStateEvaluator(s *TransformStateVar) *TransformStateEvaluator {
	mustNotBeNil(s == nil, "transform state")
	return &TransformStateEvaluator{state: s}
}

// IsActive implements the Evaluator interface.
func (e *TransformStateEvaluator) IsActive() bool {
	return !e.state.IsLocked()
}

// Evaluate implements the Evaluator interface.
func (e *TransformStateEvaluator) Evaluate() se3.Transformation {
	return e.state.Value()
}

// EvaluateTree implements the Evaluator interface.
func (e *TransformStateEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[se3.Transformation] {
	node := ws.Transforms.Acquire()
	node.SetValue(e.state.Value())
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *TransformStateEvaluator) AppendJacobians(lhs *mat.Dense, _ *EvalTreeNode[se3.Transformation], out *Jacobians) {
	appendLeafJacobian(e.state, lhs, out)
}

// FixedTransformEvaluator is a constant pose.
type FixedTransformEvaluator struct {
	value se3.Transformation
}

// NewFixedTransformEvaluator returns a constant evaluator of t.
func NewFixedTransformEvaluator(t se3.Transformation) *FixedTransformEvaluator {
	return &FixedTransformEvaluator{value: t}
}

// IsActive implements the Evaluator interface.
func (e *FixedTransformEvaluator) IsActive() bool { return false }

// Evaluate implements the Evaluator interface.
func (e *FixedTransformEvaluator) Evaluate() se3.Transformation { return e.value }

// EvaluateTree implements the Evaluator interface.
func (e *FixedTransformEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[se3.Transformation] {
	node := ws.Transforms.Acquire()
	node.SetValue(e.value)
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *FixedTransformEvaluator) AppendJacobians(_ *mat.Dense, _ *EvalTreeNode[se3.Transformation], out *Jacobians) {
	checkSink(out)
}

// ComposeTransformEvaluator evaluates T1·T2.
type ComposeTransformEvaluator struct {
	t1, t2 TransformEvaluator
}

// NewComposeTransformEvaluator returns the evaluator of t1·t2.
func NewComposeTransformEvaluator(t1, t2 TransformEvaluator) *ComposeTransformEvaluator {
	mustNotBeNil(t1 == nil || t2 == nil, "composed transform")
	return &ComposeTransformEvaluator{t1: t1, t2: t2}
}

// IsActive implements the Evaluator interface.
func (e *ComposeTransformEvaluator) IsActive() bool {
	return e.t1.IsActive() || e.t2.IsActive()
}

// Evaluate implements the Evaluator interface.
func (e *ComposeTransformEvaluator) Evaluate() se3.Transformation {
	return e.t1.Evaluate().Mul(e.t2.Evaluate())
}

// EvaluateTree implements the Evaluator interface.
func (e *ComposeTransformEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[se3.Transformation] {
	c1 := e.t1.EvaluateTree(ws)
	c2 := e.t2.EvaluateTree(ws)
	node := ws.Transforms.Acquire()
	node.SetValue(c1.Value().Mul(c2.Value()))
	node.AddChild(c1)
	node.AddChild(c2)
	return node
}

// AppendJacobians implements the Evaluator interface.
//
// With T = T1·T2, a left perturbation of T1 moves T by the same amount, and a
// left perturbation of T2 moves T by Ad(T1) times that amount.
func (e *ComposeTransformEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[se3.Transformation], out *Jacobians) {
	checkSink(out)
	c1 := childAs[se3.Transformation](tree, 0)
	c2 := childAs[se3.Transformation](tree, 1)
	if e.t1.IsActive() {
		e.t1.AppendJacobians(lhs, c1, out)
	}
	if e.t2.IsActive() {
		var l mat.Dense
		l.Mul(lhs, c1.Value().Adjoint())
		e.t2.AppendJacobians(&l, c2, out)
	}
}

// InverseTransformEvaluator evaluates T⁻¹.
type InverseTransformEvaluator struct {
	t TransformEvaluator
}

// NewInverseTransformEvaluator returns the evaluator of t⁻¹.
func NewInverseTransformEvaluator(t TransformEvaluator) *InverseTransformEvaluator {
	mustNotBeNil(t == nil, "inverted transform")
	return &InverseTransformEvaluator{t: t}
}

// IsActive implements the Evaluator interface.
func (e *InverseTransformEvaluator) IsActive() bool {
	return e.t.IsActive()
}

// Evaluate implements the Evaluator interface.
func (e *InverseTransformEvaluator) Evaluate() se3.Transformation {
	return e.t.Evaluate().Inverse()
}

// EvaluateTree implements the Evaluator interface.
func (e *InverseTransformEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[se3.Transformation] {
	c := e.t.EvaluateTree(ws)
	node := ws.Transforms.Acquire()
	node.SetValue(c.Value().Inverse())
	node.AddChild(c)
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *InverseTransformEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[se3.Transformation], out *Jacobians) {
	checkSink(out)
	if !e.t.IsActive() {
		return
	}
	var l mat.Dense
	l.Mul(lhs, tree.Value().Adjoint())
	l.Scale(-1, &l)
	e.t.AppendJacobians(&l, childAs[se3.Transformation](tree, 0), out)
}
