package steam

import (
	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

// VectorSpaceStateEvaluator is the leaf referencing a vector state.
type VectorSpaceStateEvaluator struct {
	state *VectorSpaceStateVar
}

// NewVectorSpaceStateEvaluator returns the evaluator of s.
func NewVectorSpaceStateEvaluator(s *VectorSpaceStateVar) *VectorSpaceStateEvaluator {
	mustNotBeNil(s == nil, "vector state")
	return &VectorSpaceStateEvaluator{state: s}
}

// IsActive implements the Evaluator interface.
func (e *VectorSpaceStateEvaluator) IsActive() bool {
	return !e.state.IsLocked()
}

// Evaluate implements the Evaluator interface.
func (e *VectorSpaceStateEvaluator) Evaluate() *mat.VecDense {
	return mat.VecDenseCopyOf(e.state.Value())
}

// EvaluateTree implements the Evaluator interface.
func (e *VectorSpaceStateEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	node := ws.Vectors.Acquire()
	node.SetValue(e.Evaluate())
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *VectorSpaceStateEvaluator) AppendJacobians(lhs *mat.Dense, _ *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	appendLeafJacobian(e.state, lhs, out)
}

// FixedVectorEvaluator is a constant vector.
type FixedVectorEvaluator struct {
	value *mat.VecDense
}

// NewFixedVectorEvaluator returns a constant evaluator of a copy of v.
func NewFixedVectorEvaluator(v mat.Vector) *FixedVectorEvaluator {
	mustNotBeNil(v == nil, "fixed vector")
	return &FixedVectorEvaluator{value: mat.VecDenseCopyOf(v)}
}

// IsActive implements the Evaluator interface.
func (e *FixedVectorEvaluator) IsActive() bool { return false }

// Evaluate implements the Evaluator interface.
func (e *FixedVectorEvaluator) Evaluate() *mat.VecDense { return mat.VecDenseCopyOf(e.value) }

// EvaluateTree implements the Evaluator interface.
func (e *FixedVectorEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	node := ws.Vectors.Acquire()
	node.SetValue(e.Evaluate())
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *FixedVectorEvaluator) AppendJacobians(_ *mat.Dense, _ *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	checkSink(out)
}

// VectorSpaceErrorEvaluator evaluates meas - x.
type VectorSpaceErrorEvaluator struct {
	meas *mat.VecDense
	x    VectorEvaluator
}

// NewVectorSpaceErrorEvaluator returns the error between a measurement and
// the vector produced by x.
func NewVectorSpaceErrorEvaluator(meas mat.Vector, x VectorEvaluator) *VectorSpaceErrorEvaluator {
	mustNotBeNil(meas == nil || x == nil, "vector error")
	return &VectorSpaceErrorEvaluator{meas: mat.VecDenseCopyOf(meas), x: x}
}

// IsActive implements the Evaluator interface.
func (e *VectorSpaceErrorEvaluator) IsActive() bool {
	return e.x.IsActive()
}

func (e *VectorSpaceErrorEvaluator) errorOf(x mat.Vector) *mat.VecDense {
	checkVecLen(x, e.meas.Len(), "evaluated vector")
	out := mat.NewVecDense(e.meas.Len(), nil)
	out.SubVec(e.meas, x)
	return out
}

// Evaluate implements the Evaluator interface.
func (e *VectorSpaceErrorEvaluator) Evaluate() *mat.VecDense {
	return e.errorOf(e.x.Evaluate())
}

// EvaluateTree implements the Evaluator interface.
func (e *VectorSpaceErrorEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	c := e.x.EvaluateTree(ws)
	node := ws.Vectors.Acquire()
	node.SetValue(e.errorOf(c.Value()))
	node.AddChild(c)
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *VectorSpaceErrorEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	checkSink(out)
	if !e.x.IsActive() {
		return
	}
	e.x.AppendJacobians(scaled(-1, lhs), childAs[*mat.VecDense](tree, 0), out)
}

// LogMapEvaluator evaluates ln(T) as a 6-vector.
type LogMapEvaluator struct {
	t TransformEvaluator
}

// NewLogMapEvaluator returns the evaluator of ln(t).
func NewLogMapEvaluator(t TransformEvaluator) *LogMapEvaluator {
	mustNotBeNil(t == nil, "log map transform")
	return &LogMapEvaluator{t: t}
}

// IsActive implements the Evaluator interface.
func (e *LogMapEvaluator) IsActive() bool {
	return e.t.IsActive()
}

// Evaluate implements the Evaluator interface.
func (e *LogMapEvaluator) Evaluate() *mat.VecDense {
	return e.t.Evaluate().Vec()
}

// EvaluateTree implements the Evaluator interface.
func (e *LogMapEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	c := e.t.EvaluateTree(ws)
	node := ws.Vectors.Acquire()
	node.SetValue(c.Value().Vec())
	node.AddChild(c)
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *LogMapEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	checkSink(out)
	if !e.t.IsActive() {
		return
	}
	var l mat.Dense
	l.Mul(lhs, se3.Vec2JacInv(tree.Value()))
	e.t.AppendJacobians(&l, childAs[se3.Transformation](tree, 0), out)
}

// NewTransformErrorEvaluator returns the 6-dimensional error ln(meas·T⁻¹) of
// a pose measurement against the pose produced by t.
func NewTransformErrorEvaluator(meas se3.Transformation, t TransformEvaluator) *LogMapEvaluator {
	return NewLogMapEvaluator(NewComposeTransformEvaluator(
		NewFixedTransformEvaluator(meas), NewInverseTransformEvaluator(t)))
}

// NewRelativeTransformErrorEvaluator returns the 6-dimensional error
// ln(meas_21·T_1·T_2⁻¹) of a measured relative pose T_21 = T_2·T_1⁻¹.
func NewRelativeTransformErrorEvaluator(meas se3.Transformation, t1, t2 TransformEvaluator) *LogMapEvaluator {
	rel := NewComposeTransformEvaluator(t1, NewInverseTransformEvaluator(t2))
	return NewLogMapEvaluator(NewComposeTransformEvaluator(NewFixedTransformEvaluator(meas), rel))
}

// TransformPointEvaluator evaluates C·p + r, the 3D point p moved by T.
type TransformPointEvaluator struct {
	t TransformEvaluator
	p VectorEvaluator
}

// NewTransformPointEvaluator returns the evaluator of t applied to point p.
func NewTransformPointEvaluator(t TransformEvaluator, p VectorEvaluator) *TransformPointEvaluator {
	mustNotBeNil(t == nil || p == nil, "transformed point")
	return &TransformPointEvaluator{t: t, p: p}
}

// IsActive implements the Evaluator interface.
func (e *TransformPointEvaluator) IsActive() bool {
	return e.t.IsActive() || e.p.IsActive()
}

// Evaluate implements the Evaluator interface.
func (e *TransformPointEvaluator) Evaluate() *mat.VecDense {
	return e.t.Evaluate().TransformPoint(e.p.Evaluate())
}

// EvaluateTree implements the Evaluator interface.
func (e *TransformPointEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	ct := e.t.EvaluateTree(ws)
	cp := e.p.EvaluateTree(ws)
	node := ws.Vectors.Acquire()
	node.SetValue(ct.Value().TransformPoint(cp.Value()))
	node.AddChild(ct)
	node.AddChild(cp)
	return node
}

// AppendJacobians implements the Evaluator interface.
//
// A left perturbation δ = [ρ; φ] of T moves the point by ρ - (T·p)^φ.
func (e *TransformPointEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	checkSink(out)
	ct := childAs[se3.Transformation](tree, 0)
	cp := childAs[*mat.VecDense](tree, 1)
	if e.t.IsActive() {
		odot := mat.NewDense(3, 6, nil)
		odot.Slice(0, 3, 0, 3).(*mat.Dense).Copy(Identity(3))
		odot.Slice(0, 3, 3, 6).(*mat.Dense).Scale(-1, se3.Hat(tree.Value()))
		var l mat.Dense
		l.Mul(lhs, odot)
		e.t.AppendJacobians(&l, ct, out)
	}
	if e.p.IsActive() {
		var l mat.Dense
		l.Mul(lhs, ct.Value().C())
		e.p.AppendJacobians(&l, cp, out)
	}
}

// NewLandmarkEvaluator returns the evaluator of the global position of l:
// the point itself, or T_ref⁻¹·p when l has a reference frame.
func NewLandmarkEvaluator(l *LandmarkStateVar) VectorEvaluator {
	mustNotBeNil(l == nil, "landmark")
	leaf := NewVectorSpaceStateEvaluator(&l.VectorSpaceStateVar)
	if !l.HasReferenceFrame() {
		return leaf
	}
	return NewTransformPointEvaluator(NewInverseTransformEvaluator(l.ReferenceFrame()), leaf)
}
