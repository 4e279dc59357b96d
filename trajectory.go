package steam

import (
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

// Knot anchors a trajectory at a time, in seconds, with a pose and a body
// velocity ϖ = [ν; ω].
type Knot struct {
	Time     float64
	Pose     TransformEvaluator
	Velocity *VectorSpaceStateVar
}

func (k Knot) isActive() bool {
	return k.Pose.IsActive() || !k.Velocity.IsLocked()
}

// Trajectory is a continuous-time pose trajectory under a white-noise-on-
// acceleration Gaussian process prior. Between knots, poses are interpolated
// with the cubic Hermite blend implied by the prior.
type Trajectory struct {
	qc          *mat.SymDense
	knots       []Knot
	extrapolate bool
}

// TrajectoryOption configures a Trajectory.
type TrajectoryOption func(*Trajectory)

// WithExtrapolation allows queries outside the knot range, answered by
// constant-velocity extrapolation from the nearest knot.
func WithExtrapolation(allow bool) TrajectoryOption {
	return func(t *Trajectory) { t.extrapolate = allow }
}

// NewTrajectory returns an empty trajectory whose prior has the 6×6 power
// spectral density qc.
func NewTrajectory(qc mat.Symmetric, opts ...TrajectoryOption) *Trajectory {
	mustNotBeNil(qc == nil, "trajectory power spectral density")
	if n := qc.SymmetricDim(); n != 6 {
		panic(fmt.Errorf("%w: Qc is %dx%d, expected 6x6", ErrDimensionMismatch, n, n))
	}
	if IsNil(qc) {
		panic(fmt.Errorf("%w: Qc is zero", ErrNotPositiveDefinite))
	}
	t := &Trajectory{qc: mat.NewSymDense(6, nil)}
	t.qc.CopySym(qc)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func compareKnotTime(k Knot, time float64) int {
	return cmp.Compare(k.Time, time)
}

// Add inserts a knot. Two knots at the same time panic with ErrDuplicateKnot.
func (t *Trajectory) Add(k Knot) {
	mustNotBeNil(k.Pose == nil || k.Velocity == nil, "knot")
	checkVecLen(k.Velocity.Value(), 6, "knot velocity")
	i, found := slices.BinarySearchFunc(t.knots, k.Time, compareKnotTime)
	if found {
		panic(fmt.Errorf("%w: t=%f", ErrDuplicateKnot, k.Time))
	}
	t.knots = slices.Insert(t.knots, i, k)
}

// Knots returns the knots in time order.
func (t *Trajectory) Knots() []Knot {
	return slices.Clone(t.knots)
}

// locate returns the knot at time, or the knot pair surrounding it, or the
// knot to extrapolate from. Exactly one of the results is meaningful:
// exact, interior (k1 and k2), or extrapolated (k1 only).
func (t *Trajectory) locate(time float64) (k1, k2 *Knot, exact bool, err error) {
	if len(t.knots) == 0 {
		return nil, nil, false, fmt.Errorf("%w: trajectory has no knots", ErrOutOfRange)
	}
	i, found := slices.BinarySearchFunc(t.knots, time, compareKnotTime)
	switch {
	case found:
		return &t.knots[i], nil, true, nil
	case i > 0 && i < len(t.knots):
		return &t.knots[i-1], &t.knots[i], false, nil
	case !t.extrapolate:
		return nil, nil, false, fmt.Errorf("%w: t=%f not in [%f, %f]", ErrOutOfRange,
			time, t.knots[0].Time, t.knots[len(t.knots)-1].Time)
	case i == 0:
		return &t.knots[0], nil, false, nil
	default:
		return &t.knots[len(t.knots)-1], nil, false, nil
	}
}

// Evaluator returns the pose evaluator at time: the knot pose itself at a knot
// time, an interpolation between knots, or a constant-velocity extrapolation
// when enabled. Queries outside the knot range otherwise fail with
// ErrOutOfRange.
func (t *Trajectory) Evaluator(time float64) (TransformEvaluator, error) {
	k1, k2, exact, err := t.locate(time)
	switch {
	case err != nil:
		return nil, err
	case exact:
		return k1.Pose, nil
	case k2 != nil:
		return newGPInterpolationEvaluator(*k1, *k2, time), nil
	default:
		return newConstVelocityEvaluator(*k1, time-k1.Time), nil
	}
}

// Velocity returns the body velocity at time.
func (t *Trajectory) Velocity(time float64) (*mat.VecDense, error) {
	k1, k2, exact, err := t.locate(time)
	switch {
	case err != nil:
		return nil, err
	case exact || k2 == nil:
		return mat.VecDenseCopyOf(k1.Velocity.Value()), nil
	default:
		return newGPInterpolationEvaluator(*k1, *k2, time).velocity(), nil
	}
}

// PriorCostTerms returns one 12-dimensional prior term per pair of consecutive
// knots with at least one unlocked state.
func (t *Trajectory) PriorCostTerms() []*CostTerm {
	var terms []*CostTerm
	for i := 1; i < len(t.knots); i++ {
		e := newGPPriorEvaluator(t.knots[i-1], t.knots[i])
		if !e.IsActive() {
			continue
		}
		Q := PriorCovariance(t.qc, t.knots[i].Time-t.knots[i-1].Time)
		terms = append(terms, NewCostTerm(e, NewNoiseModel(Q, Covariance), L2Loss{}))
	}
	return terms
}

// PriorCovariance returns the 12×12 covariance of the white-noise-on-
// acceleration prior over dt, [dt³/3·Qc dt²/2·Qc; dt²/2·Qc dt·Qc].
func PriorCovariance(qc mat.Matrix, dt float64) *mat.SymDense {
	A := mat.NewDense(12, 12, nil)
	Γ := mat.NewDense(12, 6, nil)
	for i := 0; i < 6; i++ {
		A.Set(i, i+6, 1)
		Γ.Set(i+6, i, 1)
	}
	// A is nilpotent, so the sampling criterion always holds.
	_, Q, _ := VanLoan(A, Γ, qc, dt)
	return Q
}

// gpInterpolation holds the intermediate values of an interpolation between
// two knot poses.
type gpInterpolation struct {
	T21    se3.Transformation
	xi21   *mat.VecDense
	J21inv *mat.Dense
	xiI1   *mat.VecDense
	Ti1    se3.Transformation
}

// gpInterpolationEvaluator evaluates T(τ) = exp(ξ_i1)·T1 between two knots with
//
//	ξ_i1 = Λ12·ϖ1 + Ψ11·ξ_21 + Ψ12·J(ξ_21)⁻¹·ϖ2,  ξ_21 = ln(T2·T1⁻¹).
type gpInterpolationEvaluator struct {
	k1, k2                     Knot
	psi11, psi12, psi21, psi22 float64
	lambda12, lambda22         float64
}

func newGPInterpolationEvaluator(k1, k2 Knot, time float64) *gpInterpolationEvaluator {
	tau := time - k1.Time
	T := k2.Time - k1.Time
	r := tau / T
	r2 := r * r
	r3 := r2 * r
	e := &gpInterpolationEvaluator{
		k1:    k1,
		k2:    k2,
		psi11: 3*r2 - 2*r3,
		psi12: tau * (r2 - r),
		psi21: 6 * (r - r2) / T,
		psi22: 3*r2 - 2*r,
	}
	e.lambda12 = tau - T*e.psi11 - e.psi12
	e.lambda22 = 1 - T*e.psi21 - e.psi22
	return e
}

func (e *gpInterpolationEvaluator) interpolate(T1, T2 se3.Transformation) gpInterpolation {
	T21 := T2.Mul(T1.Inverse())
	xi21 := T21.Vec()
	J21inv := se3.Vec2JacInv(xi21)
	var jw2 mat.VecDense
	jw2.MulVec(J21inv, e.k2.Velocity.Value())

	xi := mat.NewVecDense(6, nil)
	xi.ScaleVec(e.lambda12, e.k1.Velocity.Value())
	xi.AddScaledVec(xi, e.psi11, xi21)
	xi.AddScaledVec(xi, e.psi12, &jw2)
	return gpInterpolation{T21: T21, xi21: xi21, J21inv: J21inv, xiI1: xi, Ti1: se3.FromVec(xi)}
}

// velocity returns ϖ(τ) = J(ξ_i1)·(Λ22·ϖ1 + Ψ21·ξ_21 + Ψ22·J(ξ_21)⁻¹·ϖ2).
func (e *gpInterpolationEvaluator) velocity() *mat.VecDense {
	v := e.interpolate(e.k1.Pose.Evaluate(), e.k2.Pose.Evaluate())
	var jw2 mat.VecDense
	jw2.MulVec(v.J21inv, e.k2.Velocity.Value())
	rate := mat.NewVecDense(6, nil)
	rate.ScaleVec(e.lambda22, e.k1.Velocity.Value())
	rate.AddScaledVec(rate, e.psi21, v.xi21)
	rate.AddScaledVec(rate, e.psi22, &jw2)
	out := mat.NewVecDense(6, nil)
	out.MulVec(se3.Vec2Jac(v.xiI1), rate)
	return out
}

// IsActive implements the Evaluator interface.
func (e *gpInterpolationEvaluator) IsActive() bool {
	return e.k1.isActive() || e.k2.isActive()
}

// Evaluate implements the Evaluator interface.
func (e *gpInterpolationEvaluator) Evaluate() se3.Transformation {
	T1 := e.k1.Pose.Evaluate()
	return e.interpolate(T1, e.k2.Pose.Evaluate()).Ti1.Mul(T1)
}

// EvaluateTree implements the Evaluator interface.
func (e *gpInterpolationEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[se3.Transformation] {
	c1 := e.k1.Pose.EvaluateTree(ws)
	c2 := e.k2.Pose.EvaluateTree(ws)
	node := ws.Transforms.Acquire()
	node.SetValue(e.interpolate(c1.Value(), c2.Value()).Ti1.Mul(c1.Value()))
	node.AddChild(c1)
	node.AddChild(c2)
	return node
}

// AppendJacobians implements the Evaluator interface. The incoming lhs splits
// into one branch per knot pose; when both knot poses depend on the same
// state the sink sums the two contributions.
func (e *gpInterpolationEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[se3.Transformation], out *Jacobians) {
	checkSink(out)
	c1 := childAs[se3.Transformation](tree, 0)
	c2 := childAs[se3.Transformation](tree, 1)
	v := e.interpolate(c1.Value(), c2.Value())
	Ji1 := se3.Vec2Jac(v.xiI1)

	// w = Ψ11·J_i1·J21⁻¹ + ½Ψ12·J_i1·ϖ2⋏·J21⁻¹
	w := mulAll(Ji1, v.J21inv)
	w.Scale(e.psi11, w)
	curly := mulAll(Ji1, se3.CurlyHat(e.k2.Velocity.Value()), v.J21inv)
	w.Add(w, scaled(0.5*e.psi12, curly))

	if e.k1.Pose.IsActive() {
		jac := mulAll(w, v.T21.Adjoint())
		jac.Sub(v.Ti1.Adjoint(), jac)
		e.k1.Pose.AppendJacobians(mulAll(lhs, jac), c1, out)
	}
	if e.k2.Pose.IsActive() {
		e.k2.Pose.AppendJacobians(mulAll(lhs, w), c2, out)
	}
	appendLeafJacobian(e.k1.Velocity, mulAll(lhs, scaled(e.lambda12, Ji1)), out)
	appendLeafJacobian(e.k2.Velocity, mulAll(lhs, scaled(e.psi12, Ji1), v.J21inv), out)
}

// constVelocityEvaluator evaluates exp(τ·ϖ)·T_k from a knot.
type constVelocityEvaluator struct {
	k   Knot
	tau float64
}

func newConstVelocityEvaluator(k Knot, tau float64) *constVelocityEvaluator {
	return &constVelocityEvaluator{k: k, tau: tau}
}

func (e *constVelocityEvaluator) xi() *mat.VecDense {
	xi := mat.NewVecDense(6, nil)
	xi.ScaleVec(e.tau, e.k.Velocity.Value())
	return xi
}

// IsActive implements the Evaluator interface.
func (e *constVelocityEvaluator) IsActive() bool {
	return e.k.isActive()
}

// Evaluate implements the Evaluator interface.
func (e *constVelocityEvaluator) Evaluate() se3.Transformation {
	return se3.FromVec(e.xi()).Mul(e.k.Pose.Evaluate())
}

// EvaluateTree implements the Evaluator interface.
func (e *constVelocityEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[se3.Transformation] {
	c := e.k.Pose.EvaluateTree(ws)
	node := ws.Transforms.Acquire()
	node.SetValue(se3.FromVec(e.xi()).Mul(c.Value()))
	node.AddChild(c)
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *constVelocityEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[se3.Transformation], out *Jacobians) {
	checkSink(out)
	xi := e.xi()
	if e.k.Pose.IsActive() {
		e.k.Pose.AppendJacobians(mulAll(lhs, se3.FromVec(xi).Adjoint()), childAs[se3.Transformation](tree, 0), out)
	}
	appendLeafJacobian(e.k.Velocity, mulAll(lhs, scaled(e.tau, se3.Vec2Jac(xi))), out)
}

// gpPriorEvaluator is the 12-dimensional error between two consecutive knots
//
//	[ξ_21 - Δt·ϖ1; J(ξ_21)⁻¹·ϖ2 - ϖ1].
type gpPriorEvaluator struct {
	k1, k2 Knot
}

func newGPPriorEvaluator(k1, k2 Knot) *gpPriorEvaluator {
	return &gpPriorEvaluator{k1: k1, k2: k2}
}

func (e *gpPriorEvaluator) errorAt(T1, T2 se3.Transformation) (*mat.VecDense, se3.Transformation, *mat.Dense) {
	T21 := T2.Mul(T1.Inverse())
	xi21 := T21.Vec()
	J21inv := se3.Vec2JacInv(xi21)
	w1 := e.k1.Velocity.Value()

	top := mat.NewVecDense(6, nil)
	top.AddScaledVec(xi21, -(e.k2.Time - e.k1.Time), w1)
	bottom := mat.NewVecDense(6, nil)
	bottom.MulVec(J21inv, e.k2.Velocity.Value())
	bottom.SubVec(bottom, w1)

	out := mat.NewVecDense(12, nil)
	for i := 0; i < 6; i++ {
		out.SetVec(i, top.AtVec(i))
		out.SetVec(i+6, bottom.AtVec(i))
	}
	return out, T21, J21inv
}

// IsActive implements the Evaluator interface.
func (e *gpPriorEvaluator) IsActive() bool {
	return e.k1.isActive() || e.k2.isActive()
}

// Evaluate implements the Evaluator interface.
func (e *gpPriorEvaluator) Evaluate() *mat.VecDense {
	v, _, _ := e.errorAt(e.k1.Pose.Evaluate(), e.k2.Pose.Evaluate())
	return v
}

// EvaluateTree implements the Evaluator interface.
func (e *gpPriorEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	c1 := e.k1.Pose.EvaluateTree(ws)
	c2 := e.k2.Pose.EvaluateTree(ws)
	node := ws.Vectors.Acquire()
	v, _, _ := e.errorAt(c1.Value(), c2.Value())
	node.SetValue(v)
	node.AddChild(c1)
	node.AddChild(c2)
	return node
}

// AppendJacobians implements the Evaluator interface.
func (e *gpPriorEvaluator) AppendJacobians(lhs *mat.Dense, tree *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	checkSink(out)
	c1 := childAs[se3.Transformation](tree, 0)
	c2 := childAs[se3.Transformation](tree, 1)
	_, T21, J21inv := e.errorAt(c1.Value(), c2.Value())
	halfCurly := scaled(0.5, se3.CurlyHat(e.k2.Velocity.Value()))

	if e.k1.Pose.IsActive() {
		top := mulAll(J21inv, T21.Adjoint())
		top.Scale(-1, top)
		jac := stack(top, mulAll(halfCurly, top))
		e.k1.Pose.AppendJacobians(mulAll(lhs, jac), c1, out)
	}
	if e.k2.Pose.IsActive() {
		jac := stack(J21inv, mulAll(halfCurly, J21inv))
		e.k2.Pose.AppendJacobians(mulAll(lhs, jac), c2, out)
	}
	dt := e.k2.Time - e.k1.Time
	appendLeafJacobian(e.k1.Velocity, mulAll(lhs, stack(scaled(-dt, Identity(6)), scaled(-1, Identity(6)))), out)
	appendLeafJacobian(e.k2.Velocity, mulAll(lhs, stack(mat.NewDense(6, 6, nil), J21inv)), out)
}
