package steam

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cubeEvaluator is the scalar error x³ - c.
type cubeEvaluator struct {
	x *VectorSpaceStateVar
	c float64
}

func (e *cubeEvaluator) IsActive() bool { return !e.x.IsLocked() }

func (e *cubeEvaluator) Evaluate() *mat.VecDense {
	x := e.x.Value().AtVec(0)
	return vec(x*x*x - e.c)
}

func (e *cubeEvaluator) EvaluateTree(ws *Workspace) *EvalTreeNode[*mat.VecDense] {
	node := ws.Vectors.Acquire()
	node.SetValue(e.Evaluate())
	return node
}

func (e *cubeEvaluator) AppendJacobians(lhs *mat.Dense, _ *EvalTreeNode[*mat.VecDense], out *Jacobians) {
	x := e.x.Value().AtVec(0)
	appendLeafJacobian(e.x, scaled(3*x*x, lhs), out)
}

type recordingExporter struct {
	its    []Iteration
	closed bool
}

func (r *recordingExporter) Write(it Iteration) error {
	r.its = append(r.its, it)
	return nil
}

func (r *recordingExporter) Close() error {
	r.closed = true
	return nil
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "converged", StatusConverged.String())
	assert.Equal(t, "Status(9)", Status(9).String())
	assert.Equal(t, "step unsuccessful", TerminateStepUnsuccessful.String())
	assert.Equal(t, "TerminationCause(42)", TerminationCause(42).String())
}

func TestNewSolverValidates(t *testing.T) {
	cfg := DefaultSolverConfig()
	cfg.MaxIterations = 0
	_, err := NewGaussNewtonSolver(NewProblem(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewLevMarqSolver(nil, DefaultSolverConfig())
	assert.ErrorIs(t, err, ErrNilArgument)
}

// anchoredPair returns a locked origin and a free pose measured relative to
// it, started away from the measurement.
func anchoredPair() (*Problem, *TransformStateVar, se3.Transformation) {
	p := NewProblem()
	origin := NewTransformStateVar(se3.NewIdentity())
	origin.SetLock(true)
	odom := se3.FromVec(vec(1, 0.2, -0.1, 0.05, 0.1, 0.4))
	free := NewTransformStateVar(odom)
	free.Update(vec(0.2, -0.1, 0.3, 0.1, -0.05, 0.08))
	p.AddStateVariable(origin)
	p.AddStateVariable(free)
	p.AddCostTerm(NewCostTerm(
		NewRelativeTransformErrorEvaluator(odom, NewTransformStateEvaluator(origin), NewTransformStateEvaluator(free)),
		NewNoiseModel(ScaledIdentity(6, 1), Covariance), L2Loss{}))
	return p, free, odom
}

func TestGaussNewtonAnchoredPair(t *testing.T) {
	p, free, odom := anchoredPair()
	cfg := DefaultSolverConfig()
	cfg.AbsoluteCostThreshold = 1e-8
	cfg.AbsoluteCostChangeThreshold = 0
	cfg.RelativeCostChangeThreshold = 0
	exp := &recordingExporter{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s, err := NewGaussNewtonSolver(p, cfg, WithLogger(discardLogger()), WithExporter(exp), WithMetrics(metrics))
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, s.Status())
	assert.Same(t, p, s.Problem())

	res, err := s.Optimize()
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, s.Status())
	assert.Equal(t, TerminateConvergedAbsoluteError, res.Cause)
	assert.LessOrEqual(t, res.Iterations, 5)
	assert.Less(t, res.FinalCost, 1e-8)
	assert.Greater(t, res.InitialCost, res.FinalCost)
	assert.True(t, mat.EqualApprox(free.Value().Matrix(), odom.Matrix(), 1e-3))

	require.Len(t, exp.its, res.Iterations)
	assert.False(t, exp.closed, "the solver does not own the exporter")
	for i, it := range res.History {
		assert.Equal(t, i+1, it.Iteration)
		assert.True(t, it.Accepted)
		assert.Zero(t, it.Damping)
	}
	assert.Equal(t, float64(res.Iterations), testutil.ToFloat64(metrics.AcceptedSteps))
	assert.Equal(t, res.FinalCost, testutil.ToFloat64(metrics.Cost))
}

func TestParallelLinearizationMatchesSerial(t *testing.T) {
	run := func(workers int) float64 {
		sv, c := chainCollection(12)
		p := NewProblem()
		for _, s := range sv.StateVariables() {
			p.AddStateVariable(s)
		}
		for _, term := range c.Terms() {
			p.AddCostTerm(term)
		}
		cfg := DefaultSolverConfig()
		cfg.NumWorkers = workers
		cfg.MaxIterations = 3
		s, err := NewLevMarqSolver(p, cfg, WithLogger(discardLogger()))
		require.NoError(t, err)
		res, err := s.Optimize()
		require.NoError(t, err)
		return res.FinalCost
	}
	serial := run(1)
	assert.InDelta(t, serial, run(4), 1e-9*math.Max(1, serial))
}

func TestLevMarqLoopClosure(t *testing.T) {
	p := NewProblem()
	odom := se3.FromVec(vec(1, 0, 0, 0, 0, math.Pi/2))
	loop := se3.FromVec(vec(1.1, 0.05, 0, 0, 0, math.Pi/2+0.05))
	noise := NewNoiseModel(ScaledIdentity(6, 1), Covariance)

	poses := make([]*TransformStateVar, 4)
	truth := se3.NewIdentity()
	for i := range poses {
		poses[i] = NewTransformStateVar(truth)
		if i == 0 {
			poses[i].SetLock(true)
		} else {
			poses[i].Update(vec(0.1, -0.1, 0.05, 0.02, -0.03, 0.1*float64(i)))
		}
		p.AddStateVariable(poses[i])
		truth = odom.Mul(truth)
	}
	for i := 0; i < 3; i++ {
		p.AddCostTerm(NewCostTerm(NewRelativeTransformErrorEvaluator(odom,
			NewTransformStateEvaluator(poses[i]), NewTransformStateEvaluator(poses[i+1])), noise, L2Loss{}))
	}
	p.AddCostTerm(NewCostTerm(NewRelativeTransformErrorEvaluator(loop,
		NewTransformStateEvaluator(poses[3]), NewTransformStateEvaluator(poses[0])), noise, L2Loss{}))

	s, err := NewLevMarqSolver(p, DefaultSolverConfig(), WithLogger(discardLogger()))
	require.NoError(t, err)
	res, err := s.Optimize()
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Less(t, res.FinalCost, res.InitialCost)
	assert.Less(t, res.FinalCost, 0.01)
	assert.Greater(t, res.FinalCost, 0.0, "the loop closure is inconsistent with odometry")
	require.NotEmpty(t, res.History)
	assert.True(t, res.History[len(res.History)-1].Accepted)
	assert.Greater(t, res.History[0].Damping, 0.0)
}

func TestGaussNewtonSolveFailure(t *testing.T) {
	p := NewProblem()
	x := NewVectorSpaceStateVar(vec(1, 2))
	unconstrained := NewVectorSpaceStateVar(vec(0))
	p.AddStateVariable(x)
	p.AddStateVariable(unconstrained)
	p.AddCostTerm(vectorTerm(vec(0, 0), x, 1, L2Loss{}))

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s, err := NewGaussNewtonSolver(p, DefaultSolverConfig(), WithLogger(discardLogger()), WithMetrics(metrics))
	require.NoError(t, err)
	res, err := s.Optimize()
	assert.ErrorIs(t, err, ErrSolveFailed)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, TerminateSolveFailed, res.Cause)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SolveFailures))
	assert.Equal(t, []float64{1, 2}, x.Value().RawVector().Data, "nothing is applied after a failed solve")

	// Damping makes the same system solvable.
	lm, err := NewLevMarqSolver(p, DefaultSolverConfig(), WithLogger(discardLogger()))
	require.NoError(t, err)
	res, err = lm.Optimize()
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Less(t, res.FinalCost, 1e-3)
}

func TestGaussNewtonStepUnsuccessful(t *testing.T) {
	p := NewProblem()
	x := NewVectorSpaceStateVar(vec(0.1))
	p.AddStateVariable(x)
	p.AddCostTerm(NewCostTerm(&cubeEvaluator{x: x, c: 8}, NewNoiseModel(Identity(1), Covariance), L2Loss{}))

	s, err := NewGaussNewtonSolver(p, DefaultSolverConfig(), WithLogger(discardLogger()))
	require.NoError(t, err)
	res, err := s.Optimize()
	assert.True(t, errors.Is(err, ErrStepUnsuccessful))
	assert.Equal(t, StatusFailed, s.Status())
	assert.Equal(t, TerminateStepUnsuccessful, res.Cause)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.History[0].Accepted)
	assert.Equal(t, 0.1, x.Value().AtVec(0), "the rejected step is rolled back")
	assert.Equal(t, res.InitialCost, res.FinalCost)
}

func TestOptimizeEdgeCases(t *testing.T) {
	empty := NewProblem()
	locked := NewVectorSpaceStateVar(vec(1))
	locked.SetLock(true)
	empty.AddStateVariable(locked)
	s, err := NewGaussNewtonSolver(empty, DefaultSolverConfig(), WithLogger(discardLogger()))
	require.NoError(t, err)
	res, err := s.Optimize()
	assert.ErrorIs(t, err, ErrProblemHasNoState)
	assert.Equal(t, StatusFailed, res.Status)

	exact := NewProblem()
	x := NewVectorSpaceStateVar(vec(3))
	exact.AddStateVariable(x)
	exact.AddCostTerm(vectorTerm(vec(3), x, 1, L2Loss{}))
	s, err = NewLevMarqSolver(exact, DefaultSolverConfig(), WithLogger(discardLogger()))
	require.NoError(t, err)
	res, err = s.Optimize()
	require.NoError(t, err)
	assert.Equal(t, TerminateConvergedAbsoluteError, res.Cause)
	assert.Zero(t, res.Iterations)

	p, _, _ := anchoredPair()
	cfg := DefaultSolverConfig()
	cfg.MaxIterations = 1
	cfg.AbsoluteCostChangeThreshold = 0
	cfg.RelativeCostChangeThreshold = 0
	s, err = NewGaussNewtonSolver(p, cfg, WithLogger(discardLogger()))
	require.NoError(t, err)
	res, err = s.Optimize()
	require.NoError(t, err)
	assert.Equal(t, TerminateMaxIterations, res.Cause)
	assert.Equal(t, StatusConverged, res.Status)
}

func TestSolverVerboseLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	p, _, _ := anchoredPair()
	cfg := DefaultSolverConfig()
	cfg.Verbose = true
	s, err := NewGaussNewtonSolver(p, cfg, WithLogger(logger))
	require.NoError(t, err)
	_, err = s.Optimize()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "solver iteration")
	assert.Contains(t, buf.String(), "solver terminated")
	assert.Contains(t, buf.String(), "solver=gauss-newton")

	buf.Reset()
	cfg.Verbose = false
	p, _, _ = anchoredPair()
	s, err = NewGaussNewtonSolver(p, cfg, WithLogger(logger))
	require.NoError(t, err)
	_, err = s.Optimize()
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "iterations log at debug level unless verbose")
}

func TestCholeskySolverCovariance(t *testing.T) {
	ls := NewCholeskySolver()
	_, err := ls.Covariance()
	assert.ErrorIs(t, err, ErrSolveFailed)

	A := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	x, err := ls.Solve(A, vec(1, 2))
	require.NoError(t, err)
	var check mat.VecDense
	check.MulVec(A, x)
	assert.True(t, mat.EqualApprox(&check, vec(1, 2), 1e-12))

	cov, err := ls.Covariance()
	require.NoError(t, err)
	var prod mat.Dense
	prod.Mul(A, cov)
	assert.True(t, mat.EqualApprox(&prod, Identity(2), 1e-12))

	_, err = ls.Solve(mat.NewSymDense(2, []float64{1, 1, 1, 1}), vec(1, 2))
	assert.ErrorIs(t, err, ErrSolveFailed)
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	_, err = ls.Covariance()
	assert.Error(t, err)
	_, err = ls.Solve(A, vec(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
