package steam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Status is the state of a Solver.
type Status uint8

const (
	StatusInitialized Status = iota
	StatusIterating
	StatusConverged
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusIterating:
		return "iterating"
	case StatusConverged:
		return "converged"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// TerminationCause tells why a solver stopped.
type TerminationCause uint8

const (
	TerminateNotReady TerminationCause = iota
	TerminateMaxIterations
	TerminateConvergedAbsoluteError
	TerminateConvergedAbsoluteChange
	TerminateConvergedRelativeChange
	TerminateStepUnsuccessful
	TerminateSolveFailed
)

func (c TerminationCause) String() string {
	switch c {
	case TerminateNotReady:
		return "not ready"
	case TerminateMaxIterations:
		return "max iterations"
	case TerminateConvergedAbsoluteError:
		return "converged absolute error"
	case TerminateConvergedAbsoluteChange:
		return "converged absolute change"
	case TerminateConvergedRelativeChange:
		return "converged relative change"
	case TerminateStepUnsuccessful:
		return "step unsuccessful"
	case TerminateSolveFailed:
		return "solve failed"
	}
	return fmt.Sprintf("TerminationCause(%d)", uint8(c))
}

// Iteration records one solver iteration.
type Iteration struct {
	Iteration int
	// Cost is the cost once the iteration is over.
	Cost       float64
	CostChange float64
	StepNorm   float64
	// Damping is the Levenberg-Marquardt λ used for the final attempt, 0 for
	// Gauss-Newton.
	Damping  float64
	Accepted bool
	Duration time.Duration
}

// Result is the outcome of Optimize.
type Result struct {
	Status      Status
	Cause       TerminationCause
	Iterations  int
	InitialCost float64
	FinalCost   float64
	History     []Iteration
}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// WithMetrics records solver progress on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Solver) { s.metrics = m }
}

// WithLinearSolver replaces the default CholeskySolver.
func WithLinearSolver(ls LinearSolver) Option {
	return func(s *Solver) { s.linear = ls }
}

// WithExporter writes every iteration to e. The solver does not close it.
func WithExporter(e Exporter) Option {
	return func(s *Solver) { s.exporter = e }
}

// Solver runs the linearize, solve, propose and accept-or-reject loop on a
// Problem. A Solver is not safe for concurrent use.
type Solver struct {
	problem  *Problem
	cfg      SolverConfig
	logger   *slog.Logger
	metrics  *Metrics
	linear   LinearSolver
	exporter Exporter
	damped   bool
	status   Status
	damping  float64
}

// NewGaussNewtonSolver returns a plain Gauss-Newton solver: a step is kept
// when it does not raise the cost by more than CostIncreaseTolerance, and the
// solver stops with TerminateStepUnsuccessful otherwise.
func NewGaussNewtonSolver(p *Problem, cfg SolverConfig, opts ...Option) (*Solver, error) {
	return newSolver(p, cfg, false, opts)
}

// NewLevMarqSolver returns a Levenberg-Marquardt solver, which damps the
// diagonal of the normal equations by (1+λ). λ grows by DampingFactor after a
// failed solve or a step raising the cost, and shrinks after a kept step.
func NewLevMarqSolver(p *Problem, cfg SolverConfig, opts ...Option) (*Solver, error) {
	return newSolver(p, cfg, true, opts)
}

func newSolver(p *Problem, cfg SolverConfig, damped bool, opts []Option) (*Solver, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: problem", ErrNilArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Solver{problem: p, cfg: cfg, damped: damped, damping: cfg.InitialDamping}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.linear == nil {
		s.linear = NewCholeskySolver()
	}
	return s, nil
}

// Status returns the current status.
func (s *Solver) Status() Status {
	return s.status
}

// Problem returns the problem being solved.
func (s *Solver) Problem() *Problem {
	return s.problem
}

func (s *Solver) kind() string {
	if s.damped {
		return "levenberg-marquardt"
	}
	return "gauss-newton"
}

func (s *Solver) level() slog.Level {
	if s.cfg.Verbose {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// Optimize iterates until a termination criterion is met. The returned error
// is non-nil exactly when the status is StatusFailed.
func (s *Solver) Optimize() (Result, error) {
	cost := s.problem.Cost()
	res := Result{InitialCost: cost, FinalCost: cost}
	s.status = StatusIterating
	s.damping = s.cfg.InitialDamping

	if s.problem.StateVector().NumberOfBlocks() == 0 {
		return s.finish(res, StatusFailed, TerminateNotReady, ErrProblemHasNoState)
	}
	if cost <= s.cfg.AbsoluteCostThreshold {
		return s.finish(res, StatusConverged, TerminateConvergedAbsoluteError, nil)
	}

	for res.Iterations < s.cfg.MaxIterations {
		var (
			it  Iteration
			err error
		)
		if s.damped {
			it, err = s.levMarqIteration(res.Iterations+1, cost)
		} else {
			it, err = s.gaussNewtonIteration(res.Iterations+1, cost)
		}
		res.Iterations++
		res.History = append(res.History, it)
		s.record(it)

		if err != nil {
			cause := TerminateSolveFailed
			if errors.Is(err, ErrStepUnsuccessful) {
				cause = TerminateStepUnsuccessful
			}
			return s.finish(res, StatusFailed, cause, err)
		}

		prev := cost
		cost = it.Cost
		res.FinalCost = cost
		change := math.Abs(prev - cost)
		switch {
		case cost <= s.cfg.AbsoluteCostThreshold:
			return s.finish(res, StatusConverged, TerminateConvergedAbsoluteError, nil)
		case change <= s.cfg.AbsoluteCostChangeThreshold:
			return s.finish(res, StatusConverged, TerminateConvergedAbsoluteChange, nil)
		case prev > 0 && change/prev <= s.cfg.RelativeCostChangeThreshold:
			return s.finish(res, StatusConverged, TerminateConvergedRelativeChange, nil)
		}
	}
	return s.finish(res, StatusConverged, TerminateMaxIterations, nil)
}

func (s *Solver) finish(res Result, status Status, cause TerminationCause, err error) (Result, error) {
	s.status = status
	res.Status = status
	res.Cause = cause
	attrs := []any{
		"solver", s.kind(),
		"status", status.String(),
		"cause", cause.String(),
		"iterations", res.Iterations,
		"initial_cost", res.InitialCost,
		"final_cost", res.FinalCost,
	}
	if err != nil {
		s.logger.Warn("solver failed", append(attrs, "error", err)...)
		return res, err
	}
	s.logger.Log(context.Background(), s.level(), "solver terminated", attrs...)
	return res, nil
}

func (s *Solver) record(it Iteration) {
	s.logger.Log(context.Background(), s.level(), "solver iteration",
		"solver", s.kind(),
		"iteration", it.Iteration,
		"cost", it.Cost,
		"cost_change", it.CostChange,
		"step_norm", it.StepNorm,
		"damping", it.Damping,
		"accepted", it.Accepted,
		"duration", it.Duration,
	)
	if s.exporter != nil {
		if err := s.exporter.Write(it); err != nil {
			s.logger.Warn("failed to export solver iteration", "iteration", it.Iteration, "error", err)
		}
	}
}

// linearize returns the normal equations A·x = b at the current state, with
// A = JᵀJ and b = -Jᵀe.
func (s *Solver) linearize() (*mat.SymDense, *mat.VecDense) {
	start := time.Now()
	hessian, gradient := s.problem.BuildGaussNewtonTerms(s.cfg.NumWorkers, s.cfg.PoolCapacity)
	s.metrics.observeLinearization(time.Since(start))
	b := mat.VecDenseCopyOf(gradient.VecDense())
	b.ScaleVec(-1, b)
	return hessian.SymDense(), b
}

func stepNorm(step *mat.VecDense) float64 {
	return floats.Norm(step.RawVector().Data, 2)
}

func (s *Solver) gaussNewtonIteration(iter int, cost float64) (Iteration, error) {
	start := time.Now()
	it := Iteration{Iteration: iter, Cost: cost}
	A, b := s.linearize()
	step, err := s.linear.Solve(A, b)
	if err != nil {
		s.metrics.observeSolveFailure()
		it.Duration = time.Since(start)
		return it, err
	}
	it.StepNorm = stepNorm(step)

	prop := s.problem.ProposeUpdate(step)
	newCost := prop.Cost()
	if newCost > cost+s.cfg.CostIncreaseTolerance {
		prop.Reject()
		s.metrics.observeStep(false, cost)
		it.Duration = time.Since(start)
		return it, fmt.Errorf("%w: cost would go from %e to %e", ErrStepUnsuccessful, cost, newCost)
	}
	prop.Accept()
	s.metrics.observeStep(true, newCost)
	it.Accepted = true
	it.Cost = newCost
	it.CostChange = cost - newCost
	it.Duration = time.Since(start)
	return it, nil
}

func (s *Solver) levMarqIteration(iter int, cost float64) (Iteration, error) {
	start := time.Now()
	it := Iteration{Iteration: iter, Cost: cost}
	H, b := s.linearize()
	n := H.SymmetricDim()
	A := mat.NewSymDense(n, nil)

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxDampingRetries; attempt++ {
		it.Damping = s.damping
		A.CopySym(H)
		for i := 0; i < n; i++ {
			d := H.At(i, i)
			if d <= 0 {
				d = 1
			}
			A.SetSym(i, i, H.At(i, i)+s.damping*d)
		}

		step, err := s.linear.Solve(A, b)
		if err == nil {
			it.StepNorm = stepNorm(step)
			prop := s.problem.ProposeUpdate(step)
			newCost := prop.Cost()
			if newCost <= cost {
				prop.Accept()
				s.metrics.observeStep(true, newCost)
				s.damping /= s.cfg.DampingFactor
				it.Accepted = true
				it.Cost = newCost
				it.CostChange = cost - newCost
				it.Duration = time.Since(start)
				return it, nil
			}
			prop.Reject()
			s.metrics.observeStep(false, cost)
			lastErr = fmt.Errorf("%w: cost would go from %e to %e with damping %e", ErrStepUnsuccessful, cost, newCost, s.damping)
		} else {
			s.metrics.observeSolveFailure()
			lastErr = err
		}
		s.damping *= s.cfg.DampingFactor
	}
	it.Duration = time.Since(start)
	return it, lastErr
}
