package steam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Problem owns the state vector and the cost terms of one optimization. It is
// not safe for concurrent use.
type Problem struct {
	states     *StateVector
	terms      *CostTermCollection
	pending    *Proposal
	workspaces []*Workspace
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{states: NewStateVector(), terms: NewCostTermCollection()}
}

// AddStateVariable adds a state to optimize. Locked states may be added too;
// they get no block in the linear system.
func (p *Problem) AddStateVariable(s StateVariable) {
	p.states.AddStateVariable(s)
}

// AddCostTerm adds a cost term. Every unlocked state it depends on must be in
// the problem.
func (p *Problem) AddCostTerm(t *CostTerm) {
	p.terms.Add(t)
}

// Cost returns the total cost at the current state.
func (p *Problem) Cost() float64 {
	return p.terms.Cost()
}

// StateVector returns the live state vector.
func (p *Problem) StateVector() *StateVector {
	return p.states
}

// CostTerms returns the cost term collection.
func (p *Problem) CostTerms() *CostTermCollection {
	return p.terms
}

// BuildGaussNewtonTerms returns the approximate Hessian JᵀJ and the gradient
// Jᵀe at the current state.
func (p *Problem) BuildGaussNewtonTerms(workers, poolCapacity int) (*BlockSparseMatrix, *BlockVector) {
	if p.states.NumberOfBlocks() == 0 {
		panic(ErrProblemHasNoState)
	}
	sizes := p.states.BlockSizes()
	hessian := NewSymmetricBlockSparseMatrix(sizes)
	gradient := NewBlockVector(sizes)
	p.terms.BuildGaussNewtonTerms(p.states, hessian, gradient, p.workspacesFor(workers, poolCapacity))
	return hessian, gradient
}

// workspacesFor returns one workspace per worker, reusing those of the
// previous linearization when the layout did not change.
func (p *Problem) workspacesFor(workers, capacity int) []*Workspace {
	workers = max(workers, 1)
	if len(p.workspaces) != workers || p.workspaces[0].Cap() != capacity {
		p.workspaces = NewWorkspaces(workers, capacity)
	}
	return p.workspaces
}

// ProposeUpdate snapshots the state, applies step and returns the proposal
// holding the new cost. The proposal must be accepted or rejected before the
// next one; proposing twice panics with ErrPendingProposal.
func (p *Problem) ProposeUpdate(step mat.Vector) *Proposal {
	if p.pending != nil {
		panic(ErrPendingProposal)
	}
	mustNotBeNil(step == nil, "state step")
	backup := p.states.Clone()
	defer func() {
		if r := recover(); r != nil {
			p.states.CopyValues(backup)
			panic(r)
		}
	}()
	p.states.Update(step)
	prop := &Proposal{problem: p, backup: backup, cost: p.Cost()}
	p.pending = prop
	return prop
}

// Proposal is a speculative state update. Accept keeps the new state, Reject
// restores the snapshot bit for bit; either consumes the proposal.
type Proposal struct {
	problem *Problem
	backup  *StateVector
	cost    float64
}

// Cost returns the cost at the proposed state.
func (pr *Proposal) Cost() float64 {
	return pr.cost
}

// Accept commits the proposed state.
func (pr *Proposal) Accept() {
	pr.consume("accept")
}

// Reject restores the state held before the proposal.
func (pr *Proposal) Reject() {
	backup := pr.backup
	pr.consume("reject")
	pr.problem.states.CopyValues(backup)
}

func (pr *Proposal) consume(op string) {
	if pr.backup == nil || pr.problem.pending != pr {
		panic(fmt.Errorf("%w: cannot %s", ErrNoPendingProposal, op))
	}
	pr.backup = nil
	pr.problem.pending = nil
}
