package steam

import (
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// CostTermCollection is an ordered set of cost terms.
type CostTermCollection struct {
	terms []*CostTerm
}

// NewCostTermCollection returns an empty collection.
func NewCostTermCollection() *CostTermCollection {
	return &CostTermCollection{}
}

// Add appends a term.
func (c *CostTermCollection) Add(t *CostTerm) {
	mustNotBeNil(t == nil, "cost term")
	c.terms = append(c.terms, t)
}

// Len returns the number of terms.
func (c *CostTermCollection) Len() int {
	return len(c.terms)
}

// Terms returns the terms. The slice is owned by the collection.
func (c *CostTermCollection) Terms() []*CostTerm {
	return c.terms
}

// Cost returns the total cost, without computing any Jacobian.
func (c *CostTermCollection) Cost() float64 {
	total := 0.0
	for _, t := range c.terms {
		total += t.Cost()
	}
	return total
}

// Residuals returns the cost of every term, in insertion order.
func (c *CostTermCollection) Residuals() []float64 {
	out := make([]float64, len(c.terms))
	for i, t := range c.terms {
		out[i] = t.Cost()
	}
	return out
}

// Summary returns statistics of the per-term costs.
func (c *CostTermCollection) Summary() ResidualSummary {
	return NewResidualSummary(c.Residuals())
}

// workerPanic carries a panic out of a worker goroutine.
type workerPanic struct {
	value any
}

func (w workerPanic) Error() string {
	return fmt.Sprintf("steam: cost term evaluation panicked: %v", w.value)
}

// BuildGaussNewtonTerms accumulates the Gauss-Newton normal equations of every
// active term at the current state: gradient[k] += J_kᵀ·e, and the upper
// Hessian block (k1, k2) += J_k1ᵀ·J_k2, with e and J weighted and whitened.
//
// Terms are split across one goroutine per workspace, at most one per term.
// Worker w evaluates with workspaces[w] and accumulates into private buffers
// which are summed into hessian and gradient once all workers are done. A
// panic in any term aborts the whole pass and is re-raised on the calling
// goroutine, after the workspace of the failing worker has been reset.
func (c *CostTermCollection) BuildGaussNewtonTerms(sv *StateVector, hessian *BlockSparseMatrix, gradient *BlockVector, workspaces []*Workspace) {
	mustNotBeNil(sv == nil || hessian == nil || gradient == nil, "gauss-newton outputs")
	mustNotBeNil(len(workspaces) == 0 || slices.Contains(workspaces, nil), "workspaces")
	workers := min(len(workspaces), len(c.terms))
	if workers == 0 {
		return
	}

	sizes := sv.BlockSizes()
	hessians := make([]*BlockSparseMatrix, workers)
	gradients := make([]*BlockVector, workers)
	chunk := (len(c.terms) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := min(w*chunk, len(c.terms))
		hi := min(lo+chunk, len(c.terms))
		hessians[w] = NewSymmetricBlockSparseMatrix(sizes)
		gradients[w] = NewBlockVector(sizes)
		h, grad, ws := hessians[w], gradients[w], workspaces[w]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					ws.Reset()
					err = workerPanic{value: r}
				}
			}()
			jacs := NewJacobians()
			for _, t := range c.terms[lo:hi] {
				if t.IsActive() {
					accumulateTerm(t, sv, ws, jacs, h, grad)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if p, ok := err.(workerPanic); ok {
			panic(p.value)
		}
		panic(err)
	}

	for w := 0; w < workers; w++ {
		hessian.AddMatrix(hessians[w])
		gradient.AddVector(gradients[w])
	}
}

func accumulateTerm(t *CostTerm, sv *StateVector, ws *Workspace, jacs *Jacobians, hessian *BlockSparseMatrix, gradient *BlockVector) {
	jacs.Reset()
	e := t.EvalWeightedAndWhitened(ws, jacs)
	entries := jacs.Entries()

	blocks := make([]int, len(entries))
	for i, j := range entries {
		blocks[i] = sv.BlockIndex(j.Key)
		if blocks[i] < 0 {
			panic(fmt.Errorf("%w: %s is locked in the state vector but unlocked in a cost term", ErrUnknownState, j.Key))
		}
	}

	for i, ji := range entries {
		var grad mat.VecDense
		grad.MulVec(ji.Block.T(), e)
		gradient.Add(blocks[i], &grad)

		for k := i; k < len(entries); k++ {
			jk := entries[k]
			var h mat.Dense
			if blocks[i] <= blocks[k] {
				h.Mul(ji.Block.T(), jk.Block)
				hessian.Add(blocks[i], blocks[k], &h)
			} else {
				h.Mul(jk.Block.T(), ji.Block)
				hessian.Add(blocks[k], blocks[i], &h)
			}
		}
	}
}
