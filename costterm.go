package steam

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CostTerm binds an error evaluator, a noise model and a loss function into
// the scalar cost loss(‖S·e‖).
type CostTerm struct {
	errorFn VectorEvaluator
	noise   *NoiseModel
	loss    LossFunction
}

// NewCostTerm returns a cost term. All arguments are required.
func NewCostTerm(errorFn VectorEvaluator, noise *NoiseModel, loss LossFunction) *CostTerm {
	mustNotBeNil(errorFn == nil, "cost term error function")
	mustNotBeNil(noise == nil, "cost term noise model")
	mustNotBeNil(loss == nil, "cost term loss function")
	return &CostTerm{errorFn: errorFn, noise: noise, loss: loss}
}

// ErrorFunction returns the error evaluator.
func (c *CostTerm) ErrorFunction() VectorEvaluator {
	return c.errorFn
}

// NoiseModel returns the noise model.
func (c *CostTerm) NoiseModel() *NoiseModel {
	return c.noise
}

// IsActive reports whether the term depends on any unlocked state.
func (c *CostTerm) IsActive() bool {
	return c.errorFn.IsActive()
}

// Cost evaluates the term without computing Jacobians.
func (c *CostTerm) Cost() float64 {
	return c.loss.Cost(c.noise.WhitenedErrorNorm(c.errorFn.Evaluate()))
}

// EvalWeightedAndWhitened returns the whitened error scaled by the square root
// of the loss weight, and appends the Jacobians scaled the same way to out.
func (c *CostTerm) EvalWeightedAndWhitened(ws *Workspace, out *Jacobians) *mat.VecDense {
	checkSink(out)
	tree := c.errorFn.EvaluateTree(ws)
	defer tree.Release()

	raw := tree.Value()
	if raw.Len() != c.noise.Dim() {
		panic(fmt.Errorf("%w: error has %d elements, noise model %d", ErrDimensionMismatch, raw.Len(), c.noise.Dim()))
	}
	white := c.noise.WhitenError(raw)
	sqrtW := math.Sqrt(c.loss.Weight(mat.Norm(white, 2)))
	white.ScaleVec(sqrtW, white)

	if c.errorFn.IsActive() {
		c.errorFn.AppendJacobians(scaled(sqrtW, c.noise.SqrtInformation()), tree, out)
	}
	return white
}
