package steam

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImplementsLossFunction(t *testing.T) {
	implements := func(LossFunction) {}
	implements(L2Loss{})
	implements(HuberLoss{})
	implements(CauchyLoss{})
	implements(GemanMcClureLoss{})
	implements(DcsLoss{})
}

func TestLossWeightIsDerivativeRatio(t *testing.T) {
	losses := []LossFunction{L2Loss{}, NewHuberLoss(1.5), NewCauchyLoss(0.8), NewGemanMcClureLoss(2), NewDcsLoss(1)}
	const h = 1e-6
	for _, l := range losses {
		assert.Zero(t, l.Cost(0), "%T", l)
		assert.InDelta(t, 1, l.Weight(0), 1e-12, "%T", l)
		for _, e := range []float64{0.1, 0.7, 1.2, 2.5, 10, -3} {
			deriv := (l.Cost(e+h) - l.Cost(e-h)) / (2 * h)
			assert.InDelta(t, deriv/e, l.Weight(e), 1e-6, fmt.Sprintf("%T at e=%f", l, e))
		}
	}
}

func TestRobustLossesDownweightOutliers(t *testing.T) {
	for _, l := range []LossFunction{NewHuberLoss(1), NewCauchyLoss(1), NewGemanMcClureLoss(1), NewDcsLoss(1)} {
		assert.Less(t, l.Weight(10), 0.5, "%T", l)
		assert.Less(t, l.Cost(10), L2Loss{}.Cost(10), "%T", l)
	}
	assert.InDelta(t, 0.5, HuberLoss{K: 1}.Cost(1), 1e-15)
	assert.InDelta(t, 1.5, HuberLoss{K: 1}.Cost(2), 1e-15)
}

func TestLossParameterMustBePositive(t *testing.T) {
	assertPanic(t, func() { NewHuberLoss(0) })
	assertPanic(t, func() { NewCauchyLoss(-1) })
	assertPanic(t, func() { NewGemanMcClureLoss(0) })
	assertPanic(t, func() { NewDcsLoss(-0.5) })
}
