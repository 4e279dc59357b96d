package steam

import (
	"fmt"
	"math"
)

// LossFunction robustifies a cost term. Both methods take the whitened error
// norm e. Weight is the iteratively reweighted least-squares weight, i.e.
// ρ'(e)/e.
type LossFunction interface {
	Cost(e float64) float64
	Weight(e float64) float64
}

// L2Loss is the plain least-squares loss ½e².
type L2Loss struct{}

// Cost implements the LossFunction interface.
func (L2Loss) Cost(e float64) float64 { return 0.5 * e * e }

// Weight implements the LossFunction interface.
func (L2Loss) Weight(float64) float64 { return 1 }

func checkLossParam(name string, k float64) {
	if !(k > 0) {
		panic(fmt.Errorf("steam: %s loss parameter must be positive, got %f", name, k))
	}
}

// HuberLoss is quadratic below K and linear above.
type HuberLoss struct {
	K float64
}

// NewHuberLoss returns a Huber loss with threshold k.
func NewHuberLoss(k float64) HuberLoss {
	checkLossParam("huber", k)
	return HuberLoss{K: k}
}

// Cost implements the LossFunction interface.
func (l HuberLoss) Cost(e float64) float64 {
	a := math.Abs(e)
	if a <= l.K {
		return 0.5 * e * e
	}
	return l.K * (a - 0.5*l.K)
}

// Weight implements the LossFunction interface.
func (l HuberLoss) Weight(e float64) float64 {
	a := math.Abs(e)
	if a <= l.K {
		return 1
	}
	return l.K / a
}

// CauchyLoss is ½K²·ln(1 + (e/K)²).
type CauchyLoss struct {
	K float64
}

// NewCauchyLoss returns a Cauchy loss with scale k.
func NewCauchyLoss(k float64) CauchyLoss {
	checkLossParam("cauchy", k)
	return CauchyLoss{K: k}
}

// Cost implements the LossFunction interface.
func (l CauchyLoss) Cost(e float64) float64 {
	r := e / l.K
	return 0.5 * l.K * l.K * math.Log1p(r*r)
}

// Weight implements the LossFunction interface.
func (l CauchyLoss) Weight(e float64) float64 {
	r := e / l.K
	return 1 / (1 + r*r)
}

// GemanMcClureLoss is ½K²e²/(K² + e²).
type GemanMcClureLoss struct {
	K float64
}

// NewGemanMcClureLoss returns a Geman-McClure loss with scale k.
func NewGemanMcClureLoss(k float64) GemanMcClureLoss {
	checkLossParam("geman-mcclure", k)
	return GemanMcClureLoss{K: k}
}

// Cost implements the LossFunction interface.
func (l GemanMcClureLoss) Cost(e float64) float64 {
	e2, k2 := e*e, l.K*l.K
	return 0.5 * k2 * e2 / (k2 + e2)
}

// Weight implements the LossFunction interface.
func (l GemanMcClureLoss) Weight(e float64) float64 {
	k2 := l.K * l.K
	d := k2 + e*e
	return k2 * k2 / (d * d)
}

// DcsLoss is the dynamic covariance scaling loss: quadratic while e² ≤ K²,
// then bounded.
type DcsLoss struct {
	K float64
}

// NewDcsLoss returns a DCS loss with threshold k.
func NewDcsLoss(k float64) DcsLoss {
	checkLossParam("dcs", k)
	return DcsLoss{K: k}
}

// Cost implements the LossFunction interface.
func (l DcsLoss) Cost(e float64) float64 {
	e2, k2 := e*e, l.K*l.K
	if e2 <= k2 {
		return 0.5 * e2
	}
	return 2*k2*e2/(k2+e2) - 0.5*k2
}

// Weight implements the LossFunction interface.
func (l DcsLoss) Weight(e float64) float64 {
	e2, k2 := e*e, l.K*l.K
	if e2 <= k2 {
		return 1
	}
	d := k2 + e2
	return 4 * k2 * k2 / (d * d)
}
