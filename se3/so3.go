// Package se3 implements the closed-form Lie group operations on SO(3) and
// SE(3) used by the estimator: exponential and logarithm maps, adjoints and
// the left Jacobians of the exponential map.
//
// Conventions: a tangent vector ξ = [ρ; φ] stacks translation over rotation,
// and perturbations are applied on the left, T ← exp(δ^)·T.
package se3

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// smallAngle is the rotation angle below which closed forms are replaced by
	// their Taylor expansions.
	smallAngle = 1e-10
	// seriesAngle is the threshold for the SE(3) Q-matrix series expansion,
	// whose closed form cancels catastrophically for small angles.
	seriesAngle = 1e-2
	// nearPi bounds the distance to π under which the rotation axis is
	// recovered from the symmetric part of the rotation matrix.
	nearPi = 1e-6
)

// Identity returns an n×n identity matrix.
func Identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// Hat returns the 3×3 skew-symmetric matrix of v, such that Hat(a)·b = a×b.
func Hat(v mat.Vector) *mat.Dense {
	x, y, z := v.AtVec(0), v.AtVec(1), v.AtVec(2)
	return mat.NewDense(3, 3, []float64{
		0, -z, y,
		z, 0, -x,
		-y, x, 0,
	})
}

// vee is the inverse of Hat applied to the skew part of m: it returns
// [m21-m12, m02-m20, m10-m01].
func vee(m mat.Matrix) *mat.VecDense {
	return mat.NewVecDense(3, []float64{
		m.At(2, 1) - m.At(1, 2),
		m.At(0, 2) - m.At(2, 0),
		m.At(1, 0) - m.At(0, 1),
	})
}

func checkLen(v mat.Vector, n int) {
	if v.Len() != n {
		panic(fmt.Errorf("se3: expected a vector of length %d, got %d", n, v.Len()))
	}
}

// axisAngle splits phi into its unit axis and angle. The axis is nil when the
// angle is below smallAngle.
func axisAngle(phi mat.Vector) (*mat.VecDense, float64) {
	angle := mat.Norm(phi, 2)
	if angle < smallAngle {
		return nil, angle
	}
	a := mat.NewVecDense(3, nil)
	a.ScaleVec(1/angle, phi)
	return a, angle
}

// Vec2Rot is the SO(3) exponential map (Rodrigues' formula).
func Vec2Rot(phi mat.Vector) *mat.Dense {
	checkLen(phi, 3)
	a, angle := axisAngle(phi)
	C := Identity(3)
	if a == nil {
		// C ≈ I + φ^ + ½φ^φ^
		h := Hat(phi)
		var hh mat.Dense
		hh.Mul(h, h)
		hh.Scale(0.5, &hh)
		C.Add(C, h)
		C.Add(C, &hh)
		return C
	}
	half := 0.5 * angle
	oneMinusCos := 2 * math.Sin(half) * math.Sin(half)
	C.Scale(math.Cos(angle), C)
	var aat mat.Dense
	aat.Outer(oneMinusCos, a, a)
	C.Add(C, &aat)
	h := Hat(a)
	h.Scale(math.Sin(angle), h)
	C.Add(C, h)
	return C
}

// Rot2Vec is the SO(3) logarithm map. The returned angle lies in [0, π].
func Rot2Vec(C mat.Matrix) *mat.VecDense {
	v := vee(C) // 2·sin(φ)·a
	s := 0.5 * mat.Norm(v, 2)
	c := 0.5 * (C.At(0, 0) + C.At(1, 1) + C.At(2, 2) - 1)
	angle := math.Atan2(s, c)

	if math.Pi-angle > nearPi {
		scale := 0.5
		if s > smallAngle {
			scale = angle / (2 * s)
		}
		phi := mat.NewVecDense(3, nil)
		phi.ScaleVec(scale, v)
		return phi
	}

	// Near π the skew part vanishes, use the symmetric part instead:
	// (C + Cᵀ)/2 = cos(φ)I + (1-cos(φ))aaᵀ.
	denom := 1 - c
	aat := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sym := 0.5 * (C.At(i, j) + C.At(j, i))
			if i == j {
				sym -= c
			}
			aat.Set(i, j, sym/denom)
		}
	}
	k := 0
	for i := 1; i < 3; i++ {
		if aat.At(i, i) > aat.At(k, k) {
			k = i
		}
	}
	ak := math.Sqrt(math.Max(aat.At(k, k), 0))
	a := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		if i == k {
			a.SetVec(i, ak)
		} else {
			a.SetVec(i, aat.At(k, i)/ak)
		}
	}
	if mat.Dot(a, v) < 0 {
		a.ScaleVec(-1, a)
	}
	a.ScaleVec(angle/mat.Norm(a, 2), a)
	return a
}

// Vec2JacSO3 returns the left Jacobian of SO(3) evaluated at phi.
func Vec2JacSO3(phi mat.Vector) *mat.Dense {
	checkLen(phi, 3)
	a, angle := axisAngle(phi)
	J := Identity(3)
	if a == nil {
		h := Hat(phi)
		h.Scale(0.5, h)
		J.Add(J, h)
		return J
	}
	half := 0.5 * angle
	sinc := math.Sin(angle) / angle
	J.Scale(sinc, J)
	var aat mat.Dense
	aat.Outer(1-sinc, a, a)
	J.Add(J, &aat)
	h := Hat(a)
	h.Scale(2*math.Sin(half)*math.Sin(half)/angle, h)
	J.Add(J, h)
	return J
}

// Vec2JacInvSO3 returns the inverse of the left Jacobian of SO(3) at phi.
func Vec2JacInvSO3(phi mat.Vector) *mat.Dense {
	checkLen(phi, 3)
	a, angle := axisAngle(phi)
	J := Identity(3)
	if a == nil {
		h := Hat(phi)
		h.Scale(-0.5, h)
		J.Add(J, h)
		return J
	}
	half := 0.5 * angle
	halfCot := half / math.Tan(half)
	J.Scale(halfCot, J)
	var aat mat.Dense
	aat.Outer(1-halfCot, a, a)
	J.Add(J, &aat)
	h := Hat(a)
	h.Scale(-half, h)
	J.Add(J, h)
	return J
}
