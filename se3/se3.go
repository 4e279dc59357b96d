package se3

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transformation is an element of SE(3), stored as a rotation matrix C and a
// translation r. The zero value is not a valid transformation; use
// NewIdentity.
type Transformation struct {
	c *mat.Dense
	r *mat.VecDense
}

// NewIdentity returns the identity transformation.
func NewIdentity() Transformation {
	return Transformation{c: Identity(3), r: mat.NewVecDense(3, nil)}
}

// NewTransformation builds a transformation from a copy of the given rotation
// matrix and translation.
func NewTransformation(C mat.Matrix, r mat.Vector) Transformation {
	if rows, cols := C.Dims(); rows != 3 || cols != 3 {
		panic(fmt.Errorf("se3: rotation must be 3x3, got %dx%d", rows, cols))
	}
	checkLen(r, 3)
	return Transformation{c: mat.DenseCopyOf(C), r: mat.VecDenseCopyOf(r)}
}

// FromVec is the SE(3) exponential map of xi = [ρ; φ].
func FromVec(xi mat.Vector) Transformation {
	rho, phi := splitVec(xi)
	r := mat.NewVecDense(3, nil)
	r.MulVec(Vec2JacSO3(phi), rho)
	return Transformation{c: Vec2Rot(phi), r: r}
}

// IsValid reports whether t holds a rotation and a translation.
func (t Transformation) IsValid() bool {
	return t.c != nil && t.r != nil
}

// C returns the rotation matrix. The result must not be modified.
func (t Transformation) C() mat.Matrix {
	return t.c
}

// R returns the translation. The result must not be modified.
func (t Transformation) R() mat.Vector {
	return t.r
}

// Vec is the SE(3) logarithm map, returning ξ = [ρ; φ].
func (t Transformation) Vec() *mat.VecDense {
	phi := Rot2Vec(t.c)
	rho := mat.NewVecDense(3, nil)
	rho.MulVec(Vec2JacInvSO3(phi), t.r)
	return mat.NewVecDense(6, []float64{
		rho.AtVec(0), rho.AtVec(1), rho.AtVec(2),
		phi.AtVec(0), phi.AtVec(1), phi.AtVec(2),
	})
}

// Inverse returns T⁻¹.
func (t Transformation) Inverse() Transformation {
	c := mat.DenseCopyOf(t.c.T())
	r := mat.NewVecDense(3, nil)
	r.MulVec(c, t.r)
	r.ScaleVec(-1, r)
	return Transformation{c: c, r: r}
}

// Mul returns the composition t·o.
func (t Transformation) Mul(o Transformation) Transformation {
	c := mat.NewDense(3, 3, nil)
	c.Mul(t.c, o.c)
	r := mat.NewVecDense(3, nil)
	r.MulVec(t.c, o.r)
	r.AddVec(r, t.r)
	return Transformation{c: c, r: r}
}

// TransformPoint returns C·p + r for a 3D point p.
func (t Transformation) TransformPoint(p mat.Vector) *mat.VecDense {
	checkLen(p, 3)
	out := mat.NewVecDense(3, nil)
	out.MulVec(t.c, p)
	out.AddVec(out, t.r)
	return out
}

// Adjoint returns the 6×6 adjoint [C r^C; 0 C].
func (t Transformation) Adjoint() *mat.Dense {
	ad := mat.NewDense(6, 6, nil)
	var rc mat.Dense
	rc.Mul(Hat(t.r), t.c)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			ad.Set(i, j, t.c.At(i, j))
			ad.Set(i+3, j+3, t.c.At(i, j))
			ad.Set(i, j+3, rc.At(i, j))
		}
	}
	return ad
}

// Matrix returns the 4×4 homogeneous matrix of t.
func (t Transformation) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, t.c.At(i, j))
		}
		m.Set(i, 3, t.r.AtVec(i))
	}
	m.Set(3, 3, 1)
	return m
}

// String implements the Stringer interface.
func (t Transformation) String() string {
	if !t.IsValid() {
		return "Transformation{<invalid>}"
	}
	return fmt.Sprintf("Transformation{\n%v}", mat.Formatted(t.Matrix(), mat.Prefix("  ")))
}

// CurlyHat returns the 6×6 matrix ξ⋏ = [φ^ ρ^; 0 φ^].
func CurlyHat(xi mat.Vector) *mat.Dense {
	rho, phi := splitVec(xi)
	ph, rh := Hat(phi), Hat(rho)
	out := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, ph.At(i, j))
			out.Set(i+3, j+3, ph.At(i, j))
			out.Set(i, j+3, rh.At(i, j))
		}
	}
	return out
}

// qMatrix returns the 3×3 off-diagonal block of the SE(3) left Jacobian.
func qMatrix(rho, phi mat.Vector) *mat.Dense {
	angle := mat.Norm(phi, 2)
	rx, px := Hat(rho), Hat(phi)

	var c1, c2, c3 float64
	a2 := angle * angle
	if angle < seriesAngle {
		c1 = 1.0/6 - a2/120 + a2*a2/5040
		c2 = 1.0/24 - a2/720 + a2*a2/40320
		c3 = 1.0/120 - a2/2520
	} else {
		s, c := math.Sin(angle), math.Cos(angle)
		c1 = (angle - s) / (a2 * angle)
		c2 = (a2 + 2*c - 2) / (2 * a2 * a2)
		c3 = (2*angle - 3*s + angle*c) / (2 * a2 * a2 * angle)
	}

	mul := func(ms ...mat.Matrix) *mat.Dense {
		out := mat.DenseCopyOf(ms[0])
		for _, m := range ms[1:] {
			var tmp mat.Dense
			tmp.Mul(out, m)
			out = &tmp
		}
		return out
	}

	pr := mul(px, rx)
	rp := mul(rx, px)
	prp := mul(px, rx, px)
	ppr := mul(px, px, rx)
	rpp := mul(rx, px, px)
	prpp := mul(px, rx, px, px)
	pprp := mul(px, px, rx, px)

	q := mat.DenseCopyOf(rx)
	q.Scale(0.5, q)

	var t1, t2, t3 mat.Dense
	t1.Add(pr, rp)
	t1.Add(&t1, prp)
	t1.Scale(c1, &t1)

	t2.Add(ppr, rpp)
	prp.Scale(3, prp)
	t2.Sub(&t2, prp)
	t2.Scale(c2, &t2)

	t3.Add(prpp, pprp)
	t3.Scale(c3, &t3)

	q.Add(q, &t1)
	q.Add(q, &t2)
	q.Add(q, &t3)
	return q
}

func splitVec(xi mat.Vector) (rho, phi *mat.VecDense) {
	checkLen(xi, 6)
	rho = mat.NewVecDense(3, []float64{xi.AtVec(0), xi.AtVec(1), xi.AtVec(2)})
	phi = mat.NewVecDense(3, []float64{xi.AtVec(3), xi.AtVec(4), xi.AtVec(5)})
	return rho, phi
}

func blockDiag(j, q *mat.Dense) *mat.Dense {
	out := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			out.Set(i, k, j.At(i, k))
			out.Set(i+3, k+3, j.At(i, k))
			out.Set(i, k+3, q.At(i, k))
		}
	}
	return out
}

// Vec2Jac returns the 6×6 left Jacobian of SE(3) at xi.
func Vec2Jac(xi mat.Vector) *mat.Dense {
	rho, phi := splitVec(xi)
	return blockDiag(Vec2JacSO3(phi), qMatrix(rho, phi))
}

// Vec2JacInv returns the inverse of the 6×6 left Jacobian of SE(3) at xi.
func Vec2JacInv(xi mat.Vector) *mat.Dense {
	rho, phi := splitVec(xi)
	jinv := Vec2JacInvSO3(phi)
	q := qMatrix(rho, phi)
	var off mat.Dense
	off.Mul(jinv, q)
	off.Mul(&off, jinv)
	off.Scale(-1, &off)
	return blockDiag(jinv, &off)
}
