package steam

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

// StateKey uniquely identifies a state variable for its whole lifetime. Clones
// share the key of the variable they were cloned from.
type StateKey uuid.UUID

// NewStateKey returns a fresh random key.
func NewStateKey() StateKey {
	return StateKey(uuid.New())
}

// String implements the Stringer interface.
func (k StateKey) String() string {
	return uuid.UUID(k).String()
}

// StateVariable is an unknown being estimated.
type StateVariable interface {
	Key() StateKey
	// PerturbDim is the size of the local tangent update.
	PerturbDim() int
	IsLocked() bool
	// SetLock must be called before the variable is added to a problem.
	SetLock(locked bool)
	// Update applies a perturbation of length PerturbDim.
	Update(perturbation mat.Vector)
	// Clone returns a deep copy sharing the same key.
	Clone() StateVariable
	// SetFromCopy overwrites the value with the one of other, which must be a
	// variable of the same kind and key.
	SetFromCopy(other StateVariable)
}

type stateBase struct {
	key        StateKey
	perturbDim int
	locked     bool
}

func newStateBase(perturbDim int) stateBase {
	return stateBase{key: NewStateKey(), perturbDim: perturbDim}
}

// Key implements the StateVariable interface.
func (s *stateBase) Key() StateKey { return s.key }

// PerturbDim implements the StateVariable interface.
func (s *stateBase) PerturbDim() int { return s.perturbDim }

// IsLocked implements the StateVariable interface.
func (s *stateBase) IsLocked() bool { return s.locked }

// SetLock implements the StateVariable interface.
func (s *stateBase) SetLock(locked bool) { s.locked = locked }

func (s *stateBase) checkCopy(other StateVariable) {
	if other == nil {
		panic(fmt.Errorf("%w: state copy source", ErrNilArgument))
	}
	if other.Key() != s.key {
		panic(fmt.Errorf("%w: cannot copy state %s into %s", ErrDuplicateKey, other.Key(), s.key))
	}
}

// VectorSpaceStateVar is a state living in Rⁿ, updated additively.
type VectorSpaceStateVar struct {
	stateBase
	value *mat.VecDense
}

// NewVectorSpaceStateVar returns an unlocked state holding a copy of v.
func NewVectorSpaceStateVar(v mat.Vector) *VectorSpaceStateVar {
	mustNotBeNil(v == nil, "vector state value")
	return &VectorSpaceStateVar{stateBase: newStateBase(v.Len()), value: mat.VecDenseCopyOf(v)}
}

// Value returns the current value. The result must not be modified.
func (s *VectorSpaceStateVar) Value() *mat.VecDense {
	return s.value
}

// SetValue overwrites the current value.
func (s *VectorSpaceStateVar) SetValue(v mat.Vector) {
	checkVecLen(v, s.perturbDim, "vector state value")
	s.value.CopyVec(v)
}

// Update implements the StateVariable interface.
func (s *VectorSpaceStateVar) Update(perturbation mat.Vector) {
	checkVecLen(perturbation, s.perturbDim, "perturbation")
	s.value.AddVec(s.value, perturbation)
}

// Clone implements the StateVariable interface.
func (s *VectorSpaceStateVar) Clone() StateVariable {
	c := *s
	c.value = mat.VecDenseCopyOf(s.value)
	return &c
}

// SetFromCopy implements the StateVariable interface.
func (s *VectorSpaceStateVar) SetFromCopy(other StateVariable) {
	s.checkCopy(other)
	o, ok := other.(*VectorSpaceStateVar)
	if !ok {
		panic(fmt.Errorf("steam: cannot copy %T into a vector space state", other))
	}
	s.value.CopyVec(o.value)
}

// TransformStateVar is a state on SE(3), updated on the left: T ← exp(δ^)·T.
type TransformStateVar struct {
	stateBase
	value se3.Transformation
}

// NewTransformStateVar returns an unlocked pose state initialized to t.
func NewTransformStateVar(t se3.Transformation) *TransformStateVar {
	if !t.IsValid() {
		panic(fmt.Errorf("%w: transform state value", ErrNilArgument))
	}
	return &TransformStateVar{stateBase: newStateBase(6), value: t}
}

// Value returns the current pose.
func (s *TransformStateVar) Value() se3.Transformation {
	return s.value
}

// SetValue overwrites the current pose.
func (s *TransformStateVar) SetValue(t se3.Transformation) {
	s.value = t
}

// Update implements the StateVariable interface.
func (s *TransformStateVar) Update(perturbation mat.Vector) {
	checkVecLen(perturbation, 6, "perturbation")
	s.value = se3.FromVec(perturbation).Mul(s.value)
}

// Clone implements the StateVariable interface. Transformations are never
// mutated in place, so the value is shared.
func (s *TransformStateVar) Clone() StateVariable {
	c := *s
	return &c
}

// SetFromCopy implements the StateVariable interface.
func (s *TransformStateVar) SetFromCopy(other StateVariable) {
	s.checkCopy(other)
	o, ok := other.(*TransformStateVar)
	if !ok {
		panic(fmt.Errorf("steam: cannot copy %T into a transform state", other))
	}
	s.value = o.value
}

// LandmarkStateVar is a 3D point, optionally expressed in a reference frame
// given by a pose evaluator T_ref (mapping the global frame to the reference
// frame).
type LandmarkStateVar struct {
	VectorSpaceStateVar
	refFrame TransformEvaluator
}

// NewLandmarkStateVar returns a landmark at the global point p.
func NewLandmarkStateVar(p mat.Vector) *LandmarkStateVar {
	checkVecLen(p, 3, "landmark")
	return &LandmarkStateVar{VectorSpaceStateVar: *NewVectorSpaceStateVar(p)}
}

// NewLandmarkStateVarInFrame returns a landmark at p, expressed in refFrame.
func NewLandmarkStateVarInFrame(p mat.Vector, refFrame TransformEvaluator) *LandmarkStateVar {
	mustNotBeNil(refFrame == nil, "landmark reference frame")
	l := NewLandmarkStateVar(p)
	l.refFrame = refFrame
	return l
}

// HasReferenceFrame reports whether the point is expressed in a local frame.
func (l *LandmarkStateVar) HasReferenceFrame() bool {
	return l.refFrame != nil
}

// ReferenceFrame returns the reference frame evaluator, or nil.
func (l *LandmarkStateVar) ReferenceFrame() TransformEvaluator {
	return l.refFrame
}

// GlobalValue returns the point in the global frame.
func (l *LandmarkStateVar) GlobalValue() *mat.VecDense {
	if l.refFrame == nil {
		return mat.VecDenseCopyOf(l.value)
	}
	return l.refFrame.Evaluate().Inverse().TransformPoint(l.value)
}

// Clone implements the StateVariable interface.
func (l *LandmarkStateVar) Clone() StateVariable {
	c := *l
	c.value = mat.VecDenseCopyOf(l.value)
	return &c
}

// SetFromCopy implements the StateVariable interface.
func (l *LandmarkStateVar) SetFromCopy(other StateVariable) {
	l.checkCopy(other)
	o, ok := other.(*LandmarkStateVar)
	if !ok {
		panic(fmt.Errorf("steam: cannot copy %T into a landmark state", other))
	}
	l.value.CopyVec(o.value)
}
