package steam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Jacobian is the derivative of an evaluator output with respect to the local
// perturbation of the state named by Key.
type Jacobian struct {
	Key   StateKey
	Block *mat.Dense
}

// Jacobians collects the contributions of an evaluator tree. Contributions for
// a key already present are summed into the existing entry, so every key
// appears once, in order of first contribution.
type Jacobians struct {
	entries []Jacobian
	index   map[StateKey]int
}

// NewJacobians returns an empty sink.
func NewJacobians() *Jacobians {
	return &Jacobians{index: make(map[StateKey]int)}
}

// Add records block as a contribution for key. The block is copied.
func (j *Jacobians) Add(key StateKey, block mat.Matrix) {
	if i, ok := j.index[key]; ok {
		existing := j.entries[i].Block
		if err := checkMatDims(existing, block, "jacobian", "contribution", rowsAndcols); err != nil {
			panic(fmt.Errorf("key %s: %w", key, err))
		}
		existing.Add(existing, block)
		return
	}
	j.index[key] = len(j.entries)
	j.entries = append(j.entries, Jacobian{Key: key, Block: mat.DenseCopyOf(block)})
}

// Len returns the number of distinct keys.
func (j *Jacobians) Len() int {
	return len(j.entries)
}

// Entries returns the merged contributions. The slice is owned by the sink.
func (j *Jacobians) Entries() []Jacobian {
	return j.entries
}

// Get returns the block for key.
func (j *Jacobians) Get(key StateKey) (*mat.Dense, bool) {
	i, ok := j.index[key]
	if !ok {
		return nil, false
	}
	return j.entries[i].Block, true
}

// Reset empties the sink so it can be reused.
func (j *Jacobians) Reset() {
	clear(j.entries)
	j.entries = j.entries[:0]
	clear(j.index)
}

func checkSink(out *Jacobians) {
	mustNotBeNil(out == nil, "jacobian sink")
}

// appendLeafJacobian is the Jacobian rule of a state reference: the state
// contributes lhs itself, or nothing when it is locked.
func appendLeafJacobian(s StateVariable, lhs *mat.Dense, out *Jacobians) {
	checkSink(out)
	if s.IsLocked() {
		return
	}
	if _, c := lhs.Dims(); c != s.PerturbDim() {
		panic(fmt.Errorf("%w: lhs has %d columns, state %s has perturbation dimension %d",
			ErrDimensionMismatch, c, s.Key(), s.PerturbDim()))
	}
	out.Add(s.Key(), lhs)
}
