package steam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type stateContainer struct {
	state StateVariable
	// blockIndex is -1 for locked variables.
	blockIndex int
}

// StateVector maps state keys to their variables and to the block layout of
// the linear system. Block indices are assigned in insertion order among the
// unlocked variables only, so the lock state of a variable must not change
// once it has been added.
type StateVector struct {
	states    map[StateKey]stateContainer
	order     []StateKey
	numBlocks int
}

// NewStateVector returns an empty state vector.
func NewStateVector() *StateVector {
	return &StateVector{states: make(map[StateKey]stateContainer)}
}

// AddStateVariable inserts s. Adding a key twice panics with ErrDuplicateKey.
func (sv *StateVector) AddStateVariable(s StateVariable) {
	mustNotBeNil(s == nil, "state variable")
	if _, exists := sv.states[s.Key()]; exists {
		panic(fmt.Errorf("%w: %s", ErrDuplicateKey, s.Key()))
	}
	idx := -1
	if !s.IsLocked() {
		idx = sv.numBlocks
		sv.numBlocks++
	}
	sv.states[s.Key()] = stateContainer{state: s, blockIndex: idx}
	sv.order = append(sv.order, s.Key())
}

// HasStateVariable reports whether key was added.
func (sv *StateVector) HasStateVariable(key StateKey) bool {
	_, ok := sv.states[key]
	return ok
}

// StateVariable returns the variable stored under key.
func (sv *StateVector) StateVariable(key StateKey) (StateVariable, bool) {
	c, ok := sv.states[key]
	return c.state, ok
}

// StateVariables returns all variables in insertion order.
func (sv *StateVector) StateVariables() []StateVariable {
	out := make([]StateVariable, len(sv.order))
	for i, k := range sv.order {
		out[i] = sv.states[k].state
	}
	return out
}

// NumberOfStates returns the number of variables, locked ones included.
func (sv *StateVector) NumberOfStates() int {
	return len(sv.order)
}

// NumberOfBlocks returns the number of unlocked variables.
func (sv *StateVector) NumberOfBlocks() int {
	return sv.numBlocks
}

// BlockIndex returns the block index of key, or -1 when the variable is
// locked. An unknown key panics with ErrUnknownState.
func (sv *StateVector) BlockIndex(key StateKey) int {
	c, ok := sv.states[key]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrUnknownState, key))
	}
	return c.blockIndex
}

// BlockSizes returns the perturbation dimension of every unlocked variable,
// in block index order.
func (sv *StateVector) BlockSizes() []int {
	sizes := make([]int, 0, sv.numBlocks)
	for _, k := range sv.order {
		if c := sv.states[k]; c.blockIndex >= 0 {
			sizes = append(sizes, c.state.PerturbDim())
		}
	}
	return sizes
}

// TotalDim returns the size of the linear system.
func (sv *StateVector) TotalDim() int {
	total := 0
	for _, s := range sv.BlockSizes() {
		total += s
	}
	return total
}

// Update applies a full-system perturbation, slicing it by block index.
func (sv *StateVector) Update(perturbation mat.Vector) {
	checkVecLen(perturbation, sv.TotalDim(), "state perturbation")
	offset := 0
	for _, k := range sv.order {
		c := sv.states[k]
		if c.blockIndex < 0 {
			continue
		}
		dim := c.state.PerturbDim()
		c.state.Update(subVector(perturbation, offset, dim))
		offset += dim
	}
}

// Clone returns a deep copy of the state vector, sharing keys and layout.
func (sv *StateVector) Clone() *StateVector {
	out := &StateVector{
		states:    make(map[StateKey]stateContainer, len(sv.states)),
		order:     append([]StateKey(nil), sv.order...),
		numBlocks: sv.numBlocks,
	}
	for k, c := range sv.states {
		out.states[k] = stateContainer{state: c.state.Clone(), blockIndex: c.blockIndex}
	}
	return out
}

// CopyValues overwrites every value with the one of the same key in other.
// Both vectors must hold the same keys.
func (sv *StateVector) CopyValues(other *StateVector) {
	mustNotBeNil(other == nil, "state vector")
	if len(other.states) != len(sv.states) {
		panic(fmt.Errorf("%w: state vectors hold %d and %d states", ErrDimensionMismatch, len(sv.states), len(other.states)))
	}
	for k, c := range sv.states {
		o, ok := other.states[k]
		if !ok {
			panic(fmt.Errorf("%w: %s", ErrUnknownState, k))
		}
		c.state.SetFromCopy(o.state)
	}
}

// subVector returns a copy of v[offset:offset+n].
func subVector(v mat.Vector, offset, n int) *mat.VecDense {
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, v.AtVec(offset+i))
	}
	return out
}
