package steam

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/andre-nguyen/steam/se3"
)

// DefaultPoolCapacity is the number of nodes of each kind a Workspace holds.
const DefaultPoolCapacity = 128

// TreeNode is a node of a cached evaluation tree, regardless of its value type.
type TreeNode interface {
	// Release returns the node and its whole subtree to their pools.
	Release()
}

// EvalTreeNode caches the value of one evaluator and the evaluated subtrees of
// its children. Nodes come from a Pool and only live for one evaluation pass.
type EvalTreeNode[T any] struct {
	value    T
	children []TreeNode
	pool     *Pool[T]
	slot     int
}

// Value returns the cached value.
func (n *EvalTreeNode[T]) Value() T {
	return n.value
}

// SetValue sets the cached value.
func (n *EvalTreeNode[T]) SetValue(v T) {
	n.value = v
}

// AddChild appends a child subtree.
func (n *EvalTreeNode[T]) AddChild(c TreeNode) {
	n.children = append(n.children, c)
}

// NumChildren returns the number of child subtrees.
func (n *EvalTreeNode[T]) NumChildren() int {
	return len(n.children)
}

// Child returns the i-th child subtree.
func (n *EvalTreeNode[T]) Child(i int) TreeNode {
	return n.children[i]
}

// Release implements the TreeNode interface.
func (n *EvalTreeNode[T]) Release() {
	for _, c := range n.children {
		c.Release()
	}
	if n.pool != nil {
		n.pool.Release(n)
	}
}

// childAs returns the i-th child of n with its concrete value type.
func childAs[C, T any](n *EvalTreeNode[T], i int) *EvalTreeNode[C] {
	c, ok := n.children[i].(*EvalTreeNode[C])
	if !ok {
		panic(fmt.Errorf("steam: child %d of %T is a %T", i, n, n.children[i]))
	}
	return c
}

// Pool is a bounded set of reusable tree nodes. A Pool is owned by a single
// goroutine.
type Pool[T any] struct {
	nodes     []EvalTreeNode[T]
	available []bool
	cursor    int
	live      int
}

// NewPool returns a pool of capacity pre-allocated nodes.
func NewPool[T any](capacity int) *Pool[T] {
	if capacity < 1 {
		panic(fmt.Errorf("steam: pool capacity must be positive, got %d", capacity))
	}
	p := &Pool[T]{
		nodes:     make([]EvalTreeNode[T], capacity),
		available: make([]bool, capacity),
	}
	for i := range p.nodes {
		p.nodes[i].pool = p
		p.nodes[i].slot = i
		p.available[i] = true
	}
	return p
}

// Acquire returns a free node, scanning forward from the slot after the last
// one handed out. It panics with ErrPoolExhausted when every node is live.
func (p *Pool[T]) Acquire() *EvalTreeNode[T] {
	n := len(p.nodes)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.available[idx] {
			p.available[idx] = false
			p.cursor = (idx + 1) % n
			p.live++
			return &p.nodes[idx]
		}
	}
	panic(fmt.Errorf("%w: all %d nodes are live, release trees after use", ErrPoolExhausted, n))
}

// Release resets node and makes its slot available again. Releasing a node of
// another pool or releasing twice panics.
func (p *Pool[T]) Release(node *EvalTreeNode[T]) {
	if node.pool != p || &p.nodes[node.slot] != node {
		panic(errors.New("steam: node does not belong to this pool"))
	}
	if p.available[node.slot] {
		panic(fmt.Errorf("steam: node %d released twice", node.slot))
	}
	var zero T
	node.value = zero
	clear(node.children)
	node.children = node.children[:0]
	p.available[node.slot] = true
	p.live--
}

// Reset frees every node, live or not. Trees still referencing the pool must
// not be used afterwards.
func (p *Pool[T]) Reset() {
	var zero T
	for i := range p.nodes {
		p.nodes[i].value = zero
		clear(p.nodes[i].children)
		p.nodes[i].children = p.nodes[i].children[:0]
		p.available[i] = true
	}
	p.cursor = 0
	p.live = 0
}

// Live returns the number of acquired nodes.
func (p *Pool[T]) Live() int {
	return p.live
}

// Cap returns the pool capacity.
func (p *Pool[T]) Cap() int {
	return len(p.nodes)
}

// Workspace owns the node pools of one worker. Evaluation trees built with a
// workspace must be released before the workspace is used by another pass.
type Workspace struct {
	Transforms *Pool[se3.Transformation]
	Vectors    *Pool[*mat.VecDense]
}

// NewWorkspace returns a workspace whose pools hold capacity nodes each.
func NewWorkspace(capacity int) *Workspace {
	return &Workspace{
		Transforms: NewPool[se3.Transformation](capacity),
		Vectors:    NewPool[*mat.VecDense](capacity),
	}
}

// NewWorkspaces returns n workspaces, one per worker.
func NewWorkspaces(n, capacity int) []*Workspace {
	ws := make([]*Workspace, n)
	for i := range ws {
		ws[i] = NewWorkspace(capacity)
	}
	return ws
}

// Cap returns the capacity of each pool.
func (w *Workspace) Cap() int {
	return w.Transforms.Cap()
}

// Reset frees every node of every pool.
func (w *Workspace) Reset() {
	w.Transforms.Reset()
	w.Vectors.Reset()
}

// Live returns the number of acquired nodes over all pools.
func (w *Workspace) Live() int {
	return w.Transforms.Live() + w.Vectors.Live()
}
