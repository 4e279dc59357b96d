package steam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BlockDimIndexing maps block indices to scalar offsets.
type BlockDimIndexing struct {
	sizes   []int
	offsets []int
	total   int
}

// NewBlockDimIndexing returns the indexing of consecutive blocks of the given
// sizes.
func NewBlockDimIndexing(sizes []int) BlockDimIndexing {
	idx := BlockDimIndexing{sizes: append([]int(nil), sizes...), offsets: make([]int, len(sizes))}
	for i, s := range sizes {
		if s < 1 {
			panic(fmt.Errorf("%w: block %d has size %d", ErrDimensionMismatch, i, s))
		}
		idx.offsets[i] = idx.total
		idx.total += s
	}
	return idx
}

// NumBlocks returns the number of blocks.
func (b BlockDimIndexing) NumBlocks() int { return len(b.sizes) }

// Size returns the size of block i.
func (b BlockDimIndexing) Size(i int) int { return b.sizes[i] }

// Offset returns the scalar offset of block i.
func (b BlockDimIndexing) Offset(i int) int { return b.offsets[i] }

// Sizes returns a copy of the block sizes.
func (b BlockDimIndexing) Sizes() []int { return append([]int(nil), b.sizes...) }

// TotalDim returns the sum of the block sizes.
func (b BlockDimIndexing) TotalDim() int { return b.total }

func (b BlockDimIndexing) checkBlock(i int) {
	if i < 0 || i >= len(b.sizes) {
		panic(fmt.Errorf("%w: block index %d out of range [0, %d)", ErrDimensionMismatch, i, len(b.sizes)))
	}
}

// BlockVector is a dense vector tiled by a BlockDimIndexing.
type BlockVector struct {
	idx  BlockDimIndexing
	data *mat.VecDense
}

// NewBlockVector returns a zero block vector with the given block sizes.
func NewBlockVector(sizes []int) *BlockVector {
	idx := NewBlockDimIndexing(sizes)
	return &BlockVector{idx: idx, data: mat.NewVecDense(idx.TotalDim(), nil)}
}

// Indexing returns the block layout.
func (v *BlockVector) Indexing() BlockDimIndexing { return v.idx }

// Add accumulates x into block i.
func (v *BlockVector) Add(i int, x mat.Vector) {
	v.idx.checkBlock(i)
	checkVecLen(x, v.idx.Size(i), "block vector entry")
	off := v.idx.Offset(i)
	for k := 0; k < x.Len(); k++ {
		v.data.SetVec(off+k, v.data.AtVec(off+k)+x.AtVec(k))
	}
}

// At returns a copy of block i.
func (v *BlockVector) At(i int) *mat.VecDense {
	v.idx.checkBlock(i)
	return subVector(v.data, v.idx.Offset(i), v.idx.Size(i))
}

// VecDense returns the underlying scalar vector.
func (v *BlockVector) VecDense() *mat.VecDense { return v.data }

// SetFromScalar overwrites the content with a scalar vector of the total
// dimension.
func (v *BlockVector) SetFromScalar(x mat.Vector) {
	checkVecLen(x, v.idx.TotalDim(), "block vector")
	v.data.CopyVec(x)
}

// AddVector accumulates o, which must have the same layout.
func (v *BlockVector) AddVector(o *BlockVector) {
	checkVecLen(o.data, v.idx.TotalDim(), "block vector")
	v.data.AddVec(v.data, o.data)
}

type blockKey struct {
	row, col int
}

// BlockSparseMatrix is a symmetric matrix tiled by a BlockDimIndexing, storing
// only the non-zero blocks of its upper triangle.
type BlockSparseMatrix struct {
	idx    BlockDimIndexing
	blocks map[blockKey]*mat.Dense
}

// NewSymmetricBlockSparseMatrix returns an empty matrix with the given block
// sizes on both axes.
func NewSymmetricBlockSparseMatrix(sizes []int) *BlockSparseMatrix {
	return &BlockSparseMatrix{idx: NewBlockDimIndexing(sizes), blocks: make(map[blockKey]*mat.Dense)}
}

// Indexing returns the block layout.
func (m *BlockSparseMatrix) Indexing() BlockDimIndexing { return m.idx }

// Add accumulates x into the upper block (r, c). Lower blocks are implied by
// symmetry and cannot be written.
func (m *BlockSparseMatrix) Add(r, c int, x mat.Matrix) {
	m.idx.checkBlock(r)
	m.idx.checkBlock(c)
	if r > c {
		panic(fmt.Errorf("%w: block (%d, %d) is below the diagonal of a symmetric matrix", ErrDimensionMismatch, r, c))
	}
	if xr, xc := x.Dims(); xr != m.idx.Size(r) || xc != m.idx.Size(c) {
		panic(fmt.Errorf("%w: block (%d, %d) is %dx%d, got %dx%d", ErrDimensionMismatch,
			r, c, m.idx.Size(r), m.idx.Size(c), xr, xc))
	}
	k := blockKey{r, c}
	if b, ok := m.blocks[k]; ok {
		b.Add(b, x)
		return
	}
	m.blocks[k] = mat.DenseCopyOf(x)
}

// At returns block (r, c), mirroring the upper triangle, and whether it is
// stored.
func (m *BlockSparseMatrix) At(r, c int) (mat.Matrix, bool) {
	if r > c {
		b, ok := m.blocks[blockKey{c, r}]
		if !ok {
			return nil, false
		}
		return b.T(), true
	}
	b, ok := m.blocks[blockKey{r, c}]
	if !ok {
		return nil, false
	}
	return b, true
}

// NonZeroBlocks returns the number of stored upper blocks.
func (m *BlockSparseMatrix) NonZeroBlocks() int {
	return len(m.blocks)
}

// AddMatrix accumulates o, which must have the same layout.
func (m *BlockSparseMatrix) AddMatrix(o *BlockSparseMatrix) {
	if o.idx.TotalDim() != m.idx.TotalDim() || o.idx.NumBlocks() != m.idx.NumBlocks() {
		panic(fmt.Errorf("%w: block matrices have different layouts", ErrDimensionMismatch))
	}
	for k, b := range o.blocks {
		m.Add(k.row, k.col, b)
	}
}

// SymDense returns the full scalar matrix, the upper blocks mirrored below the
// diagonal.
func (m *BlockSparseMatrix) SymDense() *mat.SymDense {
	out := mat.NewSymDense(m.idx.TotalDim(), nil)
	for k, b := range m.blocks {
		ro, co := m.idx.Offset(k.row), m.idx.Offset(k.col)
		rows, cols := b.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if k.row == k.col && j < i {
					continue
				}
				out.SetSym(ro+i, co+j, b.At(i, j))
			}
		}
	}
	return out
}

// Diagonal returns the scalar diagonal.
func (m *BlockSparseMatrix) Diagonal() *mat.VecDense {
	out := mat.NewVecDense(m.idx.TotalDim(), nil)
	for i := 0; i < m.idx.NumBlocks(); i++ {
		b, ok := m.blocks[blockKey{i, i}]
		if !ok {
			continue
		}
		off := m.idx.Offset(i)
		for j := 0; j < m.idx.Size(i); j++ {
			out.SetVec(off+j, b.At(j, j))
		}
	}
	return out
}
