// Package gunn configuration constants
package gunn

// Thread and block dimensions
const (
	// BlockSize is the default number of threads per block for
	// element-indexed kernels.
	BlockSize = 256

	// MaxGridBlocks caps the grid size of row-batched kernels; rows
	// beyond the cap are covered by the grid-stride loop.
	MaxGridBlocks = 4096

	// MaxThreadsPerBlock is the maximum threads per block (CUDA compatibility)
	MaxThreadsPerBlock = 1024
)

// Memory pool parameters
const (
	// Minimum allocation size to prevent fragmentation
	MinAllocationSize = 64

	// Memory alignment for allocations
	MemoryAlignment = 64
)

// Numerical policy constants
const (
	// DistanceEpsilon clamps near-zero denominators in cosine similarity
	// and defines the zero-gradient flat region of the L1 distance
	// gradient. The value is a behavioral contract tuned for float32.
	DistanceEpsilon = 1e-12
)
