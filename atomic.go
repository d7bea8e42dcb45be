package gunn

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// AtomicAddFloat32 adds val to *addr atomically via compare-and-swap on
// the bit pattern. This is the sole synchronization discipline for
// kernels whose threads may accumulate into the same memory location
// (reflect/edge padding backward); the target buffer must be zeroed
// before the launch.
func AtomicAddFloat32(addr *float32, val float32) {
	bits := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(bits)
		next := math.Float32bits(math.Float32frombits(old) + val)
		if atomic.CompareAndSwapUint32(bits, old, next) {
			return
		}
	}
}
