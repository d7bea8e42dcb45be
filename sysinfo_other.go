//go:build !linux

package gunn

// getSystemMemory returns total system memory in bytes.
// Non-linux platforms fall back to a fixed estimate.
func getSystemMemory() uint64 {
	return 16 * 1024 * 1024 * 1024
}
