package fs

import "github.com/ostafen/udfkit/internal/mmap"

// OpenMmap opens path as a memory-mapped File, for callers that prefer
// page faults over per-block ReadAt syscalls on large volume images.
func OpenMmap(path string) (File, error) {
	return mmap.NewMmapFile(path)
}
