package checker

import (
	"github.com/ostafen/udfkit/internal/udf/space"
	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// partitionShadow is one partition's shadow free-space map: every bit
// starts free (1) and is cleared as file space is claimed, matching
// chkudf's Part_Info[i].MyMap convention; it reuses space.Bitmap's
// TestBit/ClearBit rather than re-implementing bit arithmetic.
type partitionShadow struct {
	bitmap  *space.Bitmap
	numBits uint32
}

func newPartitionShadow(numBlocks uint32) *partitionShadow {
	data := make([]byte, (numBlocks+7)/8)
	for i := range data {
		data[i] = 0xFF
	}
	if rem := numBlocks % 8; rem != 0 {
		data[len(data)-1] &^= 0xFF << rem
	}
	return &partitionShadow{bitmap: space.NewBitmap(data, numBlocks, 0), numBits: numBlocks}
}

// FileSpaceTracker walks every file extent in a volume and marks the
// blocks it consumes against a per-partition shadow bitmap, so the
// recorded Space Bitmap Descriptor can be diffed against what's
// actually reachable from the directory tree (spec.md 4.13).
type FileSpaceTracker struct {
	partitions map[uint16]*partitionShadow
}

// NewFileSpaceTracker builds one shadow bitmap per partition, sized by
// partitionLengths (block counts, keyed by partition reference number).
func NewFileSpaceTracker(partitionLengths map[uint16]uint32) *FileSpaceTracker {
	t := &FileSpaceTracker{partitions: make(map[uint16]*partitionShadow, len(partitionLengths))}
	for ptn, length := range partitionLengths {
		t.partitions[ptn] = newPartitionShadow(length)
	}
	return t
}

// Track claims extentBlocks blocks starting at block within partition
// ptn. A block already marked used is a file-space overlap; a
// reference past the partition's end is a bad LBN, mirroring
// track_filespace's two error paths. Either error is returned but
// claiming continues for whatever blocks remain valid, so scanning the
// whole tree surfaces every defect in one pass.
func (t *FileSpaceTracker) Track(ptn uint16, block, extentBlocks uint32) *udferr.Error {
	p, ok := t.partitions[ptn]
	if !ok {
		return udferr.New(udferr.BadPartitionRef, block, uint64(len(t.partitions)), uint64(ptn))
	}
	var firstErr *udferr.Error
	for i := uint32(0); i < extentBlocks; i++ {
		b := block + i
		if b >= p.numBits {
			if firstErr == nil {
				firstErr = udferr.New(udferr.BadLBN, b, uint64(p.numBits), uint64(b))
			}
			continue
		}
		if !p.bitmap.ClearBit(b) && firstErr == nil {
			firstErr = udferr.New(udferr.FileSpaceOverlap, b, 0, 0)
		}
	}
	return firstErr
}

// Diff reports how the shadow map (built from the directory tree)
// disagrees with the partition's recorded Space Bitmap Descriptor:
// blocks in use but recorded free, and blocks free but recorded in
// use, matching check_filespace's two-pass byte comparison.
func (t *FileSpaceTracker) Diff(ptn uint16, recorded *space.Bitmap) (mismarkedFree, mismarkedInUse uint32) {
	p, ok := t.partitions[ptn]
	if !ok {
		return 0, 0
	}
	for i := uint32(0); i < p.numBits; i++ {
		shadowFree := p.bitmap.TestBit(i)
		recordedFree := recorded.TestBit(i)
		switch {
		case !shadowFree && recordedFree:
			mismarkedFree++
		case shadowFree && !recordedFree:
			mismarkedInUse++
		}
	}
	return mismarkedFree, mismarkedInUse
}
