package space

import "fmt"

// DefaultPreallocBlocks mirrors the kernel's UDF_DEFAULT_PREALLOC_BLOCKS:
// the number of additional bits an Engine tries to reserve past a
// regular-file allocation (spec.md 4.8 step 6).
const DefaultPreallocBlocks = 8

// FreeCountMirror is called after every successful allocation or free
// to keep the LVID's per-partition free-space table in sync, per
// spec.md 4.8 step 6 ("mirror the free-count decrement in the LVID's
// per-partition table").
type FreeCountMirror func(delta int64)

// Prealloc tracks one inode's preallocation window: blocks reserved
// past its most recent allocation, to be handed out on the next
// request before falling back to a fresh scan.
type Prealloc struct {
	Block uint32
	Count uint32
}

// Engine layers LVID mirroring and regular-file preallocation on top of
// a bitmap-backed partition, per spec.md 4.8 step 6.
type Engine struct {
	bitmap *Bitmap
	mirror FreeCountMirror
}

func NewEngine(bitmap *Bitmap, mirror FreeCountMirror) *Engine {
	return &Engine{bitmap: bitmap, mirror: mirror}
}

// Allocate serves one block out of an inode's preallocation window if
// one is available, otherwise runs the full bitmap scan; when
// isRegularFile, it then tries to extend the window by up to
// DefaultPreallocBlocks further free bits immediately following.
func (e *Engine) Allocate(goal uint32, isRegularFile bool, pre *Prealloc) (uint32, error) {
	if pre != nil && pre.Count > 0 {
		block := pre.Block
		pre.Block++
		pre.Count--
		e.bitmap.ClearBit(block)
		if e.mirror != nil {
			e.mirror(-1)
		}
		return block, nil
	}

	block, ok := e.bitmap.Allocate(goal)
	if !ok {
		return 0, fmt.Errorf("space: no free block available near goal %d", goal)
	}
	if e.mirror != nil {
		e.mirror(-1)
	}

	if isRegularFile && pre != nil {
		pre.Block = block + 1
		pre.Count = 0
		for i := uint32(0); i < DefaultPreallocBlocks; i++ {
			candidate := block + 1 + i
			if candidate >= e.bitmap.numBits || !e.bitmap.TestBit(candidate) {
				break
			}
			e.bitmap.ClearBit(candidate)
			pre.Count++
			if e.mirror != nil {
				e.mirror(-1)
			}
		}
	}
	return block, nil
}

// Free releases count blocks starting at (block+offset), mirroring the
// net free-count delta (double-frees contribute nothing extra, since
// the bit was already counted free).
func (e *Engine) Free(block, offset, count uint32) {
	doubleFrees := e.bitmap.Free(block, offset, count)
	if e.mirror != nil && count > doubleFrees {
		e.mirror(int64(count - doubleFrees))
	}
}
