// Package addr holds the small address types threaded through every
// other UDF package: the (partition-reference, block) pair used by
// allocation descriptors, and the tagged extent length/type word shared
// by short_ad, long_ad and ext_ad.
package addr

import "fmt"

// LBAddr is ECMA-167's lb_addr: a logical block address relative to a
// partition referenced by index into the logical volume's partition map.
type LBAddr struct {
	Block        uint32
	PartitionRef uint16
}

func (a LBAddr) String() string {
	return fmt.Sprintf("(part=%d, block=%d)", a.PartitionRef, a.Block)
}

// ExtentType is the 2-bit type tag packed into the top bits of every
// allocation descriptor's length field.
type ExtentType uint8

const (
	Recorded ExtentType = iota
	AllocatedNotRecorded
	NotAllocated
	NextAllocExtent
)

func (t ExtentType) String() string {
	switch t {
	case Recorded:
		return "RECORDED"
	case AllocatedNotRecorded:
		return "ALLOCATED_NOT_RECORDED"
	case NotAllocated:
		return "NOT_ALLOCATED"
	case NextAllocExtent:
		return "NEXT_ALLOC_EXTENT"
	default:
		return "UNKNOWN"
	}
}

// MaxExtentLength is the largest length representable in the low 30
// bits of a packed extent length/type word (1GiB - 1 byte; in
// practice callers round down to a block multiple).
const MaxExtentLength = 1<<30 - 1

// PackExtent combines a 30-bit length and a 2-bit type into the wire
// representation used by short_ad/long_ad/ext_ad.
func PackExtent(length uint32, typ ExtentType) uint32 {
	return (length & MaxExtentLength) | (uint32(typ) << 30)
}

// UnpackExtent splits a packed length/type word back into its parts.
func UnpackExtent(v uint32) (length uint32, typ ExtentType) {
	return v & MaxExtentLength, ExtentType(v >> 30)
}
