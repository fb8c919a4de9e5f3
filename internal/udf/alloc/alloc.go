// Package alloc implements the allocation-descriptor engine of
// spec.md 4.10: short_ad/long_ad/ext_ad walking, Allocation Extent
// Descriptor chain following, and the in-ICB inline-data mode.
// Grounded on original_source/udf/src/inode.c (udf_bmap/udf_getblk's
// allocation-descriptor walk) and original_source/udf/src/truncate.c
// (in-ICB expansion).
package alloc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// ADType selects which of the three allocation-descriptor encodings an
// ICB's allocation-descriptor region uses, taken from the low 3 bits of
// icbTag.Flags.
type ADType uint8

const (
	ShortAD ADType = iota
	LongAD
	ExtendedAD
	InICB
)

const (
	ShortADSize    = 8
	LongADSize     = 16
	ExtendedADSize = 20
)

// AD is one allocation descriptor, normalized to long_ad's shape: every
// short_ad inherits PartitionRef from the enclosing FE before reaching
// here, so downstream code only ever sees long_ad-shaped entries.
type AD struct {
	Length       uint32
	Type         addr.ExtentType
	Location     addr.LBAddr
	RecordedLen  uint32 // only meaningful for ExtendedAD
	InfoLen      uint32 // only meaningful for ExtendedAD
}

// ParseShortAD decodes an 8-byte short_ad; partRef is inherited from
// the enclosing FE/EFE since short_ad carries no partition field.
func ParseShortAD(b []byte, partRef uint16) AD {
	lenAndType := binary.LittleEndian.Uint32(b[0:4])
	length, typ := addr.UnpackExtent(lenAndType)
	block := binary.LittleEndian.Uint32(b[4:8])
	return AD{
		Length:   length,
		Type:     typ,
		Location: addr.LBAddr{PartitionRef: partRef, Block: block},
	}
}

// ParseLongAD decodes a 16-byte long_ad (the 6-byte impl-use tail is
// not retained; callers needing it read b[10:16] directly).
func ParseLongAD(b []byte) AD {
	lenAndType := binary.LittleEndian.Uint32(b[0:4])
	length, typ := addr.UnpackExtent(lenAndType)
	block := binary.LittleEndian.Uint32(b[4:8])
	partRef := binary.LittleEndian.Uint16(b[8:10])
	return AD{
		Length:   length,
		Type:     typ,
		Location: addr.LBAddr{PartitionRef: partRef, Block: block},
	}
}

// ParseExtendedAD decodes a 20-byte ext_ad.
func ParseExtendedAD(b []byte) AD {
	recordedLen := binary.LittleEndian.Uint32(b[0:4])
	infoLen := binary.LittleEndian.Uint32(b[4:8])
	lenAndType := binary.LittleEndian.Uint32(b[8:12])
	length, typ := addr.UnpackExtent(lenAndType)
	block := binary.LittleEndian.Uint32(b[12:16])
	partRef := binary.LittleEndian.Uint16(b[16:18])
	return AD{
		Length:      length,
		Type:        typ,
		Location:    addr.LBAddr{PartitionRef: partRef, Block: block},
		RecordedLen: recordedLen,
		InfoLen:     infoLen,
	}
}

// EncodeShortAD serializes an 8-byte short_ad, the inverse of ParseShortAD
// (partition reference is implicit from the enclosing ICB, so it isn't
// written).
func EncodeShortAD(length uint32, typ addr.ExtentType, block uint32) []byte {
	out := make([]byte, ShortADSize)
	binary.LittleEndian.PutUint32(out[0:4], addr.PackExtent(length, typ))
	binary.LittleEndian.PutUint32(out[4:8], block)
	return out
}

// EncodeLongAD serializes a 16-byte long_ad, the inverse of ParseLongAD.
func EncodeLongAD(length uint32, typ addr.ExtentType, loc addr.LBAddr) []byte {
	out := make([]byte, LongADSize)
	binary.LittleEndian.PutUint32(out[0:4], addr.PackExtent(length, typ))
	binary.LittleEndian.PutUint32(out[4:8], loc.Block)
	binary.LittleEndian.PutUint16(out[8:10], loc.PartitionRef)
	return out
}

func adSize(t ADType) int {
	switch t {
	case ShortAD:
		return ShortADSize
	case LongAD:
		return LongADSize
	case ExtendedAD:
		return ExtendedADSize
	default:
		return 0
	}
}

// BlockReader reads one logical block of a given partition-relative
// extent; it is supplied by the icb package (which owns the block
// cache and partition map) so this package stays free of their
// dependency.
type BlockReader func(loc addr.LBAddr, blockSize uint32) ([]byte, error)

// WalkADs parses every allocation descriptor in region, following
// NEXT-ALLOC-EXTENT redirections into Allocation Extent Descriptor
// blocks (spec.md 4.10, step 2) without recursion, and stopping at a
// zero-length AD (step 3).
func WalkADs(region []byte, partRef uint16, adType ADType, blockSize uint32, read BlockReader) ([]AD, error) {
	size := adSize(adType)
	if size == 0 {
		return nil, fmt.Errorf("alloc: WalkADs called with non-AD type %v", adType)
	}

	var out []AD
	cur := region

	for {
		advanced := false
		for len(cur) >= size {
			raw := cur[:size]
			cur = cur[size:]

			var ad AD
			switch adType {
			case ShortAD:
				ad = ParseShortAD(raw, partRef)
			case LongAD:
				ad = ParseLongAD(raw)
			case ExtendedAD:
				ad = ParseExtendedAD(raw)
			}

			if ad.Length == 0 {
				return out, nil
			}

			if ad.Type == addr.NextAllocExtent {
				if read == nil {
					return nil, fmt.Errorf("alloc: AED redirection requires a BlockReader")
				}
				aed, err := readAED(ad.Location, ad.Length, blockSize, read)
				if err != nil {
					return nil, err
				}
				cur = aed
				advanced = true
				break
			}

			out = append(out, ad)
		}
		if !advanced {
			return out, nil
		}
	}
}

// aedHeaderSize is the tag (16 bytes) plus the two 4-byte fixed fields of an
// Allocation Extent Descriptor (PreviousAllocExtLocation, LengthAllocDescs).
const aedHeaderSize = 24

// readAED reads an Allocation Extent Descriptor block and returns its
// embedded AD list (the bytes following its fixed header, truncated to
// LengthAllocDescs).
func readAED(loc addr.LBAddr, length uint32, blockSize uint32, read BlockReader) ([]byte, error) {
	numBlocks := (length + blockSize - 1) / blockSize
	var all []byte
	for i := uint32(0); i < numBlocks; i++ {
		b, err := read(addr.LBAddr{PartitionRef: loc.PartitionRef, Block: loc.Block + i}, blockSize)
		if err != nil {
			return nil, udferr.Wrap(udferr.ReadIO, loc.Block+i, err)
		}
		all = append(all, b...)
	}
	if len(all) < aedHeaderSize {
		return nil, fmt.Errorf("alloc: AED block too short (%d bytes)", len(all))
	}
	lengthAllocDescs := binary.LittleEndian.Uint32(all[20:24])
	if aedHeaderSize+int(lengthAllocDescs) > len(all) {
		return nil, fmt.Errorf("alloc: AED LengthAllocDescs %d exceeds block data", lengthAllocDescs)
	}
	return all[aedHeaderSize : aedHeaderSize+int(lengthAllocDescs)], nil
}

// TotalLength sums the recorded extent of an AD list, used to validate
// spec.md 8's invariant that total extent length covers at least
// info_length and at most the block-rounded info_length.
func TotalLength(ads []AD) uint64 {
	var total uint64
	for _, a := range ads {
		total += uint64(a.Length)
	}
	return total
}

// ReadAt reads `size` bytes at file-relative `offset` by mapping the
// offset onto the AD list via cumulative length, per spec.md 4.10 step
// 4: unallocated-not-recorded (and allocated-not-recorded, on read)
// extents read as zeros.
func ReadAt(ads []AD, blockSize uint32, read BlockReader, offset int64, p []byte) (int, error) {
	remainingStart := offset
	n := 0

	for _, a := range ads {
		extentLen := int64(a.Length)
		if remainingStart >= extentLen {
			remainingStart -= extentLen
			continue
		}

		avail := extentLen - remainingStart
		want := int64(len(p) - n)
		if want <= 0 {
			break
		}
		take := avail
		if take > want {
			take = want
		}

		if a.Type == addr.NotAllocated || a.Type == addr.AllocatedNotRecorded {
			for i := int64(0); i < take; i++ {
				p[n+int(i)] = 0
			}
		} else {
			if err := readExtentRange(a, blockSize, read, remainingStart, p[n:n+int(take)]); err != nil {
				return n, err
			}
		}

		n += int(take)
		remainingStart = 0
		if n >= len(p) {
			break
		}
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func readExtentRange(a AD, blockSize uint32, read BlockReader, startInExtent int64, out []byte) error {
	block := a.Location.Block + uint32(startInExtent/int64(blockSize))
	inBlockOff := int(startInExtent % int64(blockSize))

	written := 0
	for written < len(out) {
		b, err := read(addr.LBAddr{PartitionRef: a.Location.PartitionRef, Block: block}, blockSize)
		if err != nil {
			return udferr.Wrap(udferr.ReadIO, block, err)
		}
		n := copy(out[written:], b[inBlockOff:])
		written += n
		inBlockOff = 0
		block++
	}
	return nil
}
