package vds

import (
	"encoding/binary"
	"fmt"
)

// IntegrityType distinguishes an open (in-use) LVID from a clean
// close, per spec.md 3's LVID chain invariant.
type IntegrityType uint32

const (
	IntegrityOpen  IntegrityType = 0
	IntegrityClose IntegrityType = 1
)

// IntegrityDescriptor is one LOGICAL_VOL_INTEGRITY_DESC entry.
type IntegrityDescriptor struct {
	Type             IntegrityType
	NextExtent       Extent
	NextUniqueID     uint64
	PartitionFree    []uint32 // free-block count per partition index
	FileCount        uint32
	DirectoryCount   uint32
	MinUDFReadRev    uint16
	MinUDFWriteRev   uint16
	MaxUDFWriteRev   uint16
}

const lvidFixedSize = 88

// ParseIntegrityDescriptor decodes one LVID block's fixed fields plus
// its per-partition free/size table.
func ParseIntegrityDescriptor(block []byte, numPartitions int) (*IntegrityDescriptor, error) {
	if len(block) < lvidFixedSize+numPartitions*8 {
		return nil, fmt.Errorf("vds: LVID truncated")
	}
	lvid := &IntegrityDescriptor{
		Type:         IntegrityType(binary.LittleEndian.Uint32(block[16:20])),
		NextUniqueID: binary.LittleEndian.Uint64(block[40:48]),
	}
	numPart := binary.LittleEndian.Uint32(block[76:80])
	tableLen := binary.LittleEndian.Uint32(block[80:84])
	_ = tableLen
	if int(numPart) != numPartitions {
		numPartitions = int(numPart)
	}
	lvid.PartitionFree = make([]uint32, numPartitions)
	for i := 0; i < numPartitions; i++ {
		off := lvidFixedSize + i*4
		if off+4 > len(block) {
			break
		}
		lvid.PartitionFree[i] = binary.LittleEndian.Uint32(block[off : off+4])
	}
	return lvid, nil
}

// IntegrityChain is the sequence of LVID entries that
// WalkIntegrityChain reads from the integrity extent as one contiguous
// run, one descriptor per block; an entry's NextExtent is not followed.
// Final collapses it to the last entry (spec.md 4.6).
type IntegrityChain struct {
	Entries []*IntegrityDescriptor
}

// Final returns the chain's last entry, or nil if the chain is empty.
func (c *IntegrityChain) Final() *IntegrityDescriptor {
	if len(c.Entries) == 0 {
		return nil
	}
	return c.Entries[len(c.Entries)-1]
}

// Dirty reports whether the volume was left mounted (an OPEN final
// LVID), per spec.md 3: "a CLOSE LVID at end of chain => cleanly
// unmounted".
func (c *IntegrityChain) Dirty() bool {
	f := c.Final()
	return f == nil || f.Type == IntegrityOpen
}

// WalkIntegrityChain follows a LOGICAL_VOL_DESC's integrity extent,
// reading one LVID descriptor per block, per the original driver's
// treatment of IntegritySeq as a contiguous run rather than an AD
// chain (LVID extents are not AD-addressed).
func WalkIntegrityChain(read BlockReader, extent Extent, numPartitions int) (*IntegrityChain, error) {
	chain := &IntegrityChain{}
	if extent.Length == 0 {
		return chain, nil
	}
	blocks := extent.Length / sectorSize
	for i := uint32(0); i < blocks; i++ {
		data, err := read(extent.Location + i)
		if err != nil {
			return chain, fmt.Errorf("vds: reading LVID block %d: %w", extent.Location+i, err)
		}
		tagID := binary.LittleEndian.Uint16(data[0:2])
		if tagID != tagLogicalVolIntegDsc {
			break
		}
		lvid, perr := ParseIntegrityDescriptor(data, numPartitions)
		if perr != nil {
			break
		}
		chain.Entries = append(chain.Entries, lvid)
	}
	return chain, nil
}
