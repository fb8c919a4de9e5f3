package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/udfkit/internal/udf/partmap"
)

// sparingTableHeaderSize is the Sparing Table Descriptor's fixed header
// before the entry array: tag(16) + SparingIdentifier regid(32) +
// ReallocationTableLen(2) + Reserved(2) + SequenceNumber(4), per UDF
// 2.60 2.2.11. Reconstructed the same way build.go's Type-2 partition
// map tail was: the exact struct isn't present verbatim in
// original_source/, so this follows ECMA-167/UDF's documented byte
// layout rather than a literal driver transcription.
const sparingTableHeaderSize = 56

// sparingEntrySize is one (OriginalLocation uint32, MappedLocation
// uint32) pair.
const sparingEntrySize = 8

// parseSparingTable decodes one replica of a Sparing Table Descriptor.
// Entries come pre-sorted ascending by OriginalLocation on disk (UDF
// 2.60 2.2.11), matching partmap.SparingTable.Lookup's early-exit scan.
func parseSparingTable(data []byte, replicas []uint64) (*partmap.SparingTable, error) {
	if len(data) < sparingTableHeaderSize {
		return nil, fmt.Errorf("volume: sparing table descriptor shorter than header")
	}
	count := binary.LittleEndian.Uint16(data[48:50])
	need := sparingTableHeaderSize + int(count)*sparingEntrySize
	if need > len(data) {
		return nil, fmt.Errorf("volume: sparing table ReallocationTableLen %d exceeds block data", count)
	}

	entries := make([]partmap.SparingEntry, 0, count)
	for i := 0; i < int(count); i++ {
		off := sparingTableHeaderSize + i*sparingEntrySize
		original := binary.LittleEndian.Uint32(data[off : off+4])
		mapped := binary.LittleEndian.Uint32(data[off+4 : off+8])
		if original == 0xFFFFFFFF {
			break
		}
		entries = append(entries, partmap.SparingEntry{
			Original:    original,
			Replacement: uint64(mapped),
		})
	}
	return partmap.NewSparingTable(entries, replicas), nil
}
