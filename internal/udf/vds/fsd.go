package vds

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/alloc"
)

const tagFileSetDesc = 256

const fsdSize = 512

// FileSetDescriptor is ECMA-167 4/14.1: the entry point for a logical
// volume's file system, naming the root directory ICB (and, for UDF
// 2.01+, a stream directory ICB).
type FileSetDescriptor struct {
	RootDirICB   addr.LBAddr
	StreamDirICB addr.LBAddr
	NextExtent   Extent
}

// ParseFSD decodes the fixed fields of a File Set Descriptor.
// Grounded on original_source/udf/tools/src/nsrHdrs/nsr_part4.h's
// FileSetDesc layout.
func ParseFSD(block []byte) (*FileSetDescriptor, error) {
	if len(block) < fsdSize {
		return nil, fmt.Errorf("vds: FSD block shorter than %d bytes", fsdSize)
	}
	tagID := binary.LittleEndian.Uint16(block[0:2])
	if tagID != tagFileSetDesc {
		return nil, fmt.Errorf("vds: expected FSD tag %d, got %d", tagFileSetDesc, tagID)
	}
	root := alloc.ParseLongAD(block[400:416])
	next := alloc.ParseLongAD(block[448:464])
	stream := alloc.ParseLongAD(block[464:480])
	return &FileSetDescriptor{
		RootDirICB:   root.Location,
		StreamDirICB: stream.Location,
		NextExtent:   Extent{Location: next.Location.Block, Length: next.Length},
	}, nil
}

// LocateFSD reads the FSD chain starting at extent (from a Logical
// Volume Descriptor's FSDLocation), following NextExtent per
// display_dirs.c's GetRootDir ("Found another FSD extent" loop) until a
// descriptor with no further extent is reached or the run is
// exhausted.
func LocateFSD(read BlockReader, extent Extent) (*FileSetDescriptor, error) {
	for extent.Length > 0 {
		blocks := extent.Length / sectorSize
		if blocks == 0 {
			blocks = 1
		}
		var fsd *FileSetDescriptor
		for i := uint32(0); i < blocks; i++ {
			data, err := read(extent.Location + i)
			if err != nil {
				return nil, fmt.Errorf("vds: reading FSD block %d: %w", extent.Location+i, err)
			}
			parsed, perr := ParseFSD(data)
			if perr != nil {
				if i == 0 {
					return nil, perr
				}
				break
			}
			fsd = parsed
		}
		if fsd == nil {
			return nil, fmt.Errorf("vds: no valid FSD found in extent at %d", extent.Location)
		}
		if fsd.NextExtent.Length == 0 {
			return fsd, nil
		}
		extent = fsd.NextExtent
	}
	return nil, fmt.Errorf("vds: empty FSD extent")
}
