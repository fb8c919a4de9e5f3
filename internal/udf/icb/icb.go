// Package icb implements the ICB engine of spec.md 4.9: reading File
// Entries and Extended File Entries, following strategy-4096 Indirect
// Entry redirection, stopping at Terminal Entries, and tracking link
// counts per (partition, block). Grounded on
// original_source/udf/src/inode.c's udf_read_inode and ECMA-167 4/14.
package icb

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/alloc"
	"github.com/ostafen/udfkit/internal/udf/codec"
	"github.com/ostafen/udfkit/internal/udf/tag"
	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// Tag identifiers relevant to the ICB engine, ECMA-167 4/7.2.
const (
	tagIndirectEntry = 259
	tagTerminalEntry = 260
	tagFileEntry     = 261
	tagExtendedFile  = 266
)

// FileType enumerates ICBTag's FileType field, ECMA-167 4/14.6.6.
type FileType uint8

const (
	FileTypeUnspecified FileType = iota
	FileTypeUnallocatedSpaceEntry
	FileTypePartitionIntegrityEntry
	FileTypeIndirectEntry
	FileTypeDirectory
	FileTypeRegular
	FileTypeBlock
	FileTypeChar
	FileTypeExtendedAttributes
	FileTypeFIFO
	FileTypeSocket
	FileTypeTerminalEntry
	FileTypeSymLink
	FileTypeStreamDirectory
)

const icbTagSize = 20 // fixed fields following the 16-byte descriptor tag

// ICBTag is the fixed header shared by every ICB entry kind.
type ICBTag struct {
	PriorDirectEntries uint32
	StrategyType       uint16
	StrategyParameter  uint16
	MaxEntries         uint16
	FileType           FileType
	ParentICB          addr.LBAddr
	Flags              uint16
}

// ADType returns the allocation-descriptor representation selected by
// the low 3 bits of Flags (spec.md 4.10).
func (t ICBTag) ADType() alloc.ADType {
	return alloc.ADType(t.Flags & 0x7)
}

func parseICBTag(b []byte) (ICBTag, error) {
	if len(b) < icbTagSize {
		return ICBTag{}, fmt.Errorf("icb: truncated ICB tag")
	}
	return ICBTag{
		PriorDirectEntries: binary.LittleEndian.Uint32(b[0:4]),
		StrategyType:       binary.LittleEndian.Uint16(b[4:6]),
		StrategyParameter:  binary.LittleEndian.Uint16(b[6:8]),
		MaxEntries:         binary.LittleEndian.Uint16(b[8:10]),
		FileType:           FileType(b[11]),
		ParentICB: addr.LBAddr{
			Block:        binary.LittleEndian.Uint32(b[12:16]),
			PartitionRef: binary.LittleEndian.Uint16(b[16:18]),
		},
		Flags: binary.LittleEndian.Uint16(b[18:20]),
	}, nil
}

// FileEntry is ECMA-167 4/14.9's File Entry.
type FileEntry struct {
	Tag                   tag.Descriptor
	ICBTag                ICBTag
	UID, GID              uint32
	Permissions           uint32
	FileLinkCount         uint16
	InfoLength            uint64
	LogicalBlocksRecorded uint64
	AccessTime            codec.Timestamp
	ModificationTime      codec.Timestamp
	AttrTime              codec.Timestamp
	Checkpoint            uint32
	ExtendedAttrICB       addr.LBAddr
	UniqueID              uint64
	LengthExtendedAttr    uint32
	LengthAllocDescs      uint32
	ExtendedAttrs         []byte
	AllocDescs            []byte
}

// fixed field offsets within a File Entry body (after the 16-byte tag).
const (
	feOffICBTag       = 0
	feOffUID          = 20
	feOffGID          = 24
	feOffPermissions  = 28
	feOffFileLinkCnt  = 32
	feOffRecordFmt    = 34 // RecordFormat/RecordDisplayAttr/RecordLength, unused here
	feOffInfoLength   = 40
	feOffBlocksRec    = 48
	feOffAccessTime   = 56
	feOffModTime      = 68
	feOffAttrTime     = 80
	feOffCheckpoint   = 92
	feOffExtAttrICB   = 96  // long_ad: length(4) + lb_addr(6) + impl_use(6) = 16 bytes
	feOffImplID       = 112 // 32-byte EntityID, not modeled
	feOffUniqueID     = 144
	feOffLenExtAttr   = 152
	feOffLenAllocDesc = 156
	feHeaderSize      = 160
)

// ParseFileEntry decodes a File Entry from the block that follows its
// already-validated 16-byte tag (block[0:16]).
func ParseFileEntry(block []byte) (*FileEntry, error) {
	if len(block) < feHeaderSize {
		return nil, fmt.Errorf("icb: file entry shorter than fixed header")
	}
	td := tag.Parse(block)
	icbt, err := parseICBTag(block[16+feOffICBTag:])
	if err != nil {
		return nil, err
	}

	fe := &FileEntry{
		Tag:                   td,
		ICBTag:                icbt,
		UID:                   binary.LittleEndian.Uint32(block[16+feOffUID:]),
		GID:                   binary.LittleEndian.Uint32(block[16+feOffGID:]),
		Permissions:           binary.LittleEndian.Uint32(block[16+feOffPermissions:]),
		FileLinkCount:         binary.LittleEndian.Uint16(block[16+feOffFileLinkCnt:]),
		InfoLength:            binary.LittleEndian.Uint64(block[16+feOffInfoLength:]),
		LogicalBlocksRecorded: binary.LittleEndian.Uint64(block[16+feOffBlocksRec:]),
		Checkpoint:            binary.LittleEndian.Uint32(block[16+feOffCheckpoint:]),
		UniqueID:              binary.LittleEndian.Uint64(block[16+feOffUniqueID:]),
		LengthExtendedAttr:    binary.LittleEndian.Uint32(block[16+feOffLenExtAttr:]),
		LengthAllocDescs:      binary.LittleEndian.Uint32(block[16+feOffLenAllocDesc:]),
	}
	fe.AccessTime = codec.ParseTimestamp(block[16+feOffAccessTime:])
	fe.ModificationTime = codec.ParseTimestamp(block[16+feOffModTime:])
	fe.AttrTime = codec.ParseTimestamp(block[16+feOffAttrTime:])
	fe.ExtendedAttrICB = alloc.ParseLongAD(block[16+feOffExtAttrICB:]).Location

	if feHeaderSize+16+int(fe.LengthExtendedAttr)+int(fe.LengthAllocDescs) > len(block) {
		return nil, fmt.Errorf("icb: L_EA+L_AD exceeds block size")
	}
	eaStart := 16 + feHeaderSize
	fe.ExtendedAttrs = block[eaStart : eaStart+int(fe.LengthExtendedAttr)]
	adStart := eaStart + int(fe.LengthExtendedAttr)
	fe.AllocDescs = block[adStart : adStart+int(fe.LengthAllocDescs)]
	return fe, nil
}

// EncodeFileEntry serializes fe into a logical-block-sized buffer
// (strategy type 4, as every write path here creates direct-entry
// ICBs), stamping a valid descriptor tag over the whole descriptor
// body so the block round-trips through ParseFileEntry and
// tag.Validator alike. location is the block's own address, used for
// the tag's TagLocation field (ECMA-167 4/7.2.1); revision selects the
// descriptor version stamped (2 or 3), per spec.md 9's decision that
// new writes use the mount's native UDF revision.
func EncodeFileEntry(fe *FileEntry, blockSize uint32, location uint32, serial uint16, revision uint16) ([]byte, error) {
	total := feHeaderSize + len(fe.ExtendedAttrs) + len(fe.AllocDescs)
	if uint32(total+16) > blockSize {
		return nil, fmt.Errorf("icb: file entry %d bytes exceeds block size %d", total+16, blockSize)
	}
	block := make([]byte, blockSize)
	body := block[16:]

	binary.LittleEndian.PutUint32(body[0:4], fe.ICBTag.PriorDirectEntries)
	binary.LittleEndian.PutUint16(body[4:6], fe.ICBTag.StrategyType)
	binary.LittleEndian.PutUint16(body[6:8], fe.ICBTag.StrategyParameter)
	binary.LittleEndian.PutUint16(body[8:10], fe.ICBTag.MaxEntries)
	body[11] = byte(fe.ICBTag.FileType)
	binary.LittleEndian.PutUint32(body[12:16], fe.ICBTag.ParentICB.Block)
	binary.LittleEndian.PutUint16(body[16:18], fe.ICBTag.ParentICB.PartitionRef)
	binary.LittleEndian.PutUint16(body[18:20], fe.ICBTag.Flags)

	binary.LittleEndian.PutUint32(body[feOffUID:], fe.UID)
	binary.LittleEndian.PutUint32(body[feOffGID:], fe.GID)
	binary.LittleEndian.PutUint32(body[feOffPermissions:], fe.Permissions)
	binary.LittleEndian.PutUint16(body[feOffFileLinkCnt:], fe.FileLinkCount)
	binary.LittleEndian.PutUint64(body[feOffInfoLength:], fe.InfoLength)
	binary.LittleEndian.PutUint64(body[feOffBlocksRec:], fe.LogicalBlocksRecorded)
	codec.PutTimestamp(body[feOffAccessTime:], fe.AccessTime)
	codec.PutTimestamp(body[feOffModTime:], fe.ModificationTime)
	codec.PutTimestamp(body[feOffAttrTime:], fe.AttrTime)
	binary.LittleEndian.PutUint32(body[feOffCheckpoint:], fe.Checkpoint)
	if fe.ExtendedAttrICB.Block != 0 || fe.ExtendedAttrICB.PartitionRef != 0 {
		copy(body[feOffExtAttrICB:], alloc.EncodeLongAD(0, addr.Recorded, fe.ExtendedAttrICB))
	}
	binary.LittleEndian.PutUint64(body[feOffUniqueID:], fe.UniqueID)
	binary.LittleEndian.PutUint32(body[feOffLenExtAttr:], uint32(len(fe.ExtendedAttrs)))
	binary.LittleEndian.PutUint32(body[feOffLenAllocDesc:], uint32(len(fe.AllocDescs)))

	eaStart := feHeaderSize
	copy(body[eaStart:], fe.ExtendedAttrs)
	adStart := eaStart + len(fe.ExtendedAttrs)
	copy(body[adStart:], fe.AllocDescs)

	tag.Stamp(block, tagFileEntry, revision, location, serial, total)
	return block, nil
}

// ExtendedFileEntry is ECMA-167 4/14.17's Extended File Entry: a File
// Entry with ObjectSize, CreationTime and a stream-directory ICB added
// before the EA/AD regions.
type ExtendedFileEntry struct {
	FileEntry
	ObjectSize         uint64
	CreationTime       codec.Timestamp
	StreamDirectoryICB addr.LBAddr
}

const (
	efeOffObjectSize   = 96
	efeOffCreationTime = 104
	efeOffStreamDirICB = 136 // long_ad, 16 bytes
	efeHeaderDelta     = 36  // bytes EFE's fixed header adds over FE's, before EA/AD
)

// ParseExtendedFileEntry decodes an Extended File Entry. Its fixed
// header shares the File Entry's layout up to Checkpoint, then inserts
// ObjectSize/CreationTime/StreamDirectoryICB/Reserved before the
// EntityID/UniqueID/LengthExtendedAttr/LengthAllocDescs tail.
func ParseExtendedFileEntry(block []byte) (*ExtendedFileEntry, error) {
	if len(block) < feHeaderSize+efeHeaderDelta {
		return nil, fmt.Errorf("icb: extended file entry shorter than fixed header")
	}
	td := tag.Parse(block)
	icbt, err := parseICBTag(block[16+feOffICBTag:])
	if err != nil {
		return nil, err
	}

	base := 16 + feOffExtAttrICB + efeHeaderDelta
	efe := &ExtendedFileEntry{
		FileEntry: FileEntry{
			Tag:                   td,
			ICBTag:                icbt,
			UID:                   binary.LittleEndian.Uint32(block[16+feOffUID:]),
			GID:                   binary.LittleEndian.Uint32(block[16+feOffGID:]),
			Permissions:           binary.LittleEndian.Uint32(block[16+feOffPermissions:]),
			FileLinkCount:         binary.LittleEndian.Uint16(block[16+feOffFileLinkCnt:]),
			InfoLength:            binary.LittleEndian.Uint64(block[16+feOffInfoLength:]),
			LogicalBlocksRecorded: binary.LittleEndian.Uint64(block[16+feOffBlocksRec:]),
			UniqueID:              binary.LittleEndian.Uint64(block[base+8:]),
			LengthExtendedAttr:    binary.LittleEndian.Uint32(block[base+16:]),
			LengthAllocDescs:      binary.LittleEndian.Uint32(block[base+20:]),
		},
		ObjectSize: binary.LittleEndian.Uint64(block[16+efeOffObjectSize:]),
	}
	efe.AccessTime = codec.ParseTimestamp(block[16+feOffAccessTime:])
	efe.ModificationTime = codec.ParseTimestamp(block[16+feOffModTime:])
	efe.AttrTime = codec.ParseTimestamp(block[16+feOffAttrTime:])
	efe.CreationTime = codec.ParseTimestamp(block[16+efeOffCreationTime:])
	efe.StreamDirectoryICB = alloc.ParseLongAD(block[16+efeOffStreamDirICB:]).Location

	headerEnd := base + 24
	if headerEnd+int(efe.LengthExtendedAttr)+int(efe.LengthAllocDescs) > len(block) {
		return nil, fmt.Errorf("icb: L_EA+L_AD exceeds block size")
	}
	efe.ExtendedAttrs = block[headerEnd : headerEnd+int(efe.LengthExtendedAttr)]
	adStart := headerEnd + int(efe.LengthExtendedAttr)
	efe.AllocDescs = block[adStart : adStart+int(efe.LengthAllocDescs)]
	return efe, nil
}

// LinkKey identifies one on-disk ICB for link-count tracking.
type LinkKey struct {
	PartitionRef uint16
	Block        uint32
}

// LinkCountTracker counts how many FE/EFE entries were actually read
// at each (part_ref, block), per spec.md 4.9 ("Each FE/EFE increments
// a link-count tracker").
type LinkCountTracker map[LinkKey]uint32

func (t LinkCountTracker) Observe(loc addr.LBAddr) {
	t[LinkKey{loc.PartitionRef, loc.Block}]++
}

// BlockReader fetches the raw bytes of one logical block, already
// translated to physical and read from the cache/media.
type BlockReader func(loc addr.LBAddr) ([]byte, error)

// ReadResult is the outcome of walking one ICB hierarchy: the
// authoritative entry (first FE/EFE encountered) plus its location.
type ReadResult struct {
	FileEntry  *FileEntry
	ExtFile    *ExtendedFileEntry
	Location   addr.LBAddr
	Duplicates int // always 0: ReadICB returns at the first FE/EFE (see ReadICB)
}

// ReadICB walks an ICB hierarchy starting at loc: strategy type 4096
// stores an Indirect Entry first, pointing elsewhere at the real
// FE/EFE; strategy type 4 stores the FE/EFE directly. Only these two
// strategies are supported (spec.md 4.9); anything else is rejected.
// A Terminal Entry ends the hierarchy, and so does the first FE/EFE
// read, which is returned as the authoritative entry: later blocks of
// the ICB extent are not read, so further FE/EFE entries there are
// neither seen nor counted as duplicates.
func ReadICB(loc addr.LBAddr, read BlockReader, tracker LinkCountTracker) (*ReadResult, error) {
	result := &ReadResult{}
	seenStrategy4096Redirect := false

	for hops := 0; hops < 16; hops++ {
		block, err := read(loc)
		if err != nil {
			return nil, udferr.Wrap(udferr.ReadIO, loc.Block, err)
		}
		if len(block) < 16 {
			return nil, fmt.Errorf("icb: block shorter than a tag")
		}

		tagID := binary.LittleEndian.Uint16(block[0:2])
		switch tagID {
		case tagTerminalEntry:
			return result, nil

		case tagIndirectEntry:
			if seenStrategy4096Redirect {
				return nil, fmt.Errorf("icb: repeated indirect entry redirection")
			}
			seenStrategy4096Redirect = true
			if len(block) < 16+icbTagSize+16 {
				return nil, fmt.Errorf("icb: indirect entry truncated")
			}
			loc = alloc.ParseLongAD(block[16+icbTagSize:]).Location
			continue

		case tagFileEntry:
			if result.FileEntry == nil && result.ExtFile == nil {
				fe, err := ParseFileEntry(block)
				if err != nil {
					return nil, err
				}
				if fe.ICBTag.StrategyType != 4 && fe.ICBTag.StrategyType != 4096 {
					return nil, fmt.Errorf("icb: unsupported strategy type %d", fe.ICBTag.StrategyType)
				}
				result.FileEntry = fe
				result.Location = loc
			} else {
				result.Duplicates++
			}
			tracker.Observe(loc)
			return result, nil

		case tagExtendedFile:
			if result.FileEntry == nil && result.ExtFile == nil {
				efe, err := ParseExtendedFileEntry(block)
				if err != nil {
					return nil, err
				}
				if efe.ICBTag.StrategyType != 4 && efe.ICBTag.StrategyType != 4096 {
					return nil, fmt.Errorf("icb: unsupported strategy type %d", efe.ICBTag.StrategyType)
				}
				result.ExtFile = efe
				result.Location = loc
			} else {
				result.Duplicates++
			}
			tracker.Observe(loc)
			return result, nil

		default:
			return nil, fmt.Errorf("icb: unexpected tag identifier %d at block %d", tagID, loc.Block)
		}
	}
	return nil, fmt.Errorf("icb: indirect-entry redirection chain too long")
}
