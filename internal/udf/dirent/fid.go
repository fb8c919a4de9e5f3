// Package dirent implements the directory engine of spec.md 4.11: File
// Identifier Descriptor parsing (including straddling reads across a
// block boundary), and lookup/add/delete/rename over a directory's
// byte stream. Grounded on original_source/udf/src/namei.c and
// original_source/udf/src/dir.c (udf_find_entry/udf_add_entry/
// udf_delete_entry).
package dirent

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/alloc"
	"github.com/ostafen/udfkit/internal/udf/codec"
	"github.com/ostafen/udfkit/internal/udf/tag"
)

// Characteristics bit flags, ECMA-167 4/14.4.3.
const (
	CharHidden    uint8 = 1 << 0
	CharDirectory uint8 = 1 << 1
	CharDeleted   uint8 = 1 << 2
	CharParent    uint8 = 1 << 3
	CharMetadata  uint8 = 1 << 4
)

// fidFixedHeaderSize is ECMA-167 4/14.4's fixed portion: tag(16) +
// FileVersionNumber(2) + FileCharacteristics(1) + LengthFileIdentifier(1)
// + ICB long_ad(16) + LengthOfImplementationUse(2).
const fidFixedHeaderSize = 38

// FID is one File Identifier Descriptor: a directory entry.
type FID struct {
	Tag               tag.Descriptor
	FileVersionNumber uint16
	Characteristics   uint8
	ICB               addr.LBAddr
	ImplUse           []byte
	Name              string // decoded CS0; empty for PARENT entries
	rawNameBytes      []byte
	TotalLength       int // on-disk length including 4-byte padding
}

func (f *FID) IsDeleted() bool   { return f.Characteristics&CharDeleted != 0 }
func (f *FID) IsDirectory() bool { return f.Characteristics&CharDirectory != 0 }
func (f *FID) IsParent() bool    { return f.Characteristics&CharParent != 0 }
func (f *FID) IsHidden() bool    { return f.Characteristics&CharHidden != 0 }

// parseFIDStream decodes one FID from the front of stream, which the
// caller has already assembled (possibly by concatenating bytes from
// two different blocks). Returns the FID, whose TotalLength holds its
// on-disk length; if stream is shorter than that it returns an error,
// so callers must supply enough bytes up front.
func parseFIDStream(stream []byte) (*FID, error) {
	if len(stream) < fidFixedHeaderSize {
		return nil, fmt.Errorf("dirent: FID header truncated")
	}
	lengthFI := int(stream[19])
	lengthIU := int(binary.LittleEndian.Uint16(stream[36:38]))

	unpadded := fidFixedHeaderSize + lengthIU + lengthFI
	padding := (4 - unpadded%4) % 4
	total := unpadded + padding

	if len(stream) < total {
		return nil, fmt.Errorf("dirent: FID body truncated: need %d bytes, have %d", total, len(stream))
	}

	fid := &FID{
		Tag:               tag.Parse(stream),
		FileVersionNumber: binary.LittleEndian.Uint16(stream[16:18]),
		Characteristics:   stream[18],
		ICB:               alloc.ParseLongAD(stream[20:36]).Location,
		TotalLength:       total,
	}
	if lengthIU > 0 {
		fid.ImplUse = append([]byte(nil), stream[38:38+lengthIU]...)
	}

	nameStart := 38 + lengthIU
	raw := stream[nameStart : nameStart+lengthFI]
	fid.rawNameBytes = append([]byte(nil), raw...)
	if !fid.IsParent() && lengthFI > 0 {
		name, err := codec.DecodeCS0(raw)
		if err != nil {
			return nil, fmt.Errorf("dirent: decoding FID name: %w", err)
		}
		fid.Name = name
	}
	return fid, nil
}

// ReadFID reads one FID starting at byte soffset of sbuf, reassembling
// it from ebuf if it straddles the block boundary (spec.md 4.11,
// scenario 5). It returns the FID, whether the read consumed bytes
// from ebuf, and the offset at which the NEXT FID begins — either in
// sbuf (straddled=false) or in ebuf (straddled=true).
func ReadFID(sbuf []byte, soffset int, ebuf []byte) (fid *FID, nextOffset int, straddled bool, err error) {
	avail := sbuf[soffset:]
	stream := make([]byte, 0, len(avail)+len(ebuf))
	stream = append(stream, avail...)
	stream = append(stream, ebuf...)

	fid, err = parseFIDStream(stream)
	if err != nil {
		return nil, 0, false, err
	}
	if fid.TotalLength <= len(avail) {
		return fid, soffset + fid.TotalLength, false, nil
	}
	return fid, fid.TotalLength - len(avail), true, nil
}

// EncodeFID serializes a FID back to its on-disk byte representation,
// including zero padding to the next 4-byte boundary. The tag's
// checksum/CRC/location fields are left zero; stamping them is the
// job of tag.Stamp, which this package does not call.
func EncodeFID(fid *FID) ([]byte, error) {
	var nameBytes []byte
	if !fid.IsParent() && fid.Name != "" {
		b, err := codec.EncodeCS0(fid.Name)
		if err != nil {
			return nil, err
		}
		nameBytes = b
	} else {
		nameBytes = fid.rawNameBytes
	}

	lengthFI := len(nameBytes)
	lengthIU := len(fid.ImplUse)
	unpadded := fidFixedHeaderSize + lengthIU + lengthFI
	padding := (4 - unpadded%4) % 4
	out := make([]byte, unpadded+padding)

	binary.LittleEndian.PutUint16(out[16:18], fid.FileVersionNumber)
	out[18] = fid.Characteristics
	out[19] = byte(lengthFI)
	// out[20:24] (the long_ad's length-and-type word) is left zero: the
	// FID's ICB reference only needs to locate the ICB, not describe its
	// extent, and no reader of this field relies on it.
	binary.LittleEndian.PutUint32(out[24:28], fid.ICB.Block)
	binary.LittleEndian.PutUint16(out[28:30], fid.ICB.PartitionRef)
	binary.LittleEndian.PutUint16(out[36:38], uint16(lengthIU))
	copy(out[38:38+lengthIU], fid.ImplUse)
	copy(out[38+lengthIU:], nameBytes)
	return out, nil
}
