package partmap

import (
	"encoding/binary"
	"fmt"
)

// minVAT20HeaderSize bounds the UDF 2.00+ VAT header prepended before the
// entry array: PreviousVATICBLocation, NumFiles, NumDirs,
// MinUDFReadRevision, MinUDFWriteRevision, MaxUDFWriteRevision, plus a
// variable-length implementation-use area whose exact layout beyond
// LengthHeader is left unspecified by the original driver (spec.md 9's
// open question) — this repo reads only LengthHeader itself and treats
// the rest of the header as an opaque skip, matching the only behavior
// original_source/udf/tools/src/chkudf/getVAT.c actually implements.
const minVAT20HeaderSize = 4

// ParseVAT decodes a VAT block's entry array. For UDF 1.50 VATs there
// is no header: the block is a bare array of u32 entries. For UDF
// 2.00+, the first 4 bytes give LengthHeader, the offset in bytes to
// the first real entry; everything before that offset is skipped.
func ParseVAT(data []byte, udfRevision uint16) (*VAT, error) {
	start := 0
	if udfRevision >= 0x0200 {
		if len(data) < minVAT20HeaderSize {
			return nil, fmt.Errorf("partmap: VAT block too short for a 2.00+ header")
		}
		lengthHeader := binary.LittleEndian.Uint32(data[0:4])
		if int(lengthHeader) > len(data) {
			return nil, fmt.Errorf("partmap: VAT LengthHeader %d exceeds block size %d", lengthHeader, len(data))
		}
		start = int(lengthHeader)
	}

	body := data[start:]
	n := len(body) / 4
	entries := make([]uint32, n)
	for i := 0; i < n; i++ {
		entries[i] = binary.LittleEndian.Uint32(body[i*4 : i*4+4])
	}
	return &VAT{Entries: entries}, nil
}

// ICBScanner is supplied by the icb package: it reports the file type
// and inline data of the ICB at a given block, without this package
// needing to depend on icb's full parsing machinery.
type ICBScanner func(block uint32) (fileType uint8, inlineData []byte, ok bool)

// FileTypeVAT is the ICB tag file-type value identifying a VAT ICB
// (spec.md 3: "one and only one VAT exists per mounted virtual
// partition; located via a terminal FILE_TYPE_VAT ICB near end of media").
const FileTypeVAT uint8 = 0

// LocateVAT scans backward from the last block of a partition looking
// for a terminal VAT ICB, per original_source's getVAT.c.
func LocateVAT(lastBlock uint32, scan ICBScanner) (*VAT, error) {
	for block := lastBlock; ; block-- {
		fileType, inline, ok := scan(block)
		if ok && fileType == FileTypeVAT {
			return ParseVAT(inline, 0x0200)
		}
		if block == 0 {
			break
		}
	}
	return nil, fmt.Errorf("partmap: no VAT ICB found scanning backward from block %d", lastBlock)
}
