// Package vrs implements the Volume Recognition Sequence scan
// (ISO-9660/BEA01/NSR02|NSR03/TEA01) described in spec.md 4.5.
package vrs

import (
	"bytes"
	"fmt"
	"io"
)

const (
	sectorSize  = 2048
	startOffset = 32768
)

// kind is a 5-byte CD001-style volume structure
// descriptor identifier at offset 1 of every 2KiB VRS block.
type kind string

const (
	beaID  kind = "BEA01"
	nsr02  kind = "NSR02"
	nsr03  kind = "NSR03"
	teaID  kind = "TEA01"
	cd001  kind = "CD001"
)

// Result is the outcome of scanning the VRS.
type Result struct {
	SawBEA     bool
	SawTEA     bool
	UDFRevision uint16 // 2 for NSR02, 3 for NSR03
}

// Scan reads the VRS starting at byte 32768+sessionStart of r, stopping
// at the first TEA01, at the first empty or unrecognized block, or
// after 64 blocks.
// Absence of BEA01/TEA01 is reported but not fatal; absence of an NSR
// descriptor is fatal, matching spec.md 4.5.
func Scan(r io.ReaderAt, sessionStart int64) (Result, error) {
	var res Result

	buf := make([]byte, sectorSize)
	offset := startOffset + sessionStart

	const maxBlocks = 64
	for i := 0; i < maxBlocks; i++ {
		n, err := r.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return Result{}, fmt.Errorf("vrs: read at %d: %w", offset, err)
		}
		if n < 7 {
			break
		}

		id := descriptorID(buf)
		switch id {
		case beaID:
			res.SawBEA = true
		case nsr02:
			res.UDFRevision = 2
		case nsr03:
			res.UDFRevision = 3
		case teaID:
			res.SawTEA = true
			return finish(res)
		case cd001:
			// opaque ISO-9660 descriptor, keep scanning
		default:
			// unknown/empty descriptor: stop scanning
			return finish(res)
		}
		offset += sectorSize
	}
	return finish(res)
}

func finish(res Result) (Result, error) {
	if res.UDFRevision == 0 {
		return res, fmt.Errorf("vrs: no NSR02/NSR03 descriptor found")
	}
	return res, nil
}

// descriptorID reads the 5-byte standard identifier at offset 1 of a
// volume structure descriptor (byte 0 is the structure type, unused
// here since we only care about the identifier string).
func descriptorID(b []byte) kind {
	id := b[1:6]
	switch {
	case bytes.Equal(id, []byte("BEA01")):
		return beaID
	case bytes.Equal(id, []byte("NSR02")):
		return nsr02
	case bytes.Equal(id, []byte("NSR03")):
		return nsr03
	case bytes.Equal(id, []byte("TEA01")):
		return teaID
	case bytes.Equal(id, []byte("CD001")):
		return cd001
	default:
		return ""
	}
}
