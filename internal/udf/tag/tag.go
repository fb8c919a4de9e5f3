// Package tag implements the 16-byte descriptor tag shared by every
// structural block in a UDF volume, and its validation, grounded on
// original_source/udf/tools/src/chkudf/checkTag.c.
package tag

import (
	"encoding/binary"

	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// Size is the fixed length of a descriptor tag header.
const Size = 16

// Descriptor is the parsed form of ECMA-167 7.2's descriptor tag.
type Descriptor struct {
	ID                uint16
	DescriptorVersion uint16
	Checksum          uint8
	SerialNumber      uint16
	CRC               uint16
	CRCLength         uint16
	TagLocation       uint32
}

// Parse reads the 16-byte tag header out of b without validating it.
func Parse(b []byte) Descriptor {
	return Descriptor{
		ID:                binary.LittleEndian.Uint16(b[0:2]),
		DescriptorVersion: binary.LittleEndian.Uint16(b[2:4]),
		Checksum:          b[4],
		SerialNumber:      binary.LittleEndian.Uint16(b[6:8]),
		CRC:               binary.LittleEndian.Uint16(b[8:10]),
		CRCLength:         binary.LittleEndian.Uint16(b[10:12]),
		TagLocation:        binary.LittleEndian.Uint32(b[12:16]),
	}
}

// Stamp writes a descriptor tag into block[0:16] for the body already
// present at block[16:16+crcLen], the inverse of Parse/Validate. Used
// by the write path (dirent/icb encoders) to produce on-disk blocks
// the read path (and chkudf-style Validate) accepts back.
func Stamp(block []byte, id, version uint16, location uint32, serial uint16, crcLen int) {
	binary.LittleEndian.PutUint16(block[0:2], id)
	binary.LittleEndian.PutUint16(block[2:4], version)
	binary.LittleEndian.PutUint16(block[6:8], serial)
	binary.LittleEndian.PutUint16(block[10:12], uint16(crcLen))
	binary.LittleEndian.PutUint32(block[12:16], location)
	binary.LittleEndian.PutUint16(block[8:10], CRCItuT(block[Size:Size+crcLen]))
	block[4] = checksum(block)
}

// Result classifies the outcome of Validate, matching chkudf's
// CHECKTAG_TAG_GOOD / CHECKTAG_WRONG_TAG / CHECKTAG_TAG_DAMAGED / CHECKTAG_NOT_TAG.
type Result int

const (
	Good Result = iota
	WrongID
	Damaged
	NotATag
)

// checksum computes the 8-bit sum-of-bytes over offsets 0-3 and 5-15,
// skipping the checksum byte itself at offset 4 (ECMA-167 7.2.5).
func checksum(b []byte) uint8 {
	var sum uint8
	for i := 0; i < 4; i++ {
		sum += b[i]
	}
	for i := 5; i < Size; i++ {
		sum += b[i]
	}
	return sum
}

// Validator carries the per-volume state (expected UDF revision, and
// whether a serial number has been observed yet) needed to validate
// tags the way chkudf's global Version_OK/Serial_No state does,
// collected here into a struct instead of globals.
type Validator struct {
	// Revision is 2 or 3, selecting the expected descriptor version.
	Revision uint16
	// SerialNo pins the expected tag serial number once the first tag
	// has been read; zero means "not yet observed".
	SerialNo uint16
	sawFirst bool
}

// Validate runs the checksum -> id -> crc-length -> crc -> location ->
// version -> serial chain described in spec.md 4.1, short-circuiting on
// the first failure exactly like checkTag.c's `if (!Error.Code)` chain.
func (v *Validator) Validate(b []byte, expectedLoc uint32, expectedID uint16, crcMin, crcMax int) (Result, *udferr.Error) {
	if len(b) < Size {
		return NotATag, udferr.New(udferr.TagChecksum, expectedLoc, 0, 0)
	}

	sum := checksum(b)
	if sum != b[4] {
		return NotATag, udferr.New(udferr.TagChecksum, expectedLoc, uint64(sum), uint64(b[4]))
	}

	d := Parse(b)

	result := Good

	if expectedID != 0xFFFF && expectedID != d.ID {
		return WrongID, udferr.New(udferr.TagWrongID, expectedLoc, uint64(expectedID), uint64(d.ID))
	}

	if int(d.CRCLength) < crcMin || int(d.CRCLength) > crcMax {
		return Damaged, udferr.New(udferr.TagCRC, expectedLoc, uint64(crcMin), uint64(d.CRCLength))
	}

	if len(b) < Size+int(d.CRCLength) {
		return Damaged, udferr.New(udferr.TagCRC, expectedLoc, uint64(Size+int(d.CRCLength)), uint64(len(b)))
	}
	crc := CRCItuT(b[Size : Size+int(d.CRCLength)])
	if crc != d.CRC {
		result = Damaged
		return result, udferr.New(udferr.TagCRC, expectedLoc, uint64(crc), uint64(d.CRC))
	}

	if d.TagLocation != expectedLoc {
		return Damaged, udferr.New(udferr.TagWrongLoc, expectedLoc, uint64(expectedLoc), uint64(d.TagLocation))
	}

	if v.Revision != 0 && d.DescriptorVersion != v.Revision {
		// ECMA-167r3 3/7.2.2: a v3 volume may legally contain v2
		// descriptors (migrated media); anything else is damaged.
		if !(v.Revision == 3 && d.DescriptorVersion == 2) {
			return Damaged, udferr.New(udferr.TagBadVersion, expectedLoc, uint64(v.Revision), uint64(d.DescriptorVersion))
		}
	}

	if v.sawFirst {
		if d.SerialNumber != v.SerialNo {
			return Damaged, udferr.New(udferr.TagWrongSerial, expectedLoc, uint64(v.SerialNo), uint64(d.SerialNumber))
		}
	} else {
		v.SerialNo = d.SerialNumber
		v.sawFirst = true
	}

	return result, nil
}
