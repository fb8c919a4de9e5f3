// Package udferr defines the error taxonomy shared by every layer of the
// UDF implementation, mirroring the Error_Struct carried through
// chkudf (checkTag.c, filespace.c, linkcount.c) and propagated here as a
// typed Go error instead of a global struct.
package udferr

import "fmt"

// Code identifies the class of failure. Callers switch on Code rather
// than matching error strings.
type Code int

const (
	TagChecksum Code = iota
	TagCRC
	TagWrongID
	TagWrongLoc
	TagWrongSerial
	TagBadVersion
	ReadIO
	WriteIO
	NoAnchor
	NoVDS
	NoFSD
	NoVAT
	NoSparePartition
	BadPartitionRef
	BadLBN
	BadAD
	ProhibitedExtentType
	ProhibitedADType
	UnsortedExtents
	SeqAlloc
	VolSpaceOverlap
	FileSpaceOverlap
	SpaceMapMismatch
	LinkCountMismatch
	UniqueIDCollision
	NameTooLong
	NameExists
	NotEmpty
	NoMem
)

var names = map[Code]string{
	TagChecksum:           "TAG_CHECKSUM",
	TagCRC:                "TAG_CRC",
	TagWrongID:            "TAG_WRONG_ID",
	TagWrongLoc:           "TAG_WRONG_LOC",
	TagWrongSerial:        "TAG_WRONG_SERIAL",
	TagBadVersion:         "TAG_BAD_VERSION",
	ReadIO:                "READ_IO",
	WriteIO:               "WRITE_IO",
	NoAnchor:              "NO_ANCHOR",
	NoVDS:                 "NO_VDS",
	NoFSD:                 "NO_FSD",
	NoVAT:                 "NO_VAT",
	NoSparePartition:      "NO_SPARE_PARTITION",
	BadPartitionRef:       "BAD_PARTITION_REF",
	BadLBN:                "BAD_LBN",
	BadAD:                 "BAD_AD",
	ProhibitedExtentType:  "PROHIBITED_EXTENT_TYPE",
	ProhibitedADType:      "PROHIBITED_AD_TYPE",
	UnsortedExtents:       "UNSORTED_EXTENTS",
	SeqAlloc:              "SEQ_ALLOC",
	VolSpaceOverlap:       "VOL_SPACE_OVERLAP",
	FileSpaceOverlap:      "FILE_SPACE_OVERLAP",
	SpaceMapMismatch:      "SPACE_MAP_MISMATCH",
	LinkCountMismatch:     "LINK_COUNT_MISMATCH",
	UniqueIDCollision:     "UNIQUE_ID_COLLISION",
	NameTooLong:           "NAME_TOO_LONG",
	NameExists:            "NAME_EXISTS",
	NotEmpty:              "NOT_EMPTY",
	NoMem:                 "NO_MEM",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error carries (code, sector, expected, found) the way chkudf's
// Error_Struct does, so a caller can print or compare without parsing text.
type Error struct {
	Code     Code
	Sector   uint32
	Expected uint64
	Found    uint64
	Wrapped  error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s at sector %d (expected %d, found %d): %v",
			e.Code, e.Sector, e.Expected, e.Found, e.Wrapped)
	}
	return fmt.Sprintf("%s at sector %d (expected %d, found %d)", e.Code, e.Sector, e.Expected, e.Found)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func New(code Code, sector uint32, expected, found uint64) *Error {
	return &Error{Code: code, Sector: sector, Expected: expected, Found: found}
}

func Wrap(code Code, sector uint32, err error) *Error {
	return &Error{Code: code, Sector: sector, Wrapped: err}
}
