package alloc

import "fmt"

// ReadInICB reads [off, off+len(p)) directly out of the inline data
// region of an ADNONE-flagged ICB (spec.md 4.10 "In-ICB mode"): the raw
// bytes between the FE/EFE header and L_AD, with no allocation
// descriptors involved at all.
func ReadInICB(inlineData []byte, off int64, p []byte) (int, error) {
	if off < 0 || off > int64(len(inlineData)) {
		return 0, fmt.Errorf("alloc: in-ICB read offset %d out of range [0, %d]", off, len(inlineData))
	}
	n := copy(p, inlineData[off:])
	if n < len(p) {
		return n, fmt.Errorf("alloc: in-ICB read past end of inline data")
	}
	return n, nil
}

// CopyFunc copies one logical "record" (a byte range for a regular
// file, one FID at a time for a directory) out of inline data into a
// freshly allocated block, rewriting tag-locations as needed. Both
// in-ICB expansion paths in the original driver (one per file type)
// collapse to this single parameterized operation, per spec.md 9's
// design note.
type CopyFunc func(inline []byte, newBlock []byte) (n int, err error)

// ExpandInICB copies inline bytes (or FIDs, via copyFn) out of an
// ADNONE ICB into a newly allocated block, returning an AD that
// carries only the copied length (its Location is left zero). Callers
// are responsible for writing newBlock to storage, setting the AD's
// Location, and rewriting the ICB's allocation descriptor region and
// flags (AD type ADNONE -> LongAD) with that AD.
func ExpandInICB(inline []byte, newBlockSize uint32, copyFn CopyFunc) (newBlock []byte, ad AD, err error) {
	newBlock = make([]byte, newBlockSize)
	n, err := copyFn(inline, newBlock)
	if err != nil {
		return nil, AD{}, err
	}
	ad = AD{Length: uint32(n)}
	return newBlock, ad, nil
}
