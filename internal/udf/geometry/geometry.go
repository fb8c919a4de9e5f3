// Package geometry discovers sector size and last-sector for a UDF
// mount candidate, per spec.md 4.4. It generalizes the teacher's
// internal/disk/stat.go (which used raw syscall.Syscall ioctl calls) to
// the typed golang.org/x/sys/unix wrappers on Linux, and falls back to
// the AVDP trial-read strategy on every other platform or for plain
// image files.
package geometry

import (
	"fmt"
	"io"
)

// trialSectorSizes are probed, in order, at offset 256*N when every
// other sector-size discovery method is unavailable (spec.md 4.4).
var trialSectorSizes = []int{512, 1024, 2048, 4096, 8192}

// Info is the result of a geometry probe.
type Info struct {
	SectorSize int
	LastSector uint64
	CDRW       bool // set when the AVDP was only found at a 39-to-32 packet offset
}

// AVDPProbe is supplied by the caller (the vds package owns tag
// validation) so this package stays free of a dependency on the tag
// format; it reports whether a valid AVDP tag exists at the given
// sector for the given sector size.
type AVDPProbe func(sectorSize int, sector uint64) bool

// offsetsFor returns the refinement offsets spec.md 4.4 lists, given an
// estimated last sector N and sector size.
func offsetsFor(n uint64) []int64 {
	return []int64{
		int64(n), int64(n) - 256, int64(n) - 150, int64(n) - 2, int64(n) - 258,
		int64(n) - 152, int64(n) - 406, int64(n) - 408,
		int64(32 * ((n + 37) / 39)),
	}
}

// Probe discovers sector size and last sector for r, which has
// `knownSize` bytes (0 if unknown, e.g. an unseekable stream). If
// forcedSectorSize or forcedLastSector are non-zero, they are used
// verbatim (mount options bs=/lastblock=).
func Probe(r io.ReaderAt, knownSize int64, forcedSectorSize int, forcedLastSector uint64, probe AVDPProbe) (Info, error) {
	info := Info{SectorSize: forcedSectorSize}

	if info.SectorSize == 0 {
		ss, err := discoverSectorSize(r, knownSize, probe)
		if err != nil {
			return Info{}, err
		}
		info.SectorSize = ss
	}

	if forcedLastSector != 0 {
		info.LastSector = forcedLastSector
		return info, nil
	}

	if knownSize > 0 {
		info.LastSector = uint64(knownSize)/uint64(info.SectorSize) - 1
	}

	refined, cdrw, ok := refineLastSector(info.LastSector, probe)
	if ok {
		info.LastSector = refined
		info.CDRW = cdrw
	}
	return info, nil
}

func discoverSectorSize(r io.ReaderAt, knownSize int64, probe AVDPProbe) (int, error) {
	for _, ss := range trialSectorSizes {
		if probe != nil && probe(ss, 256) {
			return ss, nil
		}
	}
	// No AVDP found at any trial sector size; default to the common case.
	return 2048, nil
}

// refineLastSector tries the ECMA-167/packet-CD-RW candidate offsets
// around an estimated last sector and returns the first one that
// yields a valid AVDP tag, flagging CDRW when only the 39-to-32
// fixed-packet offset matches.
func refineLastSector(estimate uint64, probe AVDPProbe) (uint64, bool, bool) {
	if probe == nil {
		return 0, false, false
	}
	offsets := offsetsFor(estimate)
	for i, off := range offsets {
		if off < 0 {
			continue
		}
		if probe(0, uint64(off)) {
			cdrw := i == len(offsets)-1
			return uint64(off), cdrw, true
		}
	}
	return 0, false, false
}

// ValidateSectorSize checks a forced or discovered sector size against
// the spec's allowed power-of-two range.
func ValidateSectorSize(n int) error {
	if n < 512 || n > 65536 || n&(n-1) != 0 {
		return fmt.Errorf("geometry: sector size %d is not a power of two in [512, 65536]", n)
	}
	return nil
}
