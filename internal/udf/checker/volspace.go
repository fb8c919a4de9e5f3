// Package checker implements the consistency-audit layer of spec.md
// 4.13: volume- and file-space overlap tracking, link-count and
// unique-ID cross-checks, and a cycle-safe directory walk, grounded on
// original_source/udf/tools/src/chkudf's volspace.c/filespace.c/
// linkcount.c/display_dirs.c. Unlike chkudf's single global arrays,
// every tracker here is a value a caller owns and can run over more
// than one volume concurrently.
package checker

import (
	"sort"

	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// VolExtent is one claimed region of volume space: an AVDP, a VDS, an
// LVID extent, a partition, and so on.
type VolExtent struct {
	Location uint32
	Length   uint32
	Name     string
}

// VolSpaceTracker accumulates every extent claimed at the volume level
// (outside any partition) and flags overlaps, mirroring
// track_volspace's sorted insertion-with-neighbor-check.
type VolSpaceTracker struct {
	extents []VolExtent
}

// NewVolSpaceTracker returns an empty tracker.
func NewVolSpaceTracker() *VolSpaceTracker {
	return &VolSpaceTracker{}
}

// Track claims [location, location+length) under name. A zero-length
// extent is a no-op, matching track_volspace's guard. Overlap with an
// already-claimed extent is reported via udferr.VolSpaceOverlap but the
// new extent is still recorded, so a single pass surfaces every
// overlap rather than stopping at the first one.
func (v *VolSpaceTracker) Track(location, length uint32, name string) *udferr.Error {
	if length == 0 {
		return nil
	}
	end := location + length

	idx := sort.Search(len(v.extents), func(i int) bool {
		return v.extents[i].Location >= location
	})

	var overlap *udferr.Error
	if idx > 0 {
		prev := v.extents[idx-1]
		if end > prev.Location && location < prev.Location+prev.Length {
			overlap = udferr.New(udferr.VolSpaceOverlap, location, 0, 0)
		}
	}
	if idx < len(v.extents) {
		next := v.extents[idx]
		if end > next.Location && location < next.Location+next.Length {
			overlap = udferr.New(udferr.VolSpaceOverlap, location, 0, 0)
		}
	}

	v.extents = append(v.extents, VolExtent{})
	copy(v.extents[idx+1:], v.extents[idx:])
	v.extents[idx] = VolExtent{Location: location, Length: length, Name: name}

	return overlap
}

// Extents returns the claimed extents in location order.
func (v *VolSpaceTracker) Extents() []VolExtent {
	return v.extents
}
