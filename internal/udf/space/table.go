package space

import (
	"fmt"
	"sort"

	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// Extent is one entry of an Unallocated-Space-Entry's short_ad table:
// a partition-relative free run. Table-form free space may only
// contain allocated-but-unrecorded extents, never recorded or
// unallocated ones (spec.md 4.10).
type Extent struct {
	Location uint32
	Length   uint32
}

// Table is the table-form free-space representation: a sorted-
// ascending-by-location array of free extents (spec.md 3, 4.10).
type Table struct {
	extents []Extent
}

func NewTable(extents []Extent) (*Table, error) {
	for i := 1; i < len(extents); i++ {
		if extents[i].Location < extents[i-1].Location {
			return nil, udferr.New(udferr.UnsortedExtents, 0, uint64(extents[i-1].Location), uint64(extents[i].Location))
		}
	}
	cp := make([]Extent, len(extents))
	copy(cp, extents)
	return &Table{extents: cp}, nil
}

func (t *Table) Extents() []Extent {
	cp := make([]Extent, len(t.extents))
	copy(cp, t.extents)
	return cp
}

// Allocate walks the sorted extents for the first one of sufficient
// length, then shrinks it from the front (or removes it if it's
// consumed exactly), per spec.md 4.8's table-form allocation rule.
func (t *Table) Allocate(count uint32) (uint32, error) {
	for i := range t.extents {
		e := &t.extents[i]
		if e.Length < count {
			continue
		}
		loc := e.Location
		if e.Length == count {
			t.extents = append(t.extents[:i], t.extents[i+1:]...)
		} else {
			e.Location += count
			e.Length -= count
		}
		return loc, nil
	}
	return 0, fmt.Errorf("space: no table extent of length %d available", count)
}

// AllocateAt allocates count blocks at a specific location within some
// extent, splitting it into a leading and trailing remainder when the
// allocation doesn't touch either edge.
func (t *Table) AllocateAt(location, count uint32) error {
	for i := range t.extents {
		e := t.extents[i]
		if location < e.Location || location+count > e.Location+e.Length {
			continue
		}
		var replacement []Extent
		if location > e.Location {
			replacement = append(replacement, Extent{Location: e.Location, Length: location - e.Location})
		}
		if end := location + count; end < e.Location+e.Length {
			replacement = append(replacement, Extent{Location: end, Length: e.Location + e.Length - end})
		}
		t.extents = append(t.extents[:i], append(replacement, t.extents[i+1:]...)...)
		return nil
	}
	return fmt.Errorf("space: no table extent covers [%d, %d)", location, location+count)
}

// Free inserts a freed extent back into the table in sorted position,
// coalescing with an immediately adjacent neighbor on either side.
func (t *Table) Free(location, count uint32) {
	e := Extent{Location: location, Length: count}
	idx := sort.Search(len(t.extents), func(i int) bool {
		return t.extents[i].Location >= location
	})

	if idx > 0 && t.extents[idx-1].Location+t.extents[idx-1].Length == e.Location {
		idx--
		t.extents[idx].Length += e.Length
	} else {
		t.extents = append(t.extents, Extent{})
		copy(t.extents[idx+1:], t.extents[idx:])
		t.extents[idx] = e
	}

	if idx+1 < len(t.extents) && t.extents[idx].Location+t.extents[idx].Length == t.extents[idx+1].Location {
		t.extents[idx].Length += t.extents[idx+1].Length
		t.extents = append(t.extents[:idx+1], t.extents[idx+2:]...)
	}
}
