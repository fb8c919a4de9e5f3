// Package partmap implements the three partition-map address
// translators of spec.md 4.7: direct (Type-1), virtual (VAT-indirected)
// and sparable (defect-remapped), grounded on
// original_source/udf/src/partition.c's udf_virtual_lookup/
// udf_sparable_lookup and spec.md's generalization of them to arbitrary
// block counts.
package partmap

import (
	"fmt"
	"sort"

	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// Translator is implemented by each of the three partition-map types. A
// tagged variant with a type switch in Table.Translate stands in for
// the original's function-pointer dispatch, per spec.md 9.
type Translator interface {
	// Translate maps a partition-relative (block, offset) to a physical
	// sector.
	Translate(block, offset uint32) (uint64, error)
	// Type identifies the map kind for diagnostics.
	Type() Kind
}

type Kind uint8

const (
	Type1 Kind = iota
	Virtual
	Sparable
)

func (k Kind) String() string {
	switch k {
	case Type1:
		return "Type-1"
	case Virtual:
		return "Virtual"
	case Sparable:
		return "Sparable"
	default:
		return "Unknown"
	}
}

// Table holds one Translator per partition reference in a logical
// volume's partition-map table.
type Table struct {
	entries []Translator
}

func NewTable(entries []Translator) *Table {
	return &Table{entries: entries}
}

// Translate maps (partRef, block, offset) to a physical sector, per
// spec.md 4.7's three translate() rules.
func (t *Table) Translate(partRef uint16, block, offset uint32) (uint64, error) {
	if int(partRef) >= len(t.entries) {
		return 0, udferr.New(udferr.BadPartitionRef, 0, uint64(len(t.entries)), uint64(partRef))
	}
	return t.entries[partRef].Translate(block, offset)
}

// KindOf reports the map kind registered for partRef, for diagnostics
// (the info command's partition-map column).
func (t *Table) KindOf(partRef uint16) (Kind, error) {
	if int(partRef) >= len(t.entries) {
		return 0, udferr.New(udferr.BadPartitionRef, 0, uint64(len(t.entries)), uint64(partRef))
	}
	return t.entries[partRef].Type(), nil
}

// Type1Map is the direct partition map: phys = start + block + offset.
type Type1Map struct {
	Start  uint64
	Length uint32
}

func (m *Type1Map) Type() Kind { return Type1 }

func (m *Type1Map) Translate(block, offset uint32) (uint64, error) {
	if uint64(block) >= uint64(m.Length) {
		return 0, udferr.New(udferr.BadLBN, 0, uint64(m.Length), uint64(block))
	}
	return m.Start + uint64(block) + uint64(offset), nil
}

// VirtualMap looks up one block at a time in a VAT, then recurses into
// the companion Type-1 partition. Successive logical blocks need not
// map to successive physical sectors, so no run-length shortcut is
// taken (spec.md 4.7).
type VirtualMap struct {
	VAT       *VAT
	Companion *Type1Map
}

func (m *VirtualMap) Type() Kind { return Virtual }

func (m *VirtualMap) Translate(block, offset uint32) (uint64, error) {
	// offset is partition-relative too; fold it into the logical block
	// index before indirecting through the VAT, one block at a time.
	target := block + offset

	phys, err := m.VAT.Lookup(target)
	if err != nil {
		return 0, err
	}
	return m.Companion.Translate(phys, 0)
}

// SparableMap remaps whole packets via a sorted sparing table, falling
// back to direct addressing when no entry matches (spec.md 4.7).
type SparableMap struct {
	Start     uint64
	Length    uint32
	PacketLen uint32
	Table     *SparingTable
}

func (m *SparableMap) Type() Kind { return Sparable }

func (m *SparableMap) Translate(block, offset uint32) (uint64, error) {
	abs := block + offset
	packet := abs &^ (m.PacketLen - 1)
	inPacket := abs & (m.PacketLen - 1)

	if mapped, ok := m.Table.Lookup(packet); ok {
		return uint64(mapped) + uint64(inPacket), nil
	}
	return m.Start + uint64(abs), nil
}

// VAT is the Virtual Allocation Table: index is a virtual block
// number, value is the physical block on the underlying Type-1
// partition (spec.md 3).
type VAT struct {
	Entries []uint32
}

func (v *VAT) Lookup(block uint32) (uint32, error) {
	if int(block) >= len(v.Entries) {
		return 0, udferr.New(udferr.NoVAT, 0, uint64(len(v.Entries)), uint64(block))
	}
	return v.Entries[block], nil
}

// SparingEntry is one (original_packet, replacement_packet) pair.
type SparingEntry struct {
	Original    uint32
	Replacement uint64
}

// terminator marks the end of a sparing table per spec.md 3.
const terminator = 0xFFFFFFFF

// SparingTable is a sorted-by-Original array of spare mappings, with up
// to four mirrored on-disk replicas (spec.md 5); this struct models the
// single logical table plus a dirty flag and replica locations, per
// spec.md 9's design note.
type SparingTable struct {
	Entries  []SparingEntry
	Replicas []uint64 // physical block addresses of the up-to-four mirrors
	dirty    bool
}

func NewSparingTable(entries []SparingEntry, replicas []uint64) *SparingTable {
	return &SparingTable{Entries: entries, Replicas: replicas}
}

// Lookup performs the linear search spec.md 4.7 describes, terminating
// early once Original exceeds packet (entries are sorted ascending).
func (s *SparingTable) Lookup(packet uint32) (uint64, bool) {
	for _, e := range s.Entries {
		if e.Original == terminator {
			break
		}
		if e.Original == packet {
			return e.Replacement, true
		}
		if e.Original > packet {
			break
		}
	}
	return 0, false
}

// Relocate inserts a new sparing entry in sorted order (used when media
// defect relocation occurs) and marks the table dirty so Flush knows to
// broadcast to every replica.
func (s *SparingTable) Relocate(original uint32, replacement uint64) error {
	idx := sort.Search(len(s.Entries), func(i int) bool {
		return s.Entries[i].Original >= original || s.Entries[i].Original == terminator
	})

	if idx < len(s.Entries) && s.Entries[idx].Original == original {
		s.Entries[idx].Replacement = replacement
	} else {
		entry := SparingEntry{Original: original, Replacement: replacement}
		s.Entries = append(s.Entries, SparingEntry{})
		copy(s.Entries[idx+1:], s.Entries[idx:])
		s.Entries[idx] = entry
	}
	s.dirty = true
	return nil
}

// Dirty reports whether Relocate has been called since the last Flush.
func (s *SparingTable) Dirty() bool { return s.dirty }

// FlushFunc writes the sparing table's serialized bytes to one replica
// location; Flush calls it once per mirror, broadcasting the same
// bytes, per spec.md 5's "all writes to any mirror must be broadcast to
// the rest".
type FlushFunc func(replicaBlock uint64, data []byte) error

func (s *SparingTable) Flush(serialize func([]SparingEntry) []byte, write FlushFunc) error {
	if !s.dirty {
		return nil
	}
	data := serialize(s.Entries)
	for _, r := range s.Replicas {
		if err := write(r, data); err != nil {
			return fmt.Errorf("partmap: flushing sparing table replica at block %d: %w", r, err)
		}
	}
	s.dirty = false
	return nil
}
