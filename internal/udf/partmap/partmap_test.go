package partmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVirtualTranslationScenario(t *testing.T) {
	// VAT at block 0x1000 contains entries [0x50, 0x51, 0x80, ...].
	vat := &VAT{Entries: []uint32{0x50, 0x51, 0x80}}
	companion := &Type1Map{Start: 0x2000, Length: 0xFFFFFFFF}
	vmap := &VirtualMap{VAT: vat, Companion: companion}

	phys, err := vmap.Translate(2, 0)
	require.NoError(t, err)
	require.Equal(t, companion.Start+0x80, phys)
}

func TestSparingLookupScenario(t *testing.T) {
	table := NewSparingTable([]SparingEntry{
		{Original: 0x100, Replacement: 0x10000},
		{Original: 0x200, Replacement: 0x10020},
		{Original: terminator},
	}, nil)

	smap := &SparableMap{Start: 0x400, Length: 0xFFFFFFFF, PacketLen: 32, Table: table}

	phys, err := smap.Translate(0x20F, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1002F), phys)
}

func TestSparableFallsBackToDirectWhenUnmapped(t *testing.T) {
	table := NewSparingTable([]SparingEntry{{Original: terminator}}, nil)
	smap := &SparableMap{Start: 0x400, Length: 0xFFFFFFFF, PacketLen: 32, Table: table}

	phys, err := smap.Translate(64, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(0x400+64+3), phys)
}

func TestType1BoundsCheck(t *testing.T) {
	m := &Type1Map{Start: 0, Length: 10}
	_, err := m.Translate(10, 0)
	require.Error(t, err)
}

func TestSparingTableRelocateKeepsSortedOrder(t *testing.T) {
	table := NewSparingTable([]SparingEntry{
		{Original: 0x100, Replacement: 0x10000},
		{Original: terminator},
	}, nil)

	require.NoError(t, table.Relocate(0x50, 0x9000))
	require.True(t, table.Dirty())

	mapped, ok := table.Lookup(0x50)
	require.True(t, ok)
	require.Equal(t, uint64(0x9000), mapped)

	// still find the pre-existing entry afterwards
	mapped, ok = table.Lookup(0x100)
	require.True(t, ok)
	require.Equal(t, uint64(0x10000), mapped)
}

func TestTableTranslateRejectsBadPartitionRef(t *testing.T) {
	tbl := NewTable([]Translator{&Type1Map{Start: 0, Length: 100}})
	_, err := tbl.Translate(5, 0, 0)
	require.Error(t, err)
}
