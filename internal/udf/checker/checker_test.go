package checker

import (
	"testing"

	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/ostafen/udfkit/internal/udf/space"
	"github.com/stretchr/testify/require"
)

func TestVolSpaceTrackerFlagsOverlap(t *testing.T) {
	v := NewVolSpaceTracker()
	require.Nil(t, v.Track(100, 50, "vds-main"))
	require.Nil(t, v.Track(200, 50, "vds-reserve"))

	err := v.Track(120, 10, "overlapping-avdp")
	require.NotNil(t, err)
}

func TestVolSpaceTrackerAllowsAdjacentExtents(t *testing.T) {
	v := NewVolSpaceTracker()
	require.Nil(t, v.Track(100, 50, "a"))
	require.Nil(t, v.Track(150, 50, "b"))
	require.Len(t, v.Extents(), 2)
}

func TestFileSpaceTrackerFlagsDoubleClaim(t *testing.T) {
	f := NewFileSpaceTracker(map[uint16]uint32{0: 1000})
	require.Nil(t, f.Track(0, 10, 5))
	err := f.Track(0, 12, 5)
	require.NotNil(t, err)
	require.Equal(t, "FILE_SPACE_OVERLAP", err.Code.String())
}

func TestFileSpaceTrackerFlagsBadLBN(t *testing.T) {
	f := NewFileSpaceTracker(map[uint16]uint32{0: 100})
	err := f.Track(0, 98, 10)
	require.NotNil(t, err)
	require.Equal(t, "BAD_LBN", err.Code.String())
}

func TestFileSpaceTrackerFlagsBadPartitionRef(t *testing.T) {
	f := NewFileSpaceTracker(map[uint16]uint32{0: 100})
	err := f.Track(3, 0, 1)
	require.NotNil(t, err)
	require.Equal(t, "BAD_PARTITION_REF", err.Code.String())
}

func TestFileSpaceTrackerDiffDetectsMismarkedBlocks(t *testing.T) {
	f := NewFileSpaceTracker(map[uint16]uint32{0: 16})
	require.Nil(t, f.Track(0, 0, 4)) // blocks 0-3 in use per the tree

	recordedData := make([]byte, 2)
	for i := range recordedData {
		recordedData[i] = 0xFF // recorded as all free
	}
	recorded := space.NewBitmap(recordedData, 16, 0)

	mismFree, mismInUse := f.Diff(0, recorded)
	require.Equal(t, uint32(4), mismFree) // in-use but recorded free
	require.Equal(t, uint32(0), mismInUse)
}

func TestCheckLinksDetectsMismatch(t *testing.T) {
	keyA := icb.LinkKey{PartitionRef: 0, Block: 10}
	keyB := icb.LinkKey{PartitionRef: 0, Block: 20}

	recorded := map[icb.LinkKey]uint16{keyA: 2, keyB: 1}
	counted := LinkCounter{keyA: 1, keyB: 1}

	mismatches := CheckLinks(recorded, counted)
	require.Len(t, mismatches, 1)
	require.Equal(t, keyA, mismatches[0].Key)
	require.Equal(t, uint16(2), mismatches[0].Recorded)
	require.Equal(t, uint32(1), mismatches[0].Counted)
}

func TestUniqueIDTrackerDetectsCollision(t *testing.T) {
	u := NewUniqueIDTracker()
	keyA := icb.LinkKey{PartitionRef: 0, Block: 10}
	keyB := icb.LinkKey{PartitionRef: 0, Block: 20}

	require.Nil(t, u.Observe(500, keyA))
	col := u.Observe(500, keyB)
	require.NotNil(t, col)
	require.Equal(t, uint64(500), col.ID)
	require.Equal(t, uint64(500), u.Max())
}

func TestUniqueIDTrackerAllowsRepeatObserveOfSameOwner(t *testing.T) {
	u := NewUniqueIDTracker()
	key := icb.LinkKey{PartitionRef: 0, Block: 10}
	require.Nil(t, u.Observe(7, key))
	require.Nil(t, u.Observe(7, key))
}
