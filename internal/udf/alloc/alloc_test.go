package alloc

import (
	"testing"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/stretchr/testify/require"
)

func TestInICBReadScenario(t *testing.T) {
	// FE with info_length=42, L_EA=0, L_AD=42, AD type = IN_ICB; reading
	// bytes [10, 30) returns exactly the raw header+10..header+30 bytes.
	const headerSize = 176 // a representative FE fixed-header size
	block := make([]byte, headerSize+42)
	for i := 0; i < 42; i++ {
		block[headerSize+i] = byte(i)
	}
	inline := block[headerSize : headerSize+42]

	out := make([]byte, 20)
	n, err := ReadInICB(inline, 10, out)
	require.NoError(t, err)
	require.Equal(t, 20, n)
	require.Equal(t, inline[10:30], out)
}

func TestWalkShortADsStopsAtZeroLength(t *testing.T) {
	region := make([]byte, ShortADSize*3)
	putShortAD(region[0:8], 1024, addr.Recorded, 5)
	putShortAD(region[8:16], 0, addr.Recorded, 0) // terminator
	putShortAD(region[16:24], 2048, addr.Recorded, 100)

	ads, err := WalkADs(region, 0, ShortAD, 2048, nil)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, uint32(1024), ads[0].Length)
	require.Equal(t, uint32(5), ads[0].Location.Block)
}

func TestWalkADsFollowsAED(t *testing.T) {
	blockSize := uint32(512)

	// First region: one short_ad pointing to a NEXT_ALLOC_EXTENT AED at block 9.
	region := make([]byte, ShortADSize)
	putShortAD(region, 512, addr.NextAllocExtent, 9)

	aedBlock := make([]byte, blockSize)
	// tag (16 bytes, unchecked by this test) + PreviousAllocExtLocation(4) + LengthAllocDescs(4)
	putU32(aedBlock[20:24], ShortADSize*2)
	putShortAD(aedBlock[24:32], 256, addr.Recorded, 20)
	putShortAD(aedBlock[32:40], 0, addr.Recorded, 0)

	read := func(loc addr.LBAddr, bs uint32) ([]byte, error) {
		require.Equal(t, uint32(9), loc.Block)
		return aedBlock, nil
	}

	ads, err := WalkADs(region, 0, ShortAD, blockSize, read)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, uint32(256), ads[0].Length)
	require.Equal(t, uint32(20), ads[0].Location.Block)
}

func TestReadAtUnallocatedReturnsZeros(t *testing.T) {
	blockSize := uint32(512)
	ads := []AD{
		{Length: 512, Type: addr.NotAllocated, Location: addr.LBAddr{Block: 0}},
	}
	out := make([]byte, 512)
	for i := range out {
		out[i] = 0xAA
	}
	n, err := ReadAt(ads, blockSize, nil, 0, out)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	for _, b := range out {
		require.Equal(t, byte(0), b)
	}
}

func TestTotalLengthInvariant(t *testing.T) {
	ads := []AD{{Length: 1000}, {Length: 2000}}
	require.Equal(t, uint64(3000), TotalLength(ads))
}

func putShortAD(dst []byte, length uint32, typ addr.ExtentType, block uint32) {
	putU32(dst[0:4], addr.PackExtent(length, typ))
	putU32(dst[4:8], block)
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
