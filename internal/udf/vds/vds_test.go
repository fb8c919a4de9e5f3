package vds

import (
	"encoding/binary"
	"testing"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/tag"
	"github.com/stretchr/testify/require"
)

func stampTag(block []byte, id uint16, version uint16, location uint32, crcLen int) {
	binary.LittleEndian.PutUint16(block[0:2], id)
	binary.LittleEndian.PutUint16(block[2:4], version)
	binary.LittleEndian.PutUint16(block[10:12], uint16(crcLen))
	binary.LittleEndian.PutUint32(block[12:16], location)

	crc := tag.CRCItuT(block[16 : 16+crcLen])
	binary.LittleEndian.PutUint16(block[8:10], crc)

	var sum uint8
	for i := 0; i < 4; i++ {
		sum += block[i]
	}
	for i := 5; i < 16; i++ {
		sum += block[i]
	}
	block[4] = sum
}

func buildAVDPBlock(location uint32, main, reserve Extent) []byte {
	block := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(block[16:20], main.Length)
	binary.LittleEndian.PutUint32(block[20:24], main.Location)
	binary.LittleEndian.PutUint32(block[24:28], reserve.Length)
	binary.LittleEndian.PutUint32(block[28:32], reserve.Location)
	stampTag(block, tagAnchorVolDescPtr, 3, location, 16)
	return block
}

func TestParseAVDPValid(t *testing.T) {
	main := Extent{Location: 100, Length: 32768}
	reserve := Extent{Location: 200, Length: 32768}
	block := buildAVDPBlock(512, main, reserve)

	avdp, tagErr := ParseAVDP(block, 512, 3)
	require.Nil(t, tagErr)
	require.Equal(t, main, avdp.Main)
	require.Equal(t, reserve, avdp.Reserve)
}

func TestParseAVDPRejectsWrongLocation(t *testing.T) {
	block := buildAVDPBlock(512, Extent{Location: 1, Length: 2}, Extent{Location: 3, Length: 4})
	_, tagErr := ParseAVDP(block, 999, 3)
	require.NotNil(t, tagErr)
}

func TestFindAVDPAgreesAcrossCandidates(t *testing.T) {
	main := Extent{Location: 100, Length: 32768}
	reserve := Extent{Location: 200, Length: 32768}

	lastSector := uint32(10000)
	blocks := map[uint32][]byte{
		256:              buildAVDPBlock(256, main, reserve),
		lastSector - 256: buildAVDPBlock(lastSector-256, main, reserve),
	}
	read := func(loc uint32) ([]byte, error) {
		b, ok := blocks[loc]
		if !ok {
			return nil, errNotFound
		}
		return b, nil
	}

	avdp, err := FindAVDP(read, lastSector, 3)
	require.NoError(t, err)
	require.Equal(t, main, avdp.Main)
}

func TestFindAVDPNoneFoundIsFatal(t *testing.T) {
	read := func(loc uint32) ([]byte, error) { return nil, errNotFound }
	_, err := FindAVDP(read, 1000, 3)
	require.Error(t, err)
}

func TestWalkVDSStopsAtTerminatingDescriptor(t *testing.T) {
	term := make([]byte, sectorSize)
	binary.LittleEndian.PutUint16(term[0:2], tagTerminatingDesc)

	blocks := map[uint32][]byte{10: term}
	read := func(loc uint32) ([]byte, error) { return blocks[loc], nil }

	result, err := WalkVDS(read, Extent{Location: 10, Length: sectorSize}, 3)
	require.NoError(t, err)
	require.Nil(t, result.Primary)
}

func TestParsePartitionDescBitmapLocator(t *testing.T) {
	data := make([]byte, 512)
	binary.LittleEndian.PutUint16(data[20:22], 0) // partition number 0
	binary.LittleEndian.PutUint32(data[188:192], 5000)
	binary.LittleEndian.PutUint32(data[192:196], 100000)
	hdr := data[16+partitionHeaderOffset:]
	binary.LittleEndian.PutUint32(hdr[8:12], 1) // bitmap length nonzero
	binary.LittleEndian.PutUint32(hdr[12:16], 42) // bitmap block

	pd, err := parsePartitionDesc(data)
	require.NoError(t, err)
	require.True(t, pd.UnallocSpaceType)
	require.Equal(t, uint32(42), pd.UnallocSpaceLoc.Block)
	require.Equal(t, uint32(5000), pd.PartitionStart)
}

func TestIntegrityChainDirtyWhenFinalIsOpen(t *testing.T) {
	chain := &IntegrityChain{Entries: []*IntegrityDescriptor{
		{Type: IntegrityClose},
		{Type: IntegrityOpen},
	}}
	require.True(t, chain.Dirty())
}

func TestIntegrityChainCleanWhenFinalIsClose(t *testing.T) {
	chain := &IntegrityChain{Entries: []*IntegrityDescriptor{
		{Type: IntegrityOpen},
		{Type: IntegrityClose},
	}}
	require.False(t, chain.Dirty())
}

func buildFSDBlock(rootLoc, streamLoc addr.LBAddr, nextExtent Extent) []byte {
	block := make([]byte, fsdSize)
	binary.LittleEndian.PutUint16(block[0:2], tagFileSetDesc)
	putLongAD(block[400:416], rootLoc, 1)
	putLongAD(block[448:464], addr.LBAddr{Block: nextExtent.Location}, nextExtent.Length)
	putLongAD(block[464:480], streamLoc, 0)
	return block
}

func putLongAD(b []byte, loc addr.LBAddr, length uint32) {
	binary.LittleEndian.PutUint32(b[0:4], length)
	binary.LittleEndian.PutUint32(b[4:8], loc.Block)
	binary.LittleEndian.PutUint16(b[8:10], loc.PartitionRef)
}

func TestParseFSDRoundTrip(t *testing.T) {
	root := addr.LBAddr{PartitionRef: 0, Block: 200}
	stream := addr.LBAddr{PartitionRef: 0, Block: 0}
	block := buildFSDBlock(root, stream, Extent{})

	fsd, err := ParseFSD(block)
	require.NoError(t, err)
	require.Equal(t, root, fsd.RootDirICB)
}

func TestParseFSDRejectsWrongTag(t *testing.T) {
	block := make([]byte, fsdSize)
	binary.LittleEndian.PutUint16(block[0:2], 1)
	_, err := ParseFSD(block)
	require.Error(t, err)
}

func TestLocateFSDFollowsNextExtent(t *testing.T) {
	root := addr.LBAddr{Block: 300}
	second := buildFSDBlock(root, addr.LBAddr{}, Extent{})

	first := buildFSDBlock(addr.LBAddr{}, addr.LBAddr{}, Extent{Location: 500, Length: sectorSize})

	blocks := map[uint32][]byte{100: first, 500: second}
	read := func(loc uint32) ([]byte, error) { return blocks[loc], nil }

	fsd, err := LocateFSD(read, Extent{Location: 100, Length: sectorSize})
	require.NoError(t, err)
	require.Equal(t, root, fsd.RootDirICB)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errNotFound = simpleErr("not found")
