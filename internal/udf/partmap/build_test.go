package partmap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildType1Entry(volSeqNum, partitionNum uint16) []byte {
	e := make([]byte, 6)
	e[0] = 1
	e[1] = 6
	binary.LittleEndian.PutUint16(e[2:4], volSeqNum)
	binary.LittleEndian.PutUint16(e[4:6], partitionNum)
	return e
}

func buildType2Entry(ident string, volSeqNum, partitionNum uint16, tail []byte) []byte {
	length := 2 + 32 + 4 + len(tail)
	e := make([]byte, length)
	e[0] = 2
	e[1] = byte(length)
	copy(e[2+1:2+1+len(ident)], ident)
	binary.LittleEndian.PutUint16(e[2+32:2+34], volSeqNum)
	binary.LittleEndian.PutUint16(e[2+34:2+36], partitionNum)
	copy(e[2+36:], tail)
	return e
}

func TestParsePartitionMapsType1(t *testing.T) {
	raw := buildType1Entry(0, 3)
	maps, err := ParsePartitionMaps(raw)
	require.NoError(t, err)
	require.Len(t, maps, 1)
	require.Equal(t, MapType1, maps[0].Kind)
	require.Equal(t, uint16(3), maps[0].PartitionNum)
}

func TestParsePartitionMapsVirtual(t *testing.T) {
	raw := buildType2Entry(idVirtual, 0, 1, nil)
	maps, err := ParsePartitionMaps(raw)
	require.NoError(t, err)
	require.Len(t, maps, 1)
	require.Equal(t, MapVirtual, maps[0].Kind)
	require.Equal(t, uint16(1), maps[0].PartitionNum)
}

func TestParsePartitionMapsSparable(t *testing.T) {
	tail := make([]byte, 8+16)
	binary.LittleEndian.PutUint16(tail[0:2], 32) // packet length
	tail[2] = 2                                  // numSparingTables
	binary.LittleEndian.PutUint32(tail[8:12], 5000)
	binary.LittleEndian.PutUint32(tail[12:16], 6000)

	raw := buildType2Entry(idSparable, 0, 2, tail)
	maps, err := ParsePartitionMaps(raw)
	require.NoError(t, err)
	require.Len(t, maps, 1)
	require.Equal(t, MapSparable, maps[0].Kind)
	require.Equal(t, uint16(32), maps[0].PacketLength)
	require.Equal(t, []uint32{5000, 6000}, maps[0].SparingReplicas)
}

func TestParsePartitionMapsMultipleEntries(t *testing.T) {
	raw := append(buildType1Entry(0, 0), buildType2Entry(idVirtual, 0, 0, nil)...)
	maps, err := ParsePartitionMaps(raw)
	require.NoError(t, err)
	require.Len(t, maps, 2)
	require.Equal(t, MapType1, maps[0].Kind)
	require.Equal(t, MapVirtual, maps[1].Kind)
}

func TestParsePartitionMapsRejectsUnknownIdentifier(t *testing.T) {
	raw := buildType2Entry("*Not A Real Partition", 0, 0, nil)
	_, err := ParsePartitionMaps(raw)
	require.Error(t, err)
}
