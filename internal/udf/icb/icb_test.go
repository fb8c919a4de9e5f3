package icb

import (
	"encoding/binary"
	"testing"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/stretchr/testify/require"
)

const blockSize = 512

func newBlock() []byte {
	return make([]byte, blockSize)
}

func putTag(block []byte, tagID uint16) {
	binary.LittleEndian.PutUint16(block[0:2], tagID)
}

func putICBTag(block []byte, strategyType uint16, fileType FileType, adType byte) {
	base := 16
	binary.LittleEndian.PutUint16(block[base+4:base+6], strategyType)
	block[base+11] = byte(fileType)
	block[base+18] = adType
}

func TestParseFileEntryRoundTrip(t *testing.T) {
	block := newBlock()
	putTag(block, tagFileEntry)
	putICBTag(block, 4, FileTypeRegular, 0)
	binary.LittleEndian.PutUint32(block[16+feOffUID:], 1000)
	binary.LittleEndian.PutUint32(block[16+feOffGID:], 1000)
	binary.LittleEndian.PutUint16(block[16+feOffFileLinkCnt:], 1)
	binary.LittleEndian.PutUint64(block[16+feOffInfoLength:], 4096)

	fe, err := ParseFileEntry(block)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), fe.UID)
	require.Equal(t, uint16(1), fe.FileLinkCount)
	require.Equal(t, uint64(4096), fe.InfoLength)
	require.Equal(t, FileTypeRegular, fe.ICBTag.FileType)
}

func TestReadICBFollowsIndirectEntry(t *testing.T) {
	indirect := newBlock()
	putTag(indirect, tagIndirectEntry)
	putICBTag(indirect, 4096, FileTypeIndirectEntry, 0)
	// Indirect ICB long_ad at offset 16+icbTagSize: length(4), block(4), partRef(2)
	base := 16 + icbTagSize
	binary.LittleEndian.PutUint32(indirect[base+4:base+8], 77)
	binary.LittleEndian.PutUint16(indirect[base+8:base+10], 0)

	real := newBlock()
	putTag(real, tagFileEntry)
	putICBTag(real, 4096, FileTypeRegular, 0)

	blocks := map[uint32][]byte{10: indirect, 77: real}
	read := func(loc addr.LBAddr) ([]byte, error) { return blocks[loc.Block], nil }

	tracker := LinkCountTracker{}
	result, err := ReadICB(addr.LBAddr{Block: 10}, read, tracker)
	require.NoError(t, err)
	require.NotNil(t, result.FileEntry)
	require.Equal(t, uint32(77), result.Location.Block)
	require.Equal(t, uint32(1), tracker[LinkKey{Block: 77}])
}

func TestReadICBStopsAtTerminalEntry(t *testing.T) {
	term := newBlock()
	putTag(term, tagTerminalEntry)

	blocks := map[uint32][]byte{5: term}
	read := func(loc addr.LBAddr) ([]byte, error) { return blocks[loc.Block], nil }

	result, err := ReadICB(addr.LBAddr{Block: 5}, read, LinkCountTracker{})
	require.NoError(t, err)
	require.Nil(t, result.FileEntry)
	require.Nil(t, result.ExtFile)
}

func TestReadICBRejectsUnsupportedStrategy(t *testing.T) {
	block := newBlock()
	putTag(block, tagFileEntry)
	putICBTag(block, 999, FileTypeRegular, 0)

	blocks := map[uint32][]byte{1: block}
	read := func(loc addr.LBAddr) ([]byte, error) { return blocks[loc.Block], nil }

	_, err := ReadICB(addr.LBAddr{Block: 1}, read, LinkCountTracker{})
	require.Error(t, err)
}
