package volume

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/dirent"
	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/ostafen/udfkit/internal/udf/tag"
	"github.com/stretchr/testify/require"
)

func TestParseMountOptionsAppliesEveryKey(t *testing.T) {
	opts, err := ParseMountOptions([]string{
		"bs=2048", "session=32768", "lastblock=700000", "anchor=256",
		"volume=0", "partition=1", "fileset=5", "rootdir=10",
		"uid=1000", "gid=1000", "umask=022",
		"unhide", "undelete", "strict", "utf8", "iocharset=utf8", "novrs",
	})
	require.NoError(t, err)
	require.Equal(t, 2048, opts.SectorSize)
	require.Equal(t, int64(32768), opts.SessionStart)
	require.Equal(t, uint64(700000), opts.LastSector)
	require.Equal(t, uint32(256), opts.AnchorLocation)
	require.Equal(t, int16(1), opts.PartitionRef)
	require.Equal(t, uint32(5), opts.FileSetLocation)
	require.Equal(t, uint32(10), opts.RootDirBlock)
	require.Equal(t, uint32(1000), opts.DefaultUID)
	require.Equal(t, uint32(1000), opts.DefaultGID)
	require.True(t, opts.Unhide)
	require.True(t, opts.Undelete)
	require.True(t, opts.Strict)
	require.True(t, opts.UTF8)
	require.Equal(t, "utf8", opts.IOCharset)
	require.True(t, opts.NoVRS)
}

func TestParseMountOptionsRejectsUnknownKey(t *testing.T) {
	_, err := ParseMountOptions([]string{"bogus=1"})
	require.Error(t, err)
}

func TestDefaultMountOptionsPartitionRefUnset(t *testing.T) {
	require.Equal(t, int16(-1), DefaultMountOptions().PartitionRef)
}

func TestSplitPath(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitPath("/a/b"))
	require.Equal(t, []string{"a", "b"}, splitPath("a/b/"))
	require.Empty(t, splitPath("/"))
	require.Empty(t, splitPath(""))
}

func TestParseSparingTable(t *testing.T) {
	data := make([]byte, sparingTableHeaderSize+2*sparingEntrySize)
	binary.LittleEndian.PutUint16(data[48:50], 2)
	binary.LittleEndian.PutUint32(data[sparingTableHeaderSize:sparingTableHeaderSize+4], 100)
	binary.LittleEndian.PutUint32(data[sparingTableHeaderSize+4:sparingTableHeaderSize+8], 9000)
	binary.LittleEndian.PutUint32(data[sparingTableHeaderSize+8:sparingTableHeaderSize+12], 0xFFFFFFFF)

	table, err := parseSparingTable(data, []uint64{500})
	require.NoError(t, err)
	mapped, ok := table.Lookup(100)
	require.True(t, ok)
	require.Equal(t, uint64(9000), mapped)
}

func TestParseSparingTableRejectsTruncatedHeader(t *testing.T) {
	_, err := parseSparingTable(make([]byte, 10), nil)
	require.Error(t, err)
}

// --- synthetic single-partition Type-1 volume, used to exercise Mount
// end to end without a real UDF image ---

const testSectorSize = 2048

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

func newSector() []byte { return make([]byte, testSectorSize) }

func putExtent(b []byte, location, length uint32) {
	binary.LittleEndian.PutUint32(b[0:4], length)
	binary.LittleEndian.PutUint32(b[4:8], location)
}

func buildFileEntry(fileType icb.FileType, flags uint16, linkCount uint16, infoLength uint64, allocDescs []byte) []byte {
	block := newSector()
	binary.LittleEndian.PutUint16(block[0:2], 261) // File Entry tag
	binary.LittleEndian.PutUint16(block[20:22], 4)  // strategy type 4
	block[27] = byte(fileType)
	binary.LittleEndian.PutUint16(block[34:36], flags)
	binary.LittleEndian.PutUint16(block[48:50], linkCount)
	binary.LittleEndian.PutUint64(block[56:64], infoLength)
	binary.LittleEndian.PutUint32(block[172:176], uint32(len(allocDescs)))
	copy(block[176:], allocDescs)
	return block
}

// buildVolumeImage assembles a minimal single-partition, Type-1-mapped
// UDF image: one directory ("/") holding one regular file
// ("hello.txt") whose content lives entirely in-ICB.
func buildVolumeImage(t *testing.T) ([]byte, []byte) {
	const (
		avdpSector = 256
		pvdSector  = 10
		pdSector   = 11
		lvdSector  = 12
		termSector = 13

		partitionStart  = 1000
		partitionLength = 2000
		fsdBlock        = 5
		rootDirBlock    = 10
		dirDataBlock    = 20
		fileICBBlock    = 30
	)

	fileContent := []byte("hello world\n")

	total := (partitionStart + fileICBBlock + 1) * testSectorSize
	img := make([]byte, total)

	place := func(sector uint32, data []byte) {
		copy(img[int(sector)*testSectorSize:], data)
	}

	// AVDP: main extent covers pvd/pd/lvd/terminating.
	avdp := newSector()
	putExtent(avdp[16:24], pvdSector, 4*testSectorSize)
	stampTag(avdp, 2, 3, avdpSector, 16)
	place(avdpSector, avdp)

	pvd := newSector()
	binary.LittleEndian.PutUint16(pvd[0:2], 1)
	binary.LittleEndian.PutUint32(pvd[16:20], 1)
	place(pvdSector, pvd)

	pd := newSector()
	binary.LittleEndian.PutUint16(pd[0:2], 5)
	binary.LittleEndian.PutUint32(pd[16:20], 1)
	binary.LittleEndian.PutUint16(pd[20:22], 0) // partition number 0
	binary.LittleEndian.PutUint32(pd[188:192], partitionStart)
	binary.LittleEndian.PutUint32(pd[192:196], partitionLength)
	place(pdSector, pd)

	lvd := newSector()
	binary.LittleEndian.PutUint16(lvd[0:2], 6)
	binary.LittleEndian.PutUint32(lvd[16:20], 1)
	binary.LittleEndian.PutUint32(lvd[212:216], testSectorSize) // logical block size
	binary.LittleEndian.PutUint32(lvd[248:252], testSectorSize) // FSD extent length
	binary.LittleEndian.PutUint32(lvd[252:256], fsdBlock)       // FSD extent location (partition-relative)
	binary.LittleEndian.PutUint32(lvd[392:396], 1)              // num partition maps
	binary.LittleEndian.PutUint32(lvd[396:400], 6)              // partition map table length
	lvd[440] = 1                                                // Type-1 map
	lvd[441] = 6                                                // map length
	binary.LittleEndian.PutUint16(lvd[442:444], 0)              // VolSeqNum
	binary.LittleEndian.PutUint16(lvd[444:446], 0)              // PartitionNum
	place(lvdSector, lvd)

	term := newSector()
	binary.LittleEndian.PutUint16(term[0:2], 8)
	place(termSector, term)

	// FSD, at partition-relative block 5.
	fsd := newSector()
	binary.LittleEndian.PutUint16(fsd[0:2], 256)
	binary.LittleEndian.PutUint32(fsd[400:404], testSectorSize)
	binary.LittleEndian.PutUint32(fsd[404:408], rootDirBlock)
	binary.LittleEndian.PutUint16(fsd[408:410], 0)
	// NextExtent (448:464) left zero length: no further FSD extent.
	place(partitionStart+fsdBlock, fsd)

	// Directory content: one FID for hello.txt -> fileICBBlock.
	fid := &dirent.FID{
		FileVersionNumber: 1,
		Name:              "hello.txt",
		ICB:               addr.LBAddr{PartitionRef: 0, Block: fileICBBlock},
	}
	fidBytes, err := dirent.EncodeFID(fid)
	require.NoError(t, err)
	dirBlock := newSector()
	copy(dirBlock, fidBytes)
	place(partitionStart+dirDataBlock, dirBlock)

	// Root directory File Entry: short_ad pointing at dirDataBlock.
	rootAD := make([]byte, 8)
	binary.LittleEndian.PutUint32(rootAD[0:4], addr.PackExtent(uint32(len(fidBytes)), addr.Recorded))
	binary.LittleEndian.PutUint32(rootAD[4:8], dirDataBlock)
	rootFE := buildFileEntry(icb.FileTypeDirectory, uint16(0 /* ShortAD */), 1, uint64(len(fidBytes)), rootAD)
	place(partitionStart+rootDirBlock, rootFE)

	// hello.txt File Entry: inline content (ADType InICB = 3).
	fileFE := buildFileEntry(icb.FileTypeRegular, 3, 1, uint64(len(fileContent)), fileContent)
	place(partitionStart+fileICBBlock, fileFE)

	return img, fileContent
}

func testMountOptions() MountOptions {
	opts := DefaultMountOptions()
	opts.SectorSize = testSectorSize
	opts.LastSector = 1 << 20
	opts.AnchorLocation = 256
	opts.NoVRS = true
	return opts
}

func TestMountResolvesRootAndFile(t *testing.T) {
	img, fileContent := buildVolumeImage(t)
	r := bytes.NewReader(img)

	vol, err := Mount(r, int64(len(img)), testMountOptions())
	require.NoError(t, err)
	defer vol.Close()

	require.Equal(t, uint32(testSectorSize), vol.BlockSize())
	require.Equal(t, uint32(10), vol.Root().Block)

	entries, err := vol.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)

	buf := make([]byte, len(fileContent))
	n, err := vol.ReadFile("/hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, fileContent, buf[:n])

	attr, err := vol.Stat("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(len(fileContent)), attr.Size)
}

func TestMountUnknownPathFails(t *testing.T) {
	img, _ := buildVolumeImage(t)
	vol, err := Mount(bytes.NewReader(img), int64(len(img)), testMountOptions())
	require.NoError(t, err)
	defer vol.Close()

	_, _, err = vol.Resolve("nope.txt")
	require.Error(t, err)
}

func TestMountAuditCountsEntries(t *testing.T) {
	img, _ := buildVolumeImage(t)
	vol, err := Mount(bytes.NewReader(img), int64(len(img)), testMountOptions())
	require.NoError(t, err)
	defer vol.Close()

	report, err := vol.Audit()
	require.NoError(t, err)
	require.Equal(t, 1, report.NumDirs)
	require.Equal(t, 1, report.NumFiles)
}
