package volume

import (
	"encoding/binary"
	"io"
	"os"
	"testing"

	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/stretchr/testify/require"
)

// memDevice is a writable backing store (bytes.Reader has no WriteAt),
// used only by the write-path tests below.
type memDevice struct {
	data []byte
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	n := copy(d.data[off:], p)
	return n, nil
}

// buildWritableVolumeImage assembles a single-partition Type-1 image
// whose root directory is allocated in-ICB and empty, plus a Space
// Bitmap Descriptor over the partition's free space, so the write path
// in writeops.go has both a write target and blocks to allocate.
func buildWritableVolumeImage(t *testing.T) *memDevice {
	const (
		avdpSector = 256
		pvdSector  = 10
		pdSector   = 11
		lvdSector  = 12
		termSector = 13

		partitionStart  = 1000
		partitionLength = 200
		fsdBlock        = 5
		rootDirBlock    = 10
		bitmapBlock     = 15
	)

	total := (partitionStart + partitionLength + 1) * testSectorSize
	img := make([]byte, total)

	place := func(sector uint32, data []byte) {
		copy(img[int(sector)*testSectorSize:], data)
	}

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
	// Partition Header Description's unallocatedSpaceBitmap short_ad,
	// at data[16+56+8 : 16+56+16] = data[80:88].
	binary.LittleEndian.PutUint32(pd[80:84], testSectorSize) // extent length
	binary.LittleEndian.PutUint32(pd[84:88], bitmapBlock)    // partition-relative block
	place(pdSector, pd)

	lvd := newSector()
	binary.LittleEndian.PutUint16(lvd[0:2], 6)
	binary.LittleEndian.PutUint32(lvd[16:20], 1)
	binary.LittleEndian.PutUint32(lvd[212:216], testSectorSize)
	binary.LittleEndian.PutUint32(lvd[248:252], testSectorSize)
	binary.LittleEndian.PutUint32(lvd[252:256], fsdBlock)
	binary.LittleEndian.PutUint32(lvd[392:396], 1)
	binary.LittleEndian.PutUint32(lvd[396:400], 6)
	lvd[440] = 1
	lvd[441] = 6
	binary.LittleEndian.PutUint16(lvd[442:444], 0)
	binary.LittleEndian.PutUint16(lvd[444:446], 0)
	place(lvdSector, lvd)

	term := newSector()
	binary.LittleEndian.PutUint16(term[0:2], 8)
	place(termSector, term)

	fsd := newSector()
	binary.LittleEndian.PutUint16(fsd[0:2], 256)
	binary.LittleEndian.PutUint32(fsd[400:404], testSectorSize)
	binary.LittleEndian.PutUint32(fsd[404:408], rootDirBlock)
	binary.LittleEndian.PutUint16(fsd[408:410], 0)
	place(partitionStart+fsdBlock, fsd)

	// Root directory File Entry: in-ICB, empty (no FIDs yet).
	rootFE := buildFileEntry(icb.FileTypeDirectory, uint16(3 /* InICB */), 1, 0, nil)
	place(partitionStart+rootDirBlock, rootFE)

	// Space Bitmap Descriptor: blocks 0-47 marked used (they host the
	// structures above), blocks 48-199 free.
	bitmap := newSector()
	binary.LittleEndian.PutUint16(bitmap[0:2], 264) // Space Bitmap Descriptor tag
	numBytes := (partitionLength + 7) / 8
	binary.LittleEndian.PutUint32(bitmap[16:20], partitionLength)
	binary.LittleEndian.PutUint32(bitmap[20:24], uint32(numBytes))
	for i := 0; i < numBytes; i++ {
		bitmap[24+i] = 0xFF
	}
	for bit := 0; bit < 48; bit++ {
		bitmap[24+bit/8] &^= 1 << (uint(bit) % 8)
	}
	place(partitionStart+bitmapBlock, bitmap)

	return &memDevice{data: img}
}

func mountWritable(t *testing.T) *Volume {
	dev := buildWritableVolumeImage(t)
	vol, err := Mount(dev, int64(len(dev.data)), testMountOptions())
	require.NoError(t, err)
	t.Cleanup(vol.Close)
	return vol
}

func TestCreateFileThenReadBack(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "new.txt", 0o644)
	require.NoError(t, err)

	entries, err := vol.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "new.txt", entries[0].Name)

	attr, err := vol.Stat("/new.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(0), attr.Size)
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "dup.txt", 0o644)
	require.NoError(t, err)
	_, err = vol.CreateFile("/", "dup.txt", 0o644)
	require.Error(t, err)
}

func TestWriteFileThenReadFile(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "data.txt", 0o644)
	require.NoError(t, err)

	payload := []byte("hello udfkit")
	n, err := vol.WriteFile("/data.txt", 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = vol.ReadFile("/data.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])

	attr, err := vol.Stat("/data.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), attr.Size)
}

func TestWriteFileRejectsOversizeWrite(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "big.txt", 0o644)
	require.NoError(t, err)

	oversize := make([]byte, testSectorSize+1)
	_, err = vol.WriteFile("/big.txt", 0, oversize)
	require.Error(t, err)
}

func TestTruncateShrinksAndGrows(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "trunc.txt", 0o644)
	require.NoError(t, err)
	_, err = vol.WriteFile("/trunc.txt", 0, []byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, vol.Truncate("/trunc.txt", 4))
	attr, err := vol.Stat("/trunc.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(4), attr.Size)

	require.NoError(t, vol.Truncate("/trunc.txt", 8))
	attr, err = vol.Stat("/trunc.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(8), attr.Size)
}

func TestMkdirThenCreateNestedFile(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.Mkdir("/", "sub", 0o755)
	require.NoError(t, err)

	entries, err := vol.ReadDir("/sub")
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = vol.CreateFile("/sub", "inner.txt", 0o644)
	require.NoError(t, err)

	entries, err = vol.ReadDir("/sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "inner.txt", entries[0].Name)
}

func TestSymlinkRoundTrips(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.Symlink("/", "link", "/some/target")
	require.NoError(t, err)

	target, err := vol.ReadLink("/link")
	require.NoError(t, err)
	require.Equal(t, "/some/target", target)
}

func TestRemoveDeletesEntry(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "gone.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, vol.Remove("/", "gone.txt"))

	entries, err := vol.ReadDir("/")
	require.NoError(t, err)
	require.Empty(t, entries)

	_, _, err = vol.Resolve("gone.txt")
	require.Error(t, err)
}

func TestRemoveRejectsNonEmptyDirectory(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.Mkdir("/", "sub", 0o755)
	require.NoError(t, err)
	_, err = vol.CreateFile("/sub", "inner.txt", 0o644)
	require.NoError(t, err)

	err = vol.Remove("/", "sub")
	require.Error(t, err)
}

func TestLinkIncrementsLinkCount(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "orig.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, vol.Link("/orig.txt", "/", "alias.txt"))

	attr, err := vol.Stat("/orig.txt")
	require.NoError(t, err)
	require.Equal(t, uint32(2), attr.Links)

	entries, err := vol.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRenameMovesEntry(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "old.txt", 0o644)
	require.NoError(t, err)
	_, err = vol.Mkdir("/", "sub", 0o755)
	require.NoError(t, err)

	require.NoError(t, vol.Rename("/", "old.txt", "/sub", "new.txt"))

	_, _, err = vol.Resolve("old.txt")
	require.Error(t, err)

	attr, err := vol.Stat("/sub/new.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(0), attr.Size)
}

func TestRenameDirectoryToNewParentReparentsAndAdjustsLinkCount(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.Mkdir("/", "a", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/", "x", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/a", "b", 0o755)
	require.NoError(t, err)

	aAttr, err := vol.Stat("/a")
	require.NoError(t, err)
	require.Equal(t, uint32(2), aAttr.Links) // self + "b"'s implicit ".."

	xAttr, err := vol.Stat("/x")
	require.NoError(t, err)
	require.Equal(t, uint32(1), xAttr.Links)

	require.NoError(t, vol.Rename("/a", "b", "/x", "b"))

	aAttr, err = vol.Stat("/a")
	require.NoError(t, err)
	require.Equal(t, uint32(1), aAttr.Links, "moving b out of a drops a's link count")

	xAttr, err = vol.Stat("/x")
	require.NoError(t, err)
	require.Equal(t, uint32(2), xAttr.Links, "moving b into x raises x's link count")

	_, _, err = vol.Resolve("a/b")
	require.Error(t, err)
	_, _, err = vol.Resolve("x/b")
	require.NoError(t, err)
}

func TestRenameRejectsMovingDirectoryIntoOwnSubtree(t *testing.T) {
	vol := mountWritable(t)

	// root -> a -> b -> sub
	_, err := vol.Mkdir("/", "a", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/a", "b", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/a/b", "sub", 0o755)
	require.NoError(t, err)

	// mv /a/b /a/b/sub/c2 would make b its own descendant.
	err = vol.Rename("/a", "b", "/a/b/sub", "c2")
	require.Error(t, err)
}

func TestRenameAllowsMovingDirectoryToNonDescendant(t *testing.T) {
	vol := mountWritable(t)

	// root -> a -> b -> c, root -> x
	_, err := vol.Mkdir("/", "a", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/", "x", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/a", "b", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/a/b", "c", 0o755)
	require.NoError(t, err)

	// mv /a/b/c /x2 is not a cycle: c is not an ancestor of /.
	err = vol.Rename("/a/b", "c", "/", "x2")
	require.NoError(t, err)

	_, _, err = vol.Resolve("a/b/c")
	require.Error(t, err)
	_, _, err = vol.Resolve("x2")
	require.NoError(t, err)
}

func TestRenameOntoExistingFileOverwritesDestinationInPlace(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "src.txt", 0o644)
	require.NoError(t, err)
	_, err = vol.WriteFile("/src.txt", 0, []byte("new"))
	require.NoError(t, err)
	_, err = vol.CreateFile("/", "dst.txt", 0o644)
	require.NoError(t, err)

	require.NoError(t, vol.Rename("/", "src.txt", "/", "dst.txt"))

	entries, err := vol.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1, "overwrite must not leave a duplicate live FID")
	require.Equal(t, "dst.txt", entries[0].Name)

	buf := make([]byte, 3)
	n, err := vol.ReadFile("/dst.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "new", string(buf[:n]))
}

func TestRenameDirectoryOntoEmptyDirectoryReplacesIt(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.Mkdir("/", "src", 0o755)
	require.NoError(t, err)
	_, err = vol.CreateFile("/src", "marker.txt", 0o644)
	require.NoError(t, err)
	_, err = vol.Mkdir("/", "dst", 0o755)
	require.NoError(t, err)

	require.NoError(t, vol.Rename("/", "src", "/", "dst"))

	entries, err := vol.ReadDir("/dst")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "marker.txt", entries[0].Name)
}

func TestRenameDirectoryOntoNonEmptyDirectoryFails(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.Mkdir("/", "src", 0o755)
	require.NoError(t, err)
	_, err = vol.Mkdir("/", "dst", 0o755)
	require.NoError(t, err)
	_, err = vol.CreateFile("/dst", "occupied.txt", 0o644)
	require.NoError(t, err)

	err = vol.Rename("/", "src", "/", "dst")
	require.Error(t, err)
}

func TestSetAttrChangesModeAndOwner(t *testing.T) {
	vol := mountWritable(t)

	_, err := vol.CreateFile("/", "owned.txt", 0o644)
	require.NoError(t, err)

	newMode := os.FileMode(0o644) | 0o111
	uid := uint32(42)
	gid := uint32(7)
	require.NoError(t, vol.SetAttr("/owned.txt", &newMode, &uid, &gid))

	attr, err := vol.Stat("/owned.txt")
	require.NoError(t, err)
	require.Equal(t, uint32(42), attr.UID)
	require.Equal(t, uint32(7), attr.GID)
}

func TestMountReadOnlyDeviceRejectsWrites(t *testing.T) {
	img := buildWritableVolumeImage(t)
	ro := &readOnlyDevice{data: img.data}
	vol, err := Mount(ro, int64(len(ro.data)), testMountOptions())
	require.NoError(t, err)
	defer vol.Close()

	_, err = vol.CreateFile("/", "x.txt", 0o644)
	require.Error(t, err)
}

// readOnlyDevice implements only io.ReaderAt, so Mount must not detect
// a rawWrite path for it.
type readOnlyDevice struct {
	data []byte
}

func (d *readOnlyDevice) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
