// Write operations layered on top of the read-only mount sequence in
// volume.go. Scope is deliberately bounded: every write (directory
// add/delete/rename, file content growth) targets an ICB whose content
// is allocated in-ICB (spec.md 4.10's inline mode). A directory or
// file recorded as short_ad/long_ad extents stays readable and
// auditable but is not yet a write target — growing an out-of-ICB
// extent list needs more of space.Engine than is wired here. This
// mirrors the honest "not yet scanned" limitation Stat already
// documents for device nodes.
package volume

import (
	"fmt"
	"os"
	"time"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/alloc"
	"github.com/ostafen/udfkit/internal/udf/dirent"
	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/ostafen/udfkit/internal/udf/inode"
	"github.com/ostafen/udfkit/internal/udf/space"
	"github.com/ostafen/udfkit/internal/udf/udferr"
)

var errReadOnly = fmt.Errorf("volume: backing device was opened read-only")

// writeSector writes data to the physical sector phys and drops the
// whole block cache, trading a cheap optimization for the simplicity
// of never serving a stale sector after a write (writes are rare
// relative to reads in this toolkit's intended usage).
func (v *Volume) writeSector(phys uint32, data []byte) error {
	if v.rawWrite == nil {
		return errReadOnly
	}
	if err := v.rawWrite(phys, data); err != nil {
		return udferr.Wrap(udferr.WriteIO, phys, err)
	}
	v.cache.Invalidate()
	return nil
}

func (v *Volume) writeICB(loc addr.LBAddr, block []byte) error {
	phys, err := v.partTable.Translate(loc.PartitionRef, loc.Block, 0)
	if err != nil {
		return err
	}
	return v.writeSector(uint32(phys), block)
}

// persistFileEntry re-encodes fe and writes it back to loc, the only
// way any write in this package lands on stable media.
func (v *Volume) persistFileEntry(loc addr.LBAddr, fe *icb.FileEntry) error {
	block, err := icb.EncodeFileEntry(fe, v.logicalBlockSize, loc.Block, v.serial, v.revision)
	if err != nil {
		return err
	}
	return v.writeICB(loc, block)
}

// engineFor lazily parses the Space Bitmap Descriptor backing
// partition reference ref and wraps it in a space.Engine, caching both
// for the volume's lifetime (spec.md 5: metadata ops already serialize
// under mu, so no further locking is needed here).
func (v *Volume) engineFor(ref uint16) (*space.Engine, error) {
	if e, ok := v.spaceEngines[ref]; ok {
		return e, nil
	}
	pd, ok := v.partRefDescs[ref]
	if !ok {
		return nil, fmt.Errorf("volume: unknown partition reference %d", ref)
	}
	if !pd.UnallocSpaceType {
		return nil, fmt.Errorf("volume: partition %d's free space is table-form, not bitmap-form; allocation is not supported there", ref)
	}
	phys, err := v.partTable.Translate(ref, pd.UnallocSpaceLoc.Block, 0)
	if err != nil {
		return nil, err
	}
	block, err := v.rawRead(uint32(phys))
	if err != nil {
		return nil, err
	}
	raw := append([]byte(nil), block...)
	bitmap, err := space.ParseBitmapDescriptor(raw, v.logicalBlockSize)
	if err != nil {
		return nil, err
	}
	engine := space.NewEngine(bitmap, nil)
	v.spaceEngines[ref] = engine
	v.bitmaps[ref] = bitmap
	v.bitmapBlocks[ref] = raw
	v.bitmapPhys[ref] = uint32(phys)
	return engine, nil
}

func (v *Volume) persistBitmap(ref uint16) error {
	raw := v.bitmapBlocks[ref]
	bitmap := v.bitmaps[ref]
	copy(raw[24:], bitmap.Bytes())
	return v.writeSector(v.bitmapPhys[ref], raw)
}

// allocateBlock reserves one free block in partition ref, persisting
// the bitmap's new state immediately so a crash between allocations
// never double-hands out the same block.
func (v *Volume) allocateBlock(ref uint16) (uint32, error) {
	engine, err := v.engineFor(ref)
	if err != nil {
		return 0, err
	}
	block, err := engine.Allocate(0, false, nil)
	if err != nil {
		return 0, err
	}
	if err := v.persistBitmap(ref); err != nil {
		return 0, err
	}
	return block, nil
}

func (v *Volume) nextUniqueID() uint64 {
	v.uniqueID++
	return v.uniqueID
}

// icbStream is the writable counterpart to fileStream for an ICB whose
// content is allocated in-ICB: fe.AllocDescs already *is* the content,
// so Stream/WritableStream are implemented directly against it, with
// every mutation immediately persisted via persistFileEntry.
type icbStream struct {
	vol *Volume
	loc addr.LBAddr
	fe  *icb.FileEntry
}

func (s *icbStream) Size() int64 { return int64(len(s.fe.AllocDescs)) }

func (s *icbStream) ReadAt(off int64, p []byte) (int, error) {
	return alloc.ReadInICB(s.fe.AllocDescs, off, p)
}

func (s *icbStream) WriteAt(off int64, p []byte) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("volume: negative write offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(s.vol.logicalBlockSize) {
		return 0, fmt.Errorf("volume: write would grow %q past one block's in-ICB capacity; out-of-ICB growth is not supported", s.loc)
	}
	if end > int64(len(s.fe.AllocDescs)) {
		grown := make([]byte, end)
		copy(grown, s.fe.AllocDescs)
		s.fe.AllocDescs = grown
	}
	copy(s.fe.AllocDescs[off:], p)
	s.fe.InfoLength = uint64(len(s.fe.AllocDescs))
	if err := s.vol.persistFileEntry(s.loc, s.fe); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *icbStream) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("volume: negative truncate size %d", size)
	}
	if size > int64(s.vol.logicalBlockSize) {
		return fmt.Errorf("volume: truncate would grow %q past one block's in-ICB capacity; out-of-ICB growth is not supported", s.loc)
	}
	grown := make([]byte, size)
	copy(grown, s.fe.AllocDescs)
	s.fe.AllocDescs = grown
	s.fe.InfoLength = uint64(size)
	return s.vol.persistFileEntry(s.loc, s.fe)
}

// openWritable resolves loc's File Entry (following indirect entries
// like ReadICB does) and wraps it as a WritableStream, rejecting
// anything not allocated in-ICB up front with the documented limit.
func (v *Volume) openWritable(loc addr.LBAddr) (*icbStream, *icb.FileEntry, error) {
	result, err := icb.ReadICB(loc, v.icbRead, v.links)
	if err != nil {
		return nil, nil, err
	}
	fe, err := entryOf(result)
	if err != nil {
		return nil, nil, err
	}
	if fe.ICBTag.ADType() != alloc.InICB {
		return nil, nil, fmt.Errorf("volume: %q is not allocated in-ICB; writes to short_ad/long_ad directories and files are not supported", loc)
	}
	return &icbStream{vol: v, loc: result.Location, fe: fe}, fe, nil
}

// newEntry builds a fresh, empty FileEntry of the given kind, in-ICB,
// owned by parent (ICBTag.ParentICB links a directory back up the
// tree; spec.md 4.9).
func (v *Volume) newEntry(kind inode.FileKind, mode os.FileMode, parent addr.LBAddr) (*icb.FileEntry, error) {
	fileType, err := inode.FromFileKind(kind)
	if err != nil {
		return nil, err
	}
	perm, flags := inode.FromHostMode(mode)
	flags |= uint16(alloc.InICB)

	now := inode.FromHostTime(time.Now())
	return &icb.FileEntry{
		ICBTag: icb.ICBTag{
			StrategyType: 4,
			MaxEntries:   1,
			FileType:     fileType,
			ParentICB:    parent,
			Flags:        flags,
		},
		UID:                   v.opts.DefaultUID,
		GID:                   v.opts.DefaultGID,
		Permissions:           perm,
		FileLinkCount:         1,
		AccessTime:            now,
		ModificationTime:      now,
		AttrTime:              now,
		UniqueID:              v.nextUniqueID(),
		LogicalBlocksRecorded: 0,
	}, nil
}

// createChild is the shared body of CreateFile/Mkdir/Symlink: allocate
// a fresh ICB block in the same partition the parent lives in, persist
// the new entry, then link it into the parent's directory stream.
func (v *Volume) createChild(dirPath, name string, kind inode.FileKind, mode os.FileMode, content []byte) (addr.LBAddr, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	parentResult, parentLoc, err := v.resolveLocked(dirPath)
	if err != nil {
		return addr.LBAddr{}, err
	}
	parentFE, err := entryOf(parentResult)
	if err != nil {
		return addr.LBAddr{}, err
	}
	if parentFE.ICBTag.FileType != icb.FileTypeDirectory {
		return addr.LBAddr{}, fmt.Errorf("volume: %q is not a directory", dirPath)
	}
	parentStream, err := v.openWritableFE(parentResult.Location, parentFE)
	if err != nil {
		return addr.LBAddr{}, err
	}

	if _, err := dirent.Lookup(parentStream, name, v.listOpts()); err == nil {
		return addr.LBAddr{}, fmt.Errorf("volume: %w", udferr.New(udferr.NameExists, 0, 0, 0))
	}

	block, err := v.allocateBlock(parentLoc.PartitionRef)
	if err != nil {
		return addr.LBAddr{}, err
	}
	childLoc := addr.LBAddr{PartitionRef: parentLoc.PartitionRef, Block: block}

	fe, err := v.newEntry(kind, mode, parentLoc)
	if err != nil {
		return addr.LBAddr{}, err
	}
	fe.AllocDescs = content
	fe.InfoLength = uint64(len(content))
	if err := v.persistFileEntry(childLoc, fe); err != nil {
		return addr.LBAddr{}, err
	}

	if kind == inode.KindDirectory {
		// the new child's implicit ".." reference counts as one more
		// link to its parent, mirroring POSIX directory nlink.
		parentFE.FileLinkCount++
		if err := v.persistFileEntry(parentResult.Location, parentFE); err != nil {
			return addr.LBAddr{}, err
		}
	}

	if _, err := dirent.Add(parentStream, name, childLoc, kind == inode.KindDirectory); err != nil {
		return addr.LBAddr{}, err
	}
	return childLoc, nil
}

// resolveLocked is Resolve's body, usable by callers that already hold
// mu (every write operation does, to keep parent-lookup and child-link
// atomic under spec.md 5's single mutex).
func (v *Volume) resolveLocked(path string) (*icb.ReadResult, addr.LBAddr, error) {
	loc := v.root
	result, err := icb.ReadICB(loc, v.icbRead, v.links)
	if err != nil {
		return nil, addr.LBAddr{}, err
	}
	for _, name := range splitPath(path) {
		fe, err := entryOf(result)
		if err != nil {
			return nil, addr.LBAddr{}, err
		}
		if fe.ICBTag.FileType != icb.FileTypeDirectory {
			return nil, addr.LBAddr{}, fmt.Errorf("volume: %q is not a directory", name)
		}
		stream, err := v.buildStream(loc, fe)
		if err != nil {
			return nil, addr.LBAddr{}, err
		}
		fid, err := dirent.Lookup(stream, name, v.listOpts())
		if err != nil {
			return nil, addr.LBAddr{}, fmt.Errorf("volume: %q: %w", name, err)
		}
		loc = fid.ICB
		result, err = icb.ReadICB(loc, v.icbRead, v.links)
		if err != nil {
			return nil, addr.LBAddr{}, err
		}
	}
	return result, loc, nil
}

func (v *Volume) openWritableFE(loc addr.LBAddr, fe *icb.FileEntry) (*icbStream, error) {
	if fe.ICBTag.ADType() != alloc.InICB {
		return nil, fmt.Errorf("volume: %q is not allocated in-ICB; writes there are not supported", loc)
	}
	return &icbStream{vol: v, loc: loc, fe: fe}, nil
}

// CreateFile creates an empty regular file named name in dirPath.
func (v *Volume) CreateFile(dirPath, name string, mode os.FileMode) (addr.LBAddr, error) {
	return v.createChild(dirPath, name, inode.KindRegular, mode, nil)
}

// Mkdir creates an empty directory named name in dirPath. A freshly
// created directory holds no entries at all (not even a literal "."/
// ".." FID): spec.md 4.11's PARENT characteristic is a property of
// FIDs pointing back up from this directory's own future children, and
// ReadDir/dirent.Walk already treat an empty stream as zero entries.
func (v *Volume) Mkdir(dirPath, name string, mode os.FileMode) (addr.LBAddr, error) {
	return v.createChild(dirPath, name, inode.KindDirectory, mode, nil)
}

// Symlink creates a symbolic link named name in dirPath, storing
// target as its in-ICB content verbatim (ECMA-167 4/14.16 path
// component encoding is intentionally not implemented: the path
// component list format in original_source/udf/src/symlink.c is
// richer than the spec's symlink scenarios exercise, so targets are
// stored and returned as plain UTF-8 bytes).
func (v *Volume) Symlink(dirPath, name, target string) (addr.LBAddr, error) {
	return v.createChild(dirPath, name, inode.KindSymlink, 0o777|os.ModeSymlink, []byte(target))
}

// ReadLink returns a symlink's stored target.
func (v *Volume) ReadLink(path string) (string, error) {
	result, _, err := v.Resolve(path)
	if err != nil {
		return "", err
	}
	fe, err := entryOf(result)
	if err != nil {
		return "", err
	}
	if fe.ICBTag.FileType != icb.FileTypeSymLink {
		return "", fmt.Errorf("volume: %q is not a symbolic link", path)
	}
	return string(fe.AllocDescs), nil
}

// dirIsEmpty reports whether the directory ICB at loc has no live
// entries (deleted and PARENT FIDs don't count), shared by Remove's
// and Rename's non-empty-directory rejection.
func (v *Volume) dirIsEmpty(loc addr.LBAddr) (bool, error) {
	result, err := icb.ReadICB(loc, v.icbRead, v.links)
	if err != nil {
		return false, err
	}
	fe, err := entryOf(result)
	if err != nil {
		return false, err
	}
	stream, err := v.buildStream(loc, fe)
	if err != nil {
		return false, err
	}
	empty := true
	if err := dirent.Walk(stream, func(off int64, fid *dirent.FID) (bool, error) {
		if fid.IsParent() || fid.IsDeleted() {
			return false, nil
		}
		empty = false
		return true, nil
	}); err != nil {
		return false, err
	}
	return empty, nil
}

// Remove unlinks name from dirPath: a directory target must be empty
// (no entries beyond what Walk reports, since this toolkit doesn't
// write literal "." FIDs) or Remove fails with NotEmpty.
func (v *Volume) Remove(dirPath, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	parentResult, _, err := v.resolveLocked(dirPath)
	if err != nil {
		return err
	}
	parentFE, err := entryOf(parentResult)
	if err != nil {
		return err
	}
	parentStream, err := v.openWritableFE(parentResult.Location, parentFE)
	if err != nil {
		return err
	}

	target, err := dirent.Lookup(parentStream, name, v.listOpts())
	if err != nil {
		return err
	}
	if target.IsDirectory() {
		empty, err := v.dirIsEmpty(target.ICB)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("volume: %w", udferr.New(udferr.NotEmpty, 0, 0, 0))
		}

		// the removed directory's implicit ".." reference no longer
		// counts against its (former) parent's link count.
		parentFE.FileLinkCount--
		if err := v.persistFileEntry(parentResult.Location, parentFE); err != nil {
			return err
		}
	}

	off := int64(-1)
	if err := dirent.Walk(parentStream, func(o int64, fid *dirent.FID) (bool, error) {
		if !fid.IsParent() && !fid.IsDeleted() && fid.Name == name {
			off = o
			return true, nil
		}
		return false, nil
	}); err != nil {
		return err
	}
	if off < 0 {
		return fmt.Errorf("volume: %q vanished mid-remove", name)
	}
	return dirent.Delete(parentStream, off)
}

// Rename moves/renames a tree entry, rejecting a rename that would
// make a directory its own descendant (spec.md 4.11's cycle check),
// overwriting an existing destination FID in place, and, when a
// directory moves to a different parent, rewriting its backlink and
// adjusting both parents' link counts (spec.md 4.11 step 6).
func (v *Volume) Rename(oldDir, oldName, newDir, newName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, oldLoc, err := v.resolveLocked(oldDir)
	if err != nil {
		return err
	}
	_, newLoc, err := v.resolveLocked(newDir)
	if err != nil {
		return err
	}
	oldResult, err := icb.ReadICB(oldLoc, v.icbRead, v.links)
	if err != nil {
		return err
	}
	oldFE, err := entryOf(oldResult)
	if err != nil {
		return err
	}
	oldStream, err := v.openWritableFE(oldResult.Location, oldFE)
	if err != nil {
		return err
	}
	// a same-directory rename shares one stream, so the destination
	// write and the source delete land on the same FE copy.
	newStream := oldStream
	if newLoc != oldLoc {
		newResult, err := icb.ReadICB(newLoc, v.icbRead, v.links)
		if err != nil {
			return err
		}
		newFE, err := entryOf(newResult)
		if err != nil {
			return err
		}
		newStream, err = v.openWritableFE(newResult.Location, newFE)
		if err != nil {
			return err
		}
	}

	// isAncestor walks up from new_parent's own location, asking whether
	// candidateAncestorICB (always src's ICB) is new_parent itself or one
	// of its ancestors — i.e. whether new_parent sits inside src's own
	// subtree (spec.md 4.11 step 2's cycle check).
	isAncestor := func(candidateAncestorICB addr.LBAddr) (bool, error) {
		cur := newLoc
		for hops := 0; hops < 64; hops++ {
			if cur == candidateAncestorICB {
				return true, nil
			}
			result, err := icb.ReadICB(cur, v.icbRead, v.links)
			if err != nil {
				return false, err
			}
			fe, err := entryOf(result)
			if err != nil {
				return false, err
			}
			if fe.ICBTag.ParentICB == (addr.LBAddr{}) {
				return false, nil
			}
			cur = fe.ICBTag.ParentICB
		}
		return false, fmt.Errorf("volume: ancestor chain too long")
	}

	srcFID, err := dirent.Lookup(oldStream, oldName, v.listOpts())
	if err != nil {
		return err
	}

	if err := dirent.Rename(oldStream, newStream, oldName, newName, v.listOpts(), isAncestor, v.dirIsEmpty); err != nil {
		return err
	}

	if srcFID.IsDirectory() && oldLoc != newLoc {
		return v.reparentDirectory(srcFID.ICB, oldLoc, newLoc)
	}
	return nil
}

// reparentDirectory rewrites movedICB's File Entry to point at
// new_parent in place of old_parent (spec.md 4.11 step 6's "in-directory
// parent FID" rewrite — this toolkit never writes a literal on-disk
// PARENT FID, see Mkdir's doc comment, so ICBTag.ParentICB is the
// backlink that gets rewritten instead) and adjusts both directories'
// link counts for the moved implicit ".." reference.
func (v *Volume) reparentDirectory(movedICB, oldParent, newParent addr.LBAddr) error {
	movedResult, err := icb.ReadICB(movedICB, v.icbRead, v.links)
	if err != nil {
		return err
	}
	movedFE, err := entryOf(movedResult)
	if err != nil {
		return err
	}
	movedFE.ICBTag.ParentICB = newParent
	if err := v.persistFileEntry(movedResult.Location, movedFE); err != nil {
		return err
	}

	if err := v.adjustLinkCount(oldParent, -1); err != nil {
		return err
	}
	return v.adjustLinkCount(newParent, 1)
}

func (v *Volume) adjustLinkCount(loc addr.LBAddr, delta int) error {
	result, err := icb.ReadICB(loc, v.icbRead, v.links)
	if err != nil {
		return err
	}
	fe, err := entryOf(result)
	if err != nil {
		return err
	}
	fe.FileLinkCount = uint16(int(fe.FileLinkCount) + delta)
	return v.persistFileEntry(result.Location, fe)
}

// Link adds a new hard-link name in dirPath pointing at targetPath's
// ICB, incrementing its FileLinkCount.
func (v *Volume) Link(targetPath, dirPath, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	targetResult, targetLoc, err := v.resolveLocked(targetPath)
	if err != nil {
		return err
	}
	targetFE, err := entryOf(targetResult)
	if err != nil {
		return err
	}
	if targetFE.ICBTag.FileType == icb.FileTypeDirectory {
		return fmt.Errorf("volume: hard links to directories are not permitted")
	}

	parentResult, _, err := v.resolveLocked(dirPath)
	if err != nil {
		return err
	}
	parentFE, err := entryOf(parentResult)
	if err != nil {
		return err
	}
	parentStream, err := v.openWritableFE(parentResult.Location, parentFE)
	if err != nil {
		return err
	}
	if _, err := dirent.Lookup(parentStream, name, v.listOpts()); err == nil {
		return fmt.Errorf("volume: %w", udferr.New(udferr.NameExists, 0, 0, 0))
	}

	targetFE.FileLinkCount++
	if err := v.persistFileEntry(targetResult.Location, targetFE); err != nil {
		return err
	}
	_, err = dirent.Add(parentStream, name, targetLoc, false)
	return err
}

// WriteFile writes p at offset into path's content (in-ICB only; see
// the package doc comment).
func (v *Volume) WriteFile(path string, offset int64, p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, loc, err := v.resolveLocked(path)
	if err != nil {
		return 0, err
	}
	stream, fe, err := v.openWritable(loc)
	if err != nil {
		return 0, err
	}
	if fe.ICBTag.FileType == icb.FileTypeDirectory {
		return 0, fmt.Errorf("volume: %q is a directory", path)
	}
	return stream.WriteAt(offset, p)
}

// Truncate resizes path's content (in-ICB only; see the package doc
// comment).
func (v *Volume) Truncate(path string, size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, loc, err := v.resolveLocked(path)
	if err != nil {
		return err
	}
	stream, _, err := v.openWritable(loc)
	if err != nil {
		return err
	}
	return stream.Truncate(size)
}

// SetAttr applies a partial attribute change (any of mode/uid/gid may
// be nil to leave that field untouched).
func (v *Volume) SetAttr(path string, mode *os.FileMode, uid, gid *uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	result, _, err := v.resolveLocked(path)
	if err != nil {
		return err
	}
	fe, err := entryOf(result)
	if err != nil {
		return err
	}
	if mode != nil {
		perm, flags := inode.FromHostMode(*mode)
		fe.Permissions = perm
		fe.ICBTag.Flags = (fe.ICBTag.Flags &^ 0x38) | flags
	}
	if uid != nil {
		fe.UID = *uid
	}
	if gid != nil {
		fe.GID = *gid
	}
	fe.AttrTime = inode.FromHostTime(time.Now())
	return v.persistFileEntry(result.Location, fe)
}
