package checker

import (
	"fmt"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/dirent"
	"github.com/ostafen/udfkit/internal/udf/icb"
)

// DirEntry is one node visited while walking a directory hierarchy: its
// FID (nil for the root), the ICB location it resolves to, and the
// metadata read from that ICB.
type DirEntry struct {
	FID            *dirent.FID
	Location       addr.LBAddr
	ParentLocation addr.LBAddr
	FileType       icb.FileType
	LinkCount      uint16
	UniqueID       uint64
	InfoLength     uint64
	Depth          int
	FileEntry      *icb.FileEntry
	ExtFile        *icb.ExtendedFileEntry
}

// StreamOpener opens a directory's ICB as a readable byte stream; how
// the allocation descriptors in fe/efe turn into a flat stream is the
// caller's allocation layer's concern, not the checker's.
type StreamOpener func(loc addr.LBAddr, fe *icb.FileEntry, efe *icb.ExtendedFileEntry) (dirent.Stream, error)

// Visitor is called once per directory entry encountered; returning an
// error aborts the walk.
type Visitor func(entry DirEntry) error

// WalkTree walks a directory hierarchy starting at root, reading each
// ICB via read and each directory's FID stream via open, tracking the
// ancestor chain explicitly so a FID pointing back at one of its own
// ancestors is reported as a cycle instead of recursing forever
// (display_dirs.c's bCycle check, generalized from "points at itself"
// to "points at any ancestor currently on the path").
func WalkTree(root addr.LBAddr, read icb.BlockReader, open StreamOpener, tracker icb.LinkCountTracker, visit Visitor) error {
	ancestors := map[addr.LBAddr]bool{}
	return walkDir(root, nil, addr.LBAddr{}, 0, ancestors, read, open, tracker, visit)
}

func walkDir(loc addr.LBAddr, fid *dirent.FID, parentLoc addr.LBAddr, depth int, ancestors map[addr.LBAddr]bool,
	read icb.BlockReader, open StreamOpener, tracker icb.LinkCountTracker, visit Visitor) error {

	if ancestors[loc] {
		return fmt.Errorf("checker: directory cycle detected at %s", loc)
	}

	result, err := icb.ReadICB(loc, read, tracker)
	if err != nil {
		return fmt.Errorf("checker: reading ICB %s: %w", loc, err)
	}

	entry := DirEntry{FID: fid, Location: loc, ParentLocation: parentLoc, Depth: depth}
	var fe *icb.FileEntry
	switch {
	case result.ExtFile != nil:
		fe = &result.ExtFile.FileEntry
	case result.FileEntry != nil:
		fe = result.FileEntry
	default:
		return fmt.Errorf("checker: ICB %s resolved to neither a File Entry nor Extended File Entry", loc)
	}
	entry.FileType = fe.ICBTag.FileType
	entry.LinkCount = fe.FileLinkCount
	entry.UniqueID = fe.UniqueID
	entry.InfoLength = fe.InfoLength
	entry.FileEntry = result.FileEntry
	entry.ExtFile = result.ExtFile

	if err := visit(entry); err != nil {
		return err
	}

	if entry.FileType != icb.FileTypeDirectory {
		return nil
	}

	stream, err := open(loc, fe, result.ExtFile)
	if err != nil {
		return fmt.Errorf("checker: opening directory stream at %s: %w", loc, err)
	}

	ancestors[loc] = true
	defer delete(ancestors, loc)

	return dirent.Walk(stream, func(off int64, childFID *dirent.FID) (bool, error) {
		if childFID.IsDeleted() || childFID.IsParent() {
			return false, nil
		}
		if err := walkDir(childFID.ICB, childFID, loc, depth+1, ancestors, read, open, tracker, visit); err != nil {
			return true, err
		}
		return false, nil
	})
}
