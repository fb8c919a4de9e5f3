package dirent

import (
	"fmt"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/udferr"
)

// Stream is a directory's data as a flat virtual byte range: the
// allocation-descriptor engine already stitches short/long/extended AD
// extents (and in-ICB inline data) into one contiguous addressable
// space, so straddling across physical blocks is resolved once there;
// the directory engine walks that stream rather than re-deriving block
// pairs itself. ReadFID/EncodeFID in fid.go remain the primitive for
// callers working directly off raw block buffers (e.g. the checker).
type Stream interface {
	ReadAt(off int64, p []byte) (int, error)
	Size() int64
}

// ListOptions gates which FIDs Lookup/Walk surface, mirroring the
// unhide/undelete mount options (spec.md 6).
type ListOptions struct {
	UnhideDeleted bool
	ShowHidden    bool
}

// Walk streams every FID in dir, calling fn with its byte offset.
// A malformed FID ends the walk with an error; Walk does not skip it,
// and Lookup, Add and Rename return that error as is, so one malformed
// FID makes the whole directory unreadable through them.
func Walk(dir Stream, fn func(off int64, fid *FID) (stop bool, err error)) error {
	var off int64
	buf := make([]byte, 512)
	for off < dir.Size() {
		n, err := dir.ReadAt(off, buf)
		if err != nil && n == 0 {
			return fmt.Errorf("dirent: reading directory stream at %d: %w", off, err)
		}
		fid, err := parseFIDStream(buf[:n])
		if err != nil {
			// grow the window and retry once for a FID near the buffer edge
			big := make([]byte, len(buf)*2)
			n2, rerr := dir.ReadAt(off, big)
			if rerr != nil && n2 == 0 {
				return fmt.Errorf("dirent: reassembling FID at %d: %w", off, err)
			}
			fid, err = parseFIDStream(big[:n2])
			if err != nil {
				return fmt.Errorf("dirent: malformed FID at offset %d: %w", off, err)
			}
		}
		stop, err := fn(off, fid)
		if err != nil || stop {
			return err
		}
		off += int64(fid.TotalLength)
	}
	return nil
}

// Lookup streams FIDs from offset 0, skipping DELETED and PARENT
// entries per the policy, and returns the first whose decoded name
// matches (spec.md 4.11).
func Lookup(dir Stream, name string, opts ListOptions) (*FID, error) {
	var found *FID
	err := Walk(dir, func(off int64, fid *FID) (bool, error) {
		if fid.IsParent() {
			return false, nil
		}
		if fid.IsDeleted() && !opts.UnhideDeleted {
			return false, nil
		}
		if fid.IsHidden() && !opts.ShowHidden {
			return false, nil
		}
		if fid.Name == name {
			found = fid
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("dirent: %w", udferr.New(udferr.BadLBN, 0, 0, 0))
	}
	return found, nil
}

// WritableStream additionally accepts writes and can grow, needed by
// Add/Delete/Rename.
type WritableStream interface {
	Stream
	WriteAt(off int64, p []byte) (int, error)
	Truncate(size int64) error
}

// findReusableDeletedSlot scans for a DELETED FID whose TotalLength
// equals the required size, per spec.md 4.11's add() reuse rule.
func findReusableDeletedSlot(dir Stream, requiredLen int) (int64, bool, error) {
	var slot int64 = -1
	err := Walk(dir, func(off int64, fid *FID) (bool, error) {
		if fid.IsDeleted() && fid.TotalLength == requiredLen {
			slot = off
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, false, err
	}
	return slot, slot >= 0, nil
}

// Add inserts a new FID for name -> icb, reusing a same-sized DELETED
// slot if one exists, otherwise appending at the end (spec.md 4.11).
// Returns the byte offset the FID was written at.
func Add(dir WritableStream, name string, icb addr.LBAddr, directory bool) (int64, error) {
	fid := &FID{FileVersionNumber: 1, ICB: icb, Name: name}
	if directory {
		fid.Characteristics |= CharDirectory
	}
	encoded, err := EncodeFID(fid)
	if err != nil {
		return 0, err
	}

	if slot, ok, err := findReusableDeletedSlot(dir, len(encoded)); err != nil {
		return 0, err
	} else if ok {
		if _, err := dir.WriteAt(slot, encoded); err != nil {
			return 0, err
		}
		return slot, nil
	}

	end := dir.Size()
	if err := dir.Truncate(end + int64(len(encoded))); err != nil {
		return 0, err
	}
	if _, err := dir.WriteAt(end, encoded); err != nil {
		return 0, err
	}
	return end, nil
}

// Delete sets the DELETED characteristic bit on the FID at off,
// leaving its ICB and name bytes intact so a future Add of the same
// size can reuse the slot (spec.md 4.11).
func Delete(dir WritableStream, off int64) error {
	header := make([]byte, fidFixedHeaderSize)
	if _, err := dir.ReadAt(off, header); err != nil {
		return fmt.Errorf("dirent: reading FID to delete at %d: %w", off, err)
	}
	header[18] |= CharDeleted
	_, err := dir.WriteAt(off+18, header[18:19])
	return err
}

// Rename moves a FID from (oldParent, oldName) to (newParent,
// newName), per spec.md 4.11's ordered steps: lookup both ends, reject
// illegal cases, write the destination before deleting the source so
// the target ICB stays reachable across a crash (spec.md 5).
//
// isAncestor(candidateAncestorICB) answers whether candidateAncestorICB
// is new_parent itself or one of new_parent's ancestors — i.e. whether
// src would become its own descendant — by walking new_parent's
// ParentICB chain upward; it is only ever asked about src's own ICB.
// isEmptyDir reports whether a directory ICB has no live entries,
// needed to decide whether renaming onto an existing directory may
// replace it (spec.md 4.11 step 2).
func Rename(oldParent, newParent WritableStream, oldName, newName string, opts ListOptions,
	isAncestor func(candidateAncestorICB addr.LBAddr) (bool, error),
	isEmptyDir func(dirICB addr.LBAddr) (bool, error),
) error {
	srcOff, src, err := lookupWithOffset(oldParent, oldName, opts)
	if err != nil {
		return err
	}

	if src.IsDirectory() && isAncestor != nil {
		cyclic, err := isAncestor(src.ICB)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("dirent: rename would create a cycle")
		}
	}

	dstOff, dst, dstErr := lookupWithOffset(newParent, newName, opts)
	dstExists := dstErr == nil

	if dstExists && src.IsDirectory() {
		if !dst.IsDirectory() {
			return fmt.Errorf("dirent: %w", udferr.New(udferr.NotEmpty, 0, 0, 0))
		}
		if isEmptyDir != nil {
			empty, err := isEmptyDir(dst.ICB)
			if err != nil {
				return err
			}
			if !empty {
				return fmt.Errorf("dirent: %w", udferr.New(udferr.NotEmpty, 0, 0, 0))
			}
		}
	}

	if dstExists {
		// spec.md 4.11 steps 3-4: target already exists, so overwrite its
		// FID in place with the source's version/characteristics/icb
		// instead of allocating a new one.
		replacement := &FID{FileVersionNumber: src.FileVersionNumber, Characteristics: src.Characteristics, ICB: src.ICB, Name: newName}
		encoded, err := EncodeFID(replacement)
		if err != nil {
			return err
		}
		if len(encoded) == dst.TotalLength {
			if _, err := newParent.WriteAt(dstOff, encoded); err != nil {
				return err
			}
		} else {
			// destination FID's on-disk size doesn't match (e.g. it
			// carries implementation-use bytes this writer never
			// produces): fall back to delete-then-append.
			if err := Delete(newParent, dstOff); err != nil {
				return err
			}
			if _, err := Add(newParent, newName, src.ICB, src.IsDirectory()); err != nil {
				return err
			}
		}
	} else if _, err := Add(newParent, newName, src.ICB, src.IsDirectory()); err != nil {
		return err
	}

	return Delete(oldParent, srcOff)
}

func lookupWithOffset(dir Stream, name string, opts ListOptions) (int64, *FID, error) {
	var off int64 = -1
	var found *FID
	err := Walk(dir, func(o int64, fid *FID) (bool, error) {
		if fid.IsParent() || (fid.IsDeleted() && !opts.UnhideDeleted) {
			return false, nil
		}
		if fid.Name == name {
			off, found = o, fid
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, nil, err
	}
	if found == nil {
		return 0, nil, fmt.Errorf("dirent: %w", udferr.New(udferr.BadLBN, 0, 0, 0))
	}
	return off, found, nil
}
