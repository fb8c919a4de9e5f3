package checker

import (
	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/ostafen/udfkit/internal/udf/space"
)

// Report aggregates every defect class spec.md 4.13 names, assembled
// by Audit after a full directory-tree walk. It mirrors check_filespace/
// TestLinkCount/check_uniqueid's printf summary, minus the printing.
type Report struct {
	NumDirs         int
	NumFiles        int
	NumTypeErrors   int
	VolSpaceErrors  []error
	FileSpaceErrors []error
	LinkMismatches  []LinkMismatch
	IDCollisions    []UniqueIDCollision
	BitmapMismatchedFree  map[uint16]uint32
	BitmapMismatchedInUse map[uint16]uint32
}

// Clean reports whether the walk found no type, volume-space,
// file-space, link-count or unique-ID defects; the bitmap mismatch
// counts are not consulted.
func (r *Report) Clean() bool {
	return r.NumTypeErrors == 0 &&
		len(r.VolSpaceErrors) == 0 &&
		len(r.FileSpaceErrors) == 0 &&
		len(r.LinkMismatches) == 0 &&
		len(r.IDCollisions) == 0
}

// Audit options bundle everything the walk needs from the volume layer:
// how to read a block, how to open a directory's FID stream, how to
// enumerate a file's data extents for file-space tracking, and the
// recorded per-partition block counts.
type AuditOptions struct {
	Read              icb.BlockReader
	Open              StreamOpener
	Extents           func(loc addr.LBAddr, fe *icb.FileEntry, efe *icb.ExtendedFileEntry) []space.Extent
	PartitionLengths  map[uint16]uint32
	RecordedBitmaps   map[uint16]*space.Bitmap
	BlockSize         uint32
}

// Audit walks the directory hierarchy rooted at root and produces a
// Report, combining file-space tracking, link-count verification and
// unique-ID collision detection into one pass, per spec.md 4.13.
func Audit(root addr.LBAddr, opts AuditOptions) (*Report, error) {
	report := &Report{
		BitmapMismatchedFree:  map[uint16]uint32{},
		BitmapMismatchedInUse: map[uint16]uint32{},
	}

	fileSpace := NewFileSpaceTracker(opts.PartitionLengths)
	linkCounter := LinkCounter{}
	uniqueIDs := NewUniqueIDTracker()
	recordedLinks := map[icb.LinkKey]uint16{}
	tracker := icb.LinkCountTracker{}

	err := WalkTree(root, opts.Read, opts.Open, tracker, func(entry DirEntry) error {
		key := icb.LinkKey{PartitionRef: entry.Location.PartitionRef, Block: entry.Location.Block}
		recordedLinks[key] = entry.LinkCount

		if entry.FID != nil {
			linkCounter.Observe(key)
			if entry.FileType == icb.FileTypeDirectory {
				// the child's implicit ".." reference counts as one more
				// link to its parent, mirroring POSIX directory nlink
				// (writeops.go's createChild/Remove/Rename keep the
				// recorded FileLinkCount in step with this).
				parentKey := icb.LinkKey{PartitionRef: entry.ParentLocation.PartitionRef, Block: entry.ParentLocation.Block}
				linkCounter.Observe(parentKey)
			}
		}

		if col := uniqueIDs.Observe(entry.UniqueID, key); col != nil {
			report.IDCollisions = append(report.IDCollisions, *col)
		}

		switch entry.FileType {
		case icb.FileTypeDirectory:
			report.NumDirs++
		case icb.FileTypeRegular, icb.FileTypeSymLink, icb.FileTypeBlock, icb.FileTypeChar,
			icb.FileTypeFIFO, icb.FileTypeSocket:
			report.NumFiles++
		default:
			report.NumTypeErrors++
		}

		if opts.Extents != nil {
			for _, ext := range opts.Extents(entry.Location, entry.FileEntry, entry.ExtFile) {
				blocks := (ext.Length + opts.BlockSize - 1) / opts.BlockSize
				if fsErr := fileSpace.Track(entry.Location.PartitionRef, ext.Location, blocks); fsErr != nil {
					report.FileSpaceErrors = append(report.FileSpaceErrors, fsErr)
				}
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	report.LinkMismatches = CheckLinks(recordedLinks, linkCounter)

	for ptn, recorded := range opts.RecordedBitmaps {
		mismFree, mismInUse := fileSpace.Diff(ptn, recorded)
		if mismFree > 0 {
			report.BitmapMismatchedFree[ptn] = mismFree
		}
		if mismInUse > 0 {
			report.BitmapMismatchedInUse[ptn] = mismInUse
		}
	}

	return report, nil
}
