// Package volume wires the thirteen UDF component packages together at
// mount time, the way spec.md 2's control-flow paragraph describes:
// geometry probe -> volume recognition -> VDS resolve -> partition map
// construction -> FSD/root lookup. Grounded on
// original_source/udf/src/super.c's udf_fill_super, which performs the
// same sequence as one function.
package volume

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ostafen/udfkit/internal/udf/addr"
	"github.com/ostafen/udfkit/internal/udf/alloc"
	"github.com/ostafen/udfkit/internal/udf/blockcache"
	"github.com/ostafen/udfkit/internal/udf/checker"
	"github.com/ostafen/udfkit/internal/udf/dirent"
	"github.com/ostafen/udfkit/internal/udf/geometry"
	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/ostafen/udfkit/internal/udf/inode"
	"github.com/ostafen/udfkit/internal/udf/partmap"
	"github.com/ostafen/udfkit/internal/udf/space"
	"github.com/ostafen/udfkit/internal/udf/vds"
	"github.com/ostafen/udfkit/internal/udf/vrs"
)

// Volume is one mounted logical volume: every lower package's state,
// bundled together rather than threaded through globals (spec.md 9).
type Volume struct {
	// mu serializes metadata operations (spec.md 5): directory lookup,
	// add/delete/rename, link-count bookkeeping. Bulk data reads go
	// through the cache's own locking instead of mu.
	mu sync.Mutex

	cache            *blockcache.Cache
	sectorSize       uint32
	logicalBlockSize uint32
	partTable        *partmap.Table
	// partRefDescs maps a partition REFERENCE (an index into the
	// logical volume's partition-map table, the numbering every
	// lb_addr.PartitionRef in the tree actually uses) to the
	// PartitionDescriptor it resolved to, for Audit's per-partition
	// bitmap/length bookkeeping.
	partRefDescs map[uint16]vds.PartitionDescriptor
	fsd              *vds.FileSetDescriptor
	root             addr.LBAddr
	facade           *inode.Facade
	links            icb.LinkCountTracker
	opts             MountOptions
	vdsResult        *vds.Result

	rawRead   vds.BlockReader
	icbRead   icb.BlockReader
	allocRead alloc.BlockReader

	// rawWrite is nil when r does not also implement io.WriterAt: every
	// write operation below fails cleanly against a read-only backing
	// store instead of silently no-opping.
	rawWrite func(sector uint32, data []byte) error
	revision uint16
	serial   uint16
	uniqueID uint64

	spaceEngines map[uint16]*space.Engine
	bitmaps      map[uint16]*space.Bitmap
	bitmapBlocks map[uint16][]byte
	bitmapPhys   map[uint16]uint32
}

// Mount runs spec.md 2's mount sequence against r (knownSize is the
// backing device/image size in bytes, 0 if unknown) and returns a
// ready-to-use Volume.
func Mount(r io.ReaderAt, knownSize int64, opts MountOptions) (*Volume, error) {
	probe := newAVDPProbe(r)

	geoInfo, err := geometry.Probe(r, knownSize, opts.SectorSize, opts.LastSector, probe)
	if err != nil {
		return nil, fmt.Errorf("volume: geometry probe: %w", err)
	}
	if err := geometry.ValidateSectorSize(geoInfo.SectorSize); err != nil {
		return nil, err
	}

	cache, err := blockcache.New(r, geoInfo.SectorSize, blockcache.DefaultSegments)
	if err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	rawRead := func(location uint32) ([]byte, error) { return cache.Sectors(uint64(location), 1) }

	revision := 3
	if !opts.NoVRS {
		vrsResult, verr := vrs.Scan(r, opts.SessionStart)
		if verr != nil {
			return nil, fmt.Errorf("volume: volume recognition: %w", verr)
		}
		revision = int(vrsResult.UDFRevision)
	}

	vdsResult, err := resolveVDS(rawRead, geoInfo.LastSector, revision, opts)
	if err != nil {
		return nil, err
	}

	if opts.VolumeIndex >= len(vdsResult.LogicalVols) || opts.VolumeIndex < 0 {
		return nil, fmt.Errorf("volume: volume index %d out of range (%d logical volumes found)",
			opts.VolumeIndex, len(vdsResult.LogicalVols))
	}
	lvd := vdsResult.LogicalVols[opts.VolumeIndex]
	logicalBlockSize := lvd.LogicalBlockSize
	if logicalBlockSize == 0 {
		logicalBlockSize = uint32(geoInfo.SectorSize)
	}

	partDescs := make(map[uint16]vds.PartitionDescriptor, len(vdsResult.Partitions))
	for _, pd := range vdsResult.Partitions {
		partDescs[pd.PartitionNumber] = pd
	}

	partTable, partRefDescs, err := buildPartitionTable(lvd, partDescs, rawRead)
	if err != nil {
		return nil, err
	}

	translate := func(loc addr.LBAddr) (uint32, error) {
		phys, terr := partTable.Translate(loc.PartitionRef, loc.Block, 0)
		if terr != nil {
			return 0, terr
		}
		return uint32(phys), nil
	}
	icbRead := func(loc addr.LBAddr) ([]byte, error) {
		phys, terr := translate(loc)
		if terr != nil {
			return nil, terr
		}
		return rawRead(phys)
	}
	allocRead := func(loc addr.LBAddr, blockSize uint32) ([]byte, error) {
		phys, terr := translate(loc)
		if terr != nil {
			return nil, terr
		}
		sector := uint32(geoInfo.SectorSize)
		count := (blockSize + sector - 1) / sector
		if count == 0 {
			count = 1
		}
		data, rerr := cache.Sectors(uint64(phys), count)
		if rerr != nil {
			return nil, rerr
		}
		if uint32(len(data)) > blockSize {
			data = data[:blockSize]
		}
		return data, nil
	}

	fsdLoc := lvd.FSDLocation
	if opts.PartitionRef >= 0 {
		fsdLoc.PartitionRef = uint16(opts.PartitionRef)
	}
	if opts.FileSetLocation != 0 {
		fsdLoc.Block = opts.FileSetLocation
	}
	fsdPhys, err := translate(fsdLoc)
	if err != nil {
		return nil, fmt.Errorf("volume: translating FSD location: %w", err)
	}
	fsd, err := vds.LocateFSD(rawRead, vds.Extent{Location: fsdPhys, Length: logicalBlockSize})
	if err != nil {
		return nil, fmt.Errorf("volume: locating FSD: %w", err)
	}

	root := fsd.RootDirICB
	if opts.PartitionRef >= 0 {
		root.PartitionRef = uint16(opts.PartitionRef)
	}
	if opts.RootDirBlock != 0 {
		root.Block = opts.RootDirBlock
	}

	var rawWrite func(uint32, []byte) error
	if wa, ok := r.(io.WriterAt); ok {
		sectorSize := geoInfo.SectorSize
		rawWrite = func(sector uint32, data []byte) error {
			_, werr := wa.WriteAt(data, int64(sector)*int64(sectorSize))
			return werr
		}
	}

	vol := &Volume{
		cache:            cache,
		sectorSize:       uint32(geoInfo.SectorSize),
		logicalBlockSize: logicalBlockSize,
		partTable:        partTable,
		partRefDescs:     partRefDescs,
		fsd:              fsd,
		root:             root,
		facade: &inode.Facade{
			DefaultUID: opts.DefaultUID,
			DefaultGID: opts.DefaultGID,
			Umask:      opts.Umask,
			Strict:     opts.Strict,
		},
		links:     icb.LinkCountTracker{},
		opts:      opts,
		vdsResult: vdsResult,
		rawRead:   rawRead,
		icbRead:   icbRead,
		allocRead: allocRead,
		rawWrite:  rawWrite,
		revision:  uint16(revision),
		serial:    1,
		uniqueID:  uint64(time.Now().UnixNano()),

		spaceEngines: map[uint16]*space.Engine{},
		bitmaps:      map[uint16]*space.Bitmap{},
		bitmapBlocks: map[uint16][]byte{},
		bitmapPhys:   map[uint16]uint32{},
	}
	return vol, nil
}

// newAVDPProbe builds the geometry.AVDPProbe closure: it remembers the
// sector size a successful discovery pass used so the later
// last-sector-refinement calls (which pass sectorSize 0, meaning "use
// whatever was already resolved") can still read at the right stride.
func newAVDPProbe(r io.ReaderAt) geometry.AVDPProbe {
	var resolved int
	return func(sectorSize int, sector uint64) bool {
		useSS := sectorSize
		if useSS == 0 {
			useSS = resolved
		}
		if useSS == 0 {
			return false
		}
		buf := make([]byte, useSS)
		n, err := r.ReadAt(buf, int64(sector)*int64(useSS))
		if err != nil && err != io.EOF {
			return false
		}
		if n < 16 {
			return false
		}
		for _, revision := range []int{2, 3} {
			if _, tagErr := vds.ParseAVDP(buf, uint32(sector), revision); tagErr == nil {
				if sectorSize != 0 {
					resolved = sectorSize
				}
				return true
			}
		}
		return false
	}
}

// resolveVDS runs vds.Resolve, honoring a forced anchor= mount option
// by parsing that block directly instead of scanning the candidate
// offset list.
func resolveVDS(read vds.BlockReader, lastSector uint64, revision int, opts MountOptions) (*vds.Result, error) {
	if opts.AnchorLocation == 0 {
		result, err := vds.Resolve(read, uint32(lastSector), revision)
		if err != nil {
			return nil, fmt.Errorf("volume: resolving VDS: %w", err)
		}
		return result, nil
	}

	block, err := read(opts.AnchorLocation)
	if err != nil {
		return nil, fmt.Errorf("volume: reading forced anchor at %d: %w", opts.AnchorLocation, err)
	}
	avdp, tagErr := vds.ParseAVDP(block, opts.AnchorLocation, revision)
	if tagErr != nil {
		return nil, fmt.Errorf("volume: forced anchor: %w", tagErr)
	}
	result, mainErr := vds.WalkVDS(read, avdp.Main, revision)
	if mainErr == nil && result.Primary != nil && len(result.LogicalVols) > 0 {
		return result, nil
	}
	reserveResult, reserveErr := vds.WalkVDS(read, avdp.Reserve, revision)
	if reserveErr != nil {
		return nil, fmt.Errorf("volume: main and reserve VDS both failed: %v / %w", mainErr, reserveErr)
	}
	return reserveResult, nil
}

// buildPartitionTable decodes a logical volume's raw partition-map
// table and resolves each entry into a concrete partmap.Translator,
// discovering a Virtual map's VAT or a Sparable map's Sparing Table
// along the way.
func buildPartitionTable(lvd vds.LogicalVolumeDescriptor, partDescs map[uint16]vds.PartitionDescriptor, read vds.BlockReader) (*partmap.Table, map[uint16]vds.PartitionDescriptor, error) {
	mapDescs, err := partmap.ParsePartitionMaps(lvd.PartitionMaps)
	if err != nil {
		return nil, nil, fmt.Errorf("volume: parsing partition maps: %w", err)
	}

	entries := make([]partmap.Translator, len(mapDescs))
	refDescs := make(map[uint16]vds.PartitionDescriptor, len(mapDescs))
	for i, m := range mapDescs {
		pd, ok := partDescs[m.PartitionNum]
		if !ok {
			return nil, nil, fmt.Errorf("volume: partition map entry %d references unknown partition %d", i, m.PartitionNum)
		}
		refDescs[uint16(i)] = pd
		companion := &partmap.Type1Map{Start: uint64(pd.PartitionStart), Length: pd.PartitionLength}

		switch m.Kind {
		case partmap.MapType1:
			entries[i] = companion

		case partmap.MapVirtual:
			vat, verr := locateVAT(pd, companion, read)
			if verr != nil {
				return nil, nil, fmt.Errorf("volume: %w", verr)
			}
			entries[i] = &partmap.VirtualMap{VAT: vat, Companion: companion}

		case partmap.MapSparable:
			if len(m.SparingReplicas) == 0 {
				return nil, nil, fmt.Errorf("volume: sparable partition map has no sparing table replicas")
			}
			data, rerr := read(m.SparingReplicas[0])
			if rerr != nil {
				return nil, nil, fmt.Errorf("volume: reading sparing table at %d: %w", m.SparingReplicas[0], rerr)
			}
			replicas := make([]uint64, len(m.SparingReplicas))
			for j, rep := range m.SparingReplicas {
				replicas[j] = uint64(rep)
			}
			table, serr := parseSparingTable(data, replicas)
			if serr != nil {
				return nil, nil, fmt.Errorf("volume: %w", serr)
			}
			entries[i] = &partmap.SparableMap{
				Start:     uint64(pd.PartitionStart),
				Length:    pd.PartitionLength,
				PacketLen: uint32(m.PacketLength),
				Table:     table,
			}

		default:
			return nil, nil, fmt.Errorf("volume: unsupported partition map kind %v", m.Kind)
		}
	}
	return partmap.NewTable(entries), refDescs, nil
}

func locateVAT(pd vds.PartitionDescriptor, companion *partmap.Type1Map, read vds.BlockReader) (*partmap.VAT, error) {
	scanner := func(block uint32) (uint8, []byte, bool) {
		phys, terr := companion.Translate(block, 0)
		if terr != nil {
			return 0, nil, false
		}
		data, rerr := read(uint32(phys))
		if rerr != nil || len(data) < 16 {
			return 0, nil, false
		}
		fe, perr := icb.ParseFileEntry(data)
		if perr != nil {
			return 0, nil, false
		}
		return uint8(fe.ICBTag.FileType), fe.AllocDescs, true
	}

	lastBlock := pd.PartitionLength
	if lastBlock > 0 {
		lastBlock--
	}
	vat, err := partmap.LocateVAT(lastBlock, scanner)
	if err != nil {
		return nil, fmt.Errorf("locating VAT: %w", err)
	}
	return vat, nil
}

// Root returns the mounted volume's root directory ICB location.
func (v *Volume) Root() addr.LBAddr { return v.root }

// BlockSize returns the logical volume's logical block size in bytes.
func (v *Volume) BlockSize() uint32 { return v.logicalBlockSize }

// listOpts mirrors the dirent.ListOptions the mount's unhide/undelete
// options select.
func (v *Volume) listOpts() dirent.ListOptions {
	return dirent.ListOptions{UnhideDeleted: v.opts.Undelete, ShowHidden: v.opts.Unhide}
}

// ReadICB reads one ICB hierarchy, serialized under mu since it
// mutates the shared link-count tracker (spec.md 5).
func (v *Volume) ReadICB(loc addr.LBAddr) (*icb.ReadResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return icb.ReadICB(loc, v.icbRead, v.links)
}

func entryOf(r *icb.ReadResult) (*icb.FileEntry, error) {
	if r.ExtFile != nil {
		return &r.ExtFile.FileEntry, nil
	}
	if r.FileEntry != nil {
		return r.FileEntry, nil
	}
	return nil, fmt.Errorf("volume: ICB resolved to a Terminal Entry with no File Entry")
}

// buildStream turns an already-read ICB's allocation descriptors into
// a flat dirent.Stream, handling the in-ICB inline-data case.
func (v *Volume) buildStream(loc addr.LBAddr, fe *icb.FileEntry) (dirent.Stream, error) {
	adType := fe.ICBTag.ADType()
	if adType == alloc.InICB {
		return &fileStream{inline: fe.AllocDescs, size: int64(fe.InfoLength)}, nil
	}
	ads, err := alloc.WalkADs(fe.AllocDescs, loc.PartitionRef, adType, v.logicalBlockSize, v.allocRead)
	if err != nil {
		return nil, err
	}
	return &fileStream{ads: ads, blockSize: v.logicalBlockSize, read: v.allocRead, size: int64(fe.InfoLength)}, nil
}

// Resolve walks path (slash-separated, relative to root) component by
// component via dirent.Lookup, returning the final component's ICB
// read result.
func (v *Volume) Resolve(path string) (*icb.ReadResult, addr.LBAddr, error) {
	loc := v.root
	result, err := v.ReadICB(loc)
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
		result, err = v.ReadICB(loc)
		if err != nil {
			return nil, addr.LBAddr{}, err
		}
	}
	return result, loc, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Open resolves path and returns its File Entry plus a readable stream
// over its data (a directory's FID list, for a directory).
func (v *Volume) Open(path string) (dirent.Stream, *icb.FileEntry, error) {
	result, loc, err := v.Resolve(path)
	if err != nil {
		return nil, nil, err
	}
	fe, err := entryOf(result)
	if err != nil {
		return nil, nil, err
	}
	stream, err := v.buildStream(loc, fe)
	if err != nil {
		return nil, nil, err
	}
	return stream, fe, nil
}

// ReadDir lists path's non-deleted, non-parent FIDs, subject to the
// mount's unhide/undelete options.
func (v *Volume) ReadDir(path string) ([]*dirent.FID, error) {
	stream, fe, err := v.Open(path)
	if err != nil {
		return nil, err
	}
	if fe.ICBTag.FileType != icb.FileTypeDirectory {
		return nil, fmt.Errorf("volume: %q is not a directory", path)
	}

	var out []*dirent.FID
	err = dirent.Walk(stream, func(off int64, fid *dirent.FID) (bool, error) {
		if fid.IsParent() {
			return false, nil
		}
		if fid.IsDeleted() && !v.opts.Undelete {
			return false, nil
		}
		if fid.IsHidden() && !v.opts.Unhide {
			return false, nil
		}
		out = append(out, fid)
		return false, nil
	})
	return out, err
}

// ReadFile reads len(p) bytes of path's data starting at offset.
func (v *Volume) ReadFile(path string, offset int64, p []byte) (int, error) {
	stream, fe, err := v.Open(path)
	if err != nil {
		return 0, err
	}
	if fe.ICBTag.FileType == icb.FileTypeDirectory {
		return 0, fmt.Errorf("volume: %q is a directory", path)
	}
	return stream.ReadAt(offset, p)
}

// Stat resolves path and builds its host-facing attributes. Device
// nodes additionally require a Device Specification extended
// attribute, which this layer does not yet scan for (an EA walker has
// no caller elsewhere in the tree either); such nodes report an error
// from inode.Facade.BuildAttr rather than silently fabricating a
// major/minor pair.
func (v *Volume) Stat(path string) (inode.Attr, error) {
	result, _, err := v.Resolve(path)
	if err != nil {
		return inode.Attr{}, err
	}
	fe, err := entryOf(result)
	if err != nil {
		return inode.Attr{}, err
	}
	return v.facade.BuildAttr(fe, nil)
}

// Audit runs the consistency checker over the whole tree rooted at
// root, wiring checker.AuditOptions to this volume's block/partition
// layers.
func (v *Volume) Audit() (*checker.Report, error) {
	opener := func(loc addr.LBAddr, fe *icb.FileEntry, efe *icb.ExtendedFileEntry) (dirent.Stream, error) {
		target := fe
		if efe != nil {
			target = &efe.FileEntry
		}
		return v.buildStream(loc, target)
	}
	extents := func(loc addr.LBAddr, fe *icb.FileEntry, efe *icb.ExtendedFileEntry) []space.Extent {
		target := fe
		if efe != nil {
			target = &efe.FileEntry
		}
		adType := target.ICBTag.ADType()
		if adType == alloc.InICB {
			return nil
		}
		ads, err := alloc.WalkADs(target.AllocDescs, loc.PartitionRef, adType, v.logicalBlockSize, v.allocRead)
		if err != nil {
			return nil
		}
		out := make([]space.Extent, 0, len(ads))
		for _, a := range ads {
			if a.Type == addr.Recorded {
				out = append(out, space.Extent{Location: a.Location.Block, Length: a.Length})
			}
		}
		return out
	}

	partitionLengths := make(map[uint16]uint32, len(v.partRefDescs))
	recordedBitmaps := map[uint16]*space.Bitmap{}
	for ref, pd := range v.partRefDescs {
		partitionLengths[ref] = pd.PartitionLength
		if !pd.UnallocSpaceType {
			continue // table-form free space, not a bitmap this pass can diff against
		}
		phys, terr := v.partTable.Translate(ref, pd.UnallocSpaceLoc.Block, 0)
		if terr != nil {
			continue
		}
		block, rerr := v.rawRead(uint32(phys))
		if rerr != nil {
			continue
		}
		bitmap, berr := space.ParseBitmapDescriptor(block, v.logicalBlockSize)
		if berr != nil {
			continue
		}
		recordedBitmaps[ref] = bitmap
	}

	return checker.Audit(v.root, checker.AuditOptions{
		Read:             v.icbRead,
		Open:             opener,
		Extents:          extents,
		PartitionLengths: partitionLengths,
		RecordedBitmaps:  recordedBitmaps,
		BlockSize:        v.logicalBlockSize,
	})
}

// Close releases the volume's cached sectors. It does not close the
// underlying io.ReaderAt, which the caller owns.
func (v *Volume) Close() {
	v.cache.Invalidate()
}
