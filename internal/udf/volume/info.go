package volume

// PartitionInfo summarizes one partition reference for the info command.
type PartitionInfo struct {
	Reference uint16
	Number    uint16
	Start     uint32
	Length    uint32
	Kind      string
}

// VolumeInfo is the read-only summary the info command prints, pulled
// from the state Mount already assembled rather than re-reading the
// descriptor sequence.
type VolumeInfo struct {
	Identifier       string
	MountID          string
	UDFRevision      uint16
	SectorSize       uint32
	LogicalBlockSize uint32
	RootLocation     string
	Partitions       []PartitionInfo
}

// Info reports the volume-, partition- and revision-level facts a
// human inspecting an unfamiliar image wants up front, the way the
// teacher's `formats` command reports the scanner registry up front.
func (v *Volume) Info() VolumeInfo {
	v.mu.Lock()
	defer v.mu.Unlock()

	info := VolumeInfo{
		UDFRevision:      v.revision,
		SectorSize:       v.sectorSize,
		LogicalBlockSize: v.logicalBlockSize,
		RootLocation:     v.root.String(),
	}

	if v.vdsResult != nil {
		info.MountID = v.vdsResult.MountID.String()
		if v.vdsResult.Primary != nil {
			info.Identifier = v.vdsResult.Primary.Identifier
		}
	}

	for ref, pd := range v.partRefDescs {
		kind := "unknown"
		if v.partTable != nil {
			if t, err := v.partTable.KindOf(ref); err == nil {
				kind = t.String()
			}
		}
		info.Partitions = append(info.Partitions, PartitionInfo{
			Reference: ref,
			Number:    pd.PartitionNumber,
			Start:     pd.PartitionStart,
			Length:    pd.PartitionLength,
			Kind:      kind,
		})
	}
	return info
}
