package inode

import (
	"os"
	"testing"
	"time"

	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/stretchr/testify/require"
)

func TestToHostModeDropsChattrAndDelete(t *testing.T) {
	perm := uint32(permUserRead | permUserWrite | permUserChattr | permUserDelete |
		permGroupRead | permOtherRead)
	mode := ToHostMode(perm, 0)
	require.Equal(t, os.FileMode(0o644), mode)
}

func TestToHostModePreservesSetuidSetgidSticky(t *testing.T) {
	mode := ToHostMode(0, 0b111000)
	require.True(t, mode&os.ModeSetuid != 0)
	require.True(t, mode&os.ModeSetgid != 0)
	require.True(t, mode&os.ModeSticky != 0)
}

func TestResolveIDSubstitutesAnonymous(t *testing.T) {
	require.Equal(t, uint32(99), ResolveID(uint32(int32(-1)), 99))
	require.Equal(t, uint32(99), ResolveID(1<<16, 99))
	require.Equal(t, uint32(1000), ResolveID(1000, 99))
}

func TestMapFileTypeUnknownIsError(t *testing.T) {
	_, err := MapFileType(icb.FileTypeUnallocatedSpaceEntry)
	require.Error(t, err)
}

func TestTimestampConversionRoundTrips(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	ts := FromHostTime(now)
	got := ToHostTime(ts)
	require.True(t, now.Equal(got))
}

func TestBuildAttrRequiresDeviceEAForDeviceNodes(t *testing.T) {
	f := &Facade{DefaultUID: 0, DefaultGID: 0}
	fe := &icb.FileEntry{ICBTag: icb.ICBTag{FileType: icb.FileTypeBlock}}
	_, err := f.BuildAttr(fe, nil)
	require.Error(t, err)

	dev := &DeviceSpecEA{Major: 8, Minor: 1}
	attr, err := f.BuildAttr(fe, dev)
	require.NoError(t, err)
	require.Equal(t, *dev, attr.Device)
}

func TestBuildAttrMapsRegularFile(t *testing.T) {
	f := &Facade{DefaultUID: 1000, DefaultGID: 1000}
	fe := &icb.FileEntry{
		ICBTag:        icb.ICBTag{FileType: icb.FileTypeRegular},
		UID:           uint32(int32(-1)),
		GID:           500,
		Permissions:   uint32(permUserRead | permUserWrite),
		InfoLength:    1024,
		FileLinkCount: 1,
	}
	attr, err := f.BuildAttr(fe, nil)
	require.NoError(t, err)
	require.Equal(t, KindRegular, attr.Kind)
	require.Equal(t, uint32(1000), attr.UID) // substituted
	require.Equal(t, uint32(500), attr.GID)
	require.Equal(t, uint64(1024), attr.Size)
}

func TestParseDeviceSpecEARejectsTruncated(t *testing.T) {
	_, err := ParseDeviceSpecEA(make([]byte, 4))
	require.Error(t, err)
}
