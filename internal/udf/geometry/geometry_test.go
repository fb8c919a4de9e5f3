package geometry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeUsesForcedValues(t *testing.T) {
	info, err := Probe(bytes.NewReader(nil), 0, 2048, 12345, nil)
	require.NoError(t, err)
	require.Equal(t, 2048, info.SectorSize)
	require.Equal(t, uint64(12345), info.LastSector)
}

func TestProbeDiscoversSectorSizeViaAVDP(t *testing.T) {
	probe := func(sectorSize int, sector uint64) bool {
		return sectorSize == 1024 && sector == 256
	}
	info, err := Probe(bytes.NewReader(make([]byte, 1<<20)), 1<<20, 0, 999, probe)
	require.NoError(t, err)
	require.Equal(t, 1024, info.SectorSize)
}

func TestValidateSectorSize(t *testing.T) {
	require.NoError(t, ValidateSectorSize(2048))
	require.Error(t, ValidateSectorSize(300))
	require.Error(t, ValidateSectorSize(1<<20))
}
