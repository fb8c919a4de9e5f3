package vrs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildVRS(ids ...string) []byte {
	var buf bytes.Buffer
	for _, id := range ids {
		block := make([]byte, sectorSize)
		copy(block[1:6], id)
		buf.Write(block)
	}
	return buf.Bytes()
}

func TestScanHappyPath(t *testing.T) {
	data := buildVRS("BEA01", "NSR03", "TEA01")
	res, err := Scan(bytes.NewReader(prepend(data)), 0)
	require.NoError(t, err)
	require.True(t, res.SawBEA)
	require.True(t, res.SawTEA)
	require.Equal(t, uint16(3), res.UDFRevision)
}

func TestScanMissingNSRIsFatal(t *testing.T) {
	data := buildVRS("BEA01", "TEA01")
	_, err := Scan(bytes.NewReader(prepend(data)), 0)
	require.Error(t, err)
}

func TestScanMissingBEAIsNotFatal(t *testing.T) {
	data := buildVRS("NSR02", "TEA01")
	res, err := Scan(bytes.NewReader(prepend(data)), 0)
	require.NoError(t, err)
	require.False(t, res.SawBEA)
	require.Equal(t, uint16(2), res.UDFRevision)
}

func prepend(data []byte) []byte {
	return append(make([]byte, startOffset), data...)
}
