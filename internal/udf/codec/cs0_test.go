package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCS0RoundTrip(t *testing.T) {
	cases := []string{
		"hello.txt",
		"",
		"café", // every code point <= 0xFF, stays 8-bit
		"中文",   // forces the 16-bit path
	}
	for _, s := range cases {
		enc, err := EncodeCS0(s)
		require.NoError(t, err)

		dec, err := DecodeCS0(enc)
		require.NoError(t, err)
		require.Equal(t, s, dec)
	}
}

func TestEncodeCS0RejectsAboveBMP(t *testing.T) {
	_, err := EncodeCS0("\U0001F600")
	require.Error(t, err)
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := Timestamp{
		TypeAndTimezone: 0x1000 | 60,
		Year:            2026,
		Month:           7,
		Day:             30,
		Hour:            12,
		Minute:          30,
		Second:          15,
		Centiseconds:    42,
		HundredsOfMicro: 3,
		Microseconds:    7,
	}
	tm, tz, typ := DecodeTimestamp(ts)
	require.Equal(t, 60, tz)
	require.Equal(t, uint8(1), typ)

	back := EncodeTimestamp(tm, tz, typ)
	require.Equal(t, ts, back)
}

func TestManglePath(t *testing.T) {
	raw, err := EncodeCS0("bad/name.txt")
	require.NoError(t, err)

	decoded, err := DecodeCS0(raw)
	require.NoError(t, err)

	mangled := ManglePath(raw, decoded)
	require.NotContains(t, mangled, "/")
	require.Contains(t, mangled, "#")
	require.True(t, len(mangled) <= maxMangledName)
}
