package codec

import (
	"encoding/binary"
	"time"
)

// Timestamp is ECMA-167 1/7.3's 12-byte recorded timestamp: a type and
// timezone word packed with year/month/day/hour/minute/second plus
// centisecond/hundred-of-microsecond/microsecond fractional fields.
type Timestamp struct {
	TypeAndTimezone uint16
	Year            int16
	Month           uint8
	Day             uint8
	Hour            uint8
	Minute          uint8
	Second          uint8
	Centiseconds    uint8
	HundredsOfMicro uint8
	Microseconds    uint8
}

// timezoneMask extracts the 12-bit two's-complement offset in minutes
// from GMT out of the low bits of TypeAndTimezone; the top 4 bits hold
// the timestamp type.
const timezoneMask = 0x0FFF

// DecodeTimestamp converts a Timestamp into a UTC time.Time, the
// recorded timezone offset in minutes (-1440 meaning "not specified",
// per ECMA-167 1/7.3.1), and the 4-bit type field (top bits of
// TypeAndTimezone) untouched so EncodeTimestamp can reconstruct the
// original word exactly.
func DecodeTimestamp(ts Timestamp) (t time.Time, tzMinutes int, typ uint8) {
	tz := int(ts.TypeAndTimezone & timezoneMask)
	if tz > 2047 {
		tz -= 4096 // sign-extend the 12-bit field
	}
	typ = uint8(ts.TypeAndTimezone >> 12)

	nsec := int(ts.Centiseconds)*10_000_000 +
		int(ts.HundredsOfMicro)*100_000 +
		int(ts.Microseconds)*1_000

	t = time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), nsec, time.UTC)
	return t, tz, typ
}

// ParseTimestamp decodes the 12-byte on-disk layout (type+timezone u16,
// year i16, month/day/hour/minute/second/centiseconds/hundredsOfMicro/
// microseconds, all little-endian) directly out of a larger buffer.
func ParseTimestamp(b []byte) Timestamp {
	return Timestamp{
		TypeAndTimezone: binary.LittleEndian.Uint16(b[0:2]),
		Year:            int16(binary.LittleEndian.Uint16(b[2:4])),
		Month:           b[4],
		Day:             b[5],
		Hour:            b[6],
		Minute:          b[7],
		Second:          b[8],
		Centiseconds:    b[9],
		HundredsOfMicro: b[10],
		Microseconds:    b[11],
	}
}

// PutTimestamp writes ts into b's first 12 bytes in on-disk layout.
func PutTimestamp(b []byte, ts Timestamp) {
	binary.LittleEndian.PutUint16(b[0:2], ts.TypeAndTimezone)
	binary.LittleEndian.PutUint16(b[2:4], uint16(ts.Year))
	b[4] = ts.Month
	b[5] = ts.Day
	b[6] = ts.Hour
	b[7] = ts.Minute
	b[8] = ts.Second
	b[9] = ts.Centiseconds
	b[10] = ts.HundredsOfMicro
	b[11] = ts.Microseconds
}

// EncodeTimestamp is the exact inverse of DecodeTimestamp.
func EncodeTimestamp(t time.Time, tzMinutes int, typ uint8) Timestamp {
	tzField := uint16(tzMinutes) & timezoneMask
	tzField |= uint16(typ) << 12

	nsec := t.Nanosecond()
	cs := nsec / 10_000_000
	nsec -= cs * 10_000_000
	hm := nsec / 100_000
	nsec -= hm * 100_000
	us := nsec / 1_000

	return Timestamp{
		TypeAndTimezone: tzField,
		Year:            int16(t.Year()),
		Month:           uint8(t.Month()),
		Day:             uint8(t.Day()),
		Hour:            uint8(t.Hour()),
		Minute:          uint8(t.Minute()),
		Second:          uint8(t.Second()),
		Centiseconds:    uint8(cs),
		HundredsOfMicro: uint8(hm),
		Microseconds:    uint8(us),
	}
}
