// Package codec implements the little-endian field access and CS0
// (OSTA compressed-unicode) <-> UTF-8 conversions described in
// spec.md 4.2, grounded on original_source/udf/src/unicode.c.
package codec

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	compress8  = 8
	compress16 = 16
)

// DecodeCS0 converts a CS0 byte stream (leading compression-id byte
// followed by 8-bit or 16-bit-big-endian code points) into UTF-8.
func DecodeCS0(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}

	compID := b[0]
	body := b[1:]

	switch compID {
	case compress8:
		out := make([]rune, 0, len(body))
		for _, c := range body {
			out = append(out, rune(c))
		}
		return string(out), nil
	case compress16:
		if len(body)%2 != 0 {
			return "", fmt.Errorf("codec: truncated 16-bit CS0 payload (%d bytes)", len(body))
		}
		units := make([]uint16, 0, len(body)/2)
		for i := 0; i < len(body); i += 2 {
			units = append(units, uint16(body[i])<<8|uint16(body[i+1]))
		}
		return string(utf16.Decode(units)), nil
	default:
		return "", fmt.Errorf("codec: unsupported compression id 0x%02x", compID)
	}
}

// EncodeCS0 converts a UTF-8 string into a CS0 byte stream, preferring
// the 8-bit form and only switching to 16-bit if a code point exceeds
// 0xFF, per spec.md 4.2.
func EncodeCS0(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("codec: invalid UTF-8 input")
	}

	runes := []rune(s)

	need16 := false
	for _, r := range runes {
		if r > 0xFFFF {
			return nil, fmt.Errorf("codec: code point U+%04X exceeds CS0's 16-bit range", r)
		}
		if r > 0xFF {
			need16 = true
		}
	}

	if !need16 {
		out := make([]byte, 0, len(runes)+1)
		out = append(out, compress8)
		for _, r := range runes {
			out = append(out, byte(r))
		}
		return out, nil
	}

	out := make([]byte, 0, len(runes)*2+1)
	out = append(out, compress16)
	for _, r := range runes {
		out = append(out, byte(r>>8), byte(r))
	}
	return out, nil
}
