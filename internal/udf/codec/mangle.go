package codec

import (
	"fmt"
	"strings"

	"github.com/ostafen/udfkit/internal/udf/tag"
)

const maxMangledName = 255

// illegal reports whether r cannot appear in a host filename.
func illegal(r rune) bool {
	return r == 0 || r == '/'
}

// ManglePath produces a host-safe name from a raw CS0 byte sequence and
// its decoded UTF-8 form, per spec.md 4.2: illegal characters become
// '_', a 4-hex-digit CRC of the original CS0 bytes is appended after a
// '#', and up to a 5-character trailing extension is preserved.
func ManglePath(raw []byte, decoded string) string {
	var ext string
	base := decoded
	if i := strings.LastIndexByte(decoded, '.'); i >= 0 && len(decoded)-i-1 <= 5 && i > 0 {
		ext = decoded[i:]
		base = decoded[:i]
	}

	var sb strings.Builder
	for _, r := range base {
		if illegal(r) {
			sb.WriteByte('_')
		} else {
			sb.WriteRune(r)
		}
	}

	suffix := fmt.Sprintf("#%04X", tag.CRCItuT(raw))

	name := sb.String() + suffix + ext
	if len(name) > maxMangledName {
		overflow := len(name) - maxMangledName
		keep := sb.Len() - overflow
		if keep < 0 {
			keep = 0
		}
		name = sb.String()[:keep] + suffix + ext
	}
	return name
}
