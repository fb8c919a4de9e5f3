package volume

import (
	"fmt"
	"io"

	"github.com/ostafen/udfkit/internal/udf/alloc"
)

// fileStream adapts an allocation-descriptor list (or a File Entry's
// in-ICB inline data) to dirent.Stream, the flat byte-range view the
// directory engine and FUSE layer both read through.
type fileStream struct {
	inline []byte // non-nil only for alloc.InICB
	ads    []alloc.AD
	blockSize uint32
	read      alloc.BlockReader
	size      int64
}

func (s *fileStream) Size() int64 { return s.size }

func (s *fileStream) ReadAt(off int64, p []byte) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("volume: negative read offset %d", off)
	}
	if s.inline != nil {
		if off >= int64(len(s.inline)) {
			return 0, io.EOF
		}
		n := copy(p, s.inline[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	return alloc.ReadAt(s.ads, s.blockSize, s.read, off, p)
}
