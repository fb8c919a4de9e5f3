// Package blockcache implements the fixed-segment sector cache
// described in spec.md 4.3: a small number of arbitrary-length sector
// runs, hit-tested by containment and evicted round-robin on a miss.
// It plays the role the teacher's pkg/reader.BufferedReadSeeker plays
// for a single linear stream, generalized to random-access sector
// ranges over an io.ReaderAt.
package blockcache

import (
	"fmt"
	"io"
)

// DefaultSegments is the default number of cached sector runs.
const DefaultSegments = 4

type segment struct {
	lba   uint64
	count uint32
	data  []byte
	valid bool
}

// Cache caches fixed-size-sector runs read from a backing io.ReaderAt.
// A pointer returned by Sectors is only valid until the next call; the
// teacher's File.Read pattern (copy out of an io.SectionReader before
// returning) is the precedent for why callers must copy promptly.
type Cache struct {
	r          io.ReaderAt
	sectorSize int
	segments   []segment
	next       int // round-robin eviction cursor
}

// New creates a Cache with the given sector size (must be a power of
// two in [512, 65536], per spec.md 4.3) and number of segments.
func New(r io.ReaderAt, sectorSize int, numSegments int) (*Cache, error) {
	if sectorSize < 512 || sectorSize > 65536 || sectorSize&(sectorSize-1) != 0 {
		return nil, fmt.Errorf("blockcache: invalid sector size %d", sectorSize)
	}
	if numSegments <= 0 {
		numSegments = DefaultSegments
	}
	return &Cache{
		r:          r,
		sectorSize: sectorSize,
		segments:   make([]segment, numSegments),
	}, nil
}

// SectorSize returns the fixed sector size this cache was built with.
func (c *Cache) SectorSize() int { return c.sectorSize }

// Sectors returns the bytes of `count` sectors starting at logical
// block address `lba`. The returned slice is only valid until the next
// call to Sectors.
func (c *Cache) Sectors(lba uint64, count uint32) ([]byte, error) {
	for i := range c.segments {
		s := &c.segments[i]
		if s.valid && s.lba <= lba && lba+uint64(count) <= s.lba+uint64(s.count) {
			start := (lba - s.lba) * uint64(c.sectorSize)
			end := start + uint64(count)*uint64(c.sectorSize)
			return s.data[start:end], nil
		}
	}
	return c.load(lba, count)
}

func (c *Cache) load(lba uint64, count uint32) ([]byte, error) {
	size := int64(count) * int64(c.sectorSize)
	buf := make([]byte, size)

	n, err := c.r.ReadAt(buf, int64(lba)*int64(c.sectorSize))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("blockcache: read lba=%d count=%d: %w", lba, count, err)
	}
	buf = buf[:n]

	idx := c.next
	c.next = (c.next + 1) % len(c.segments)
	c.segments[idx] = segment{lba: lba, count: count, data: buf, valid: true}
	return buf, nil
}

// Invalidate drops every cached segment, forcing subsequent reads to
// hit the backing reader. Used after a write that may have changed
// previously cached sectors.
func (c *Cache) Invalidate() {
	for i := range c.segments {
		c.segments[i] = segment{}
	}
}
