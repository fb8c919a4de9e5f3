package checker

import "github.com/ostafen/udfkit/internal/udf/icb"

// UniqueIDCollision records two ICBs that share a Unique ID, which
// should never happen (spec.md 4.13), mirroring check_uniqueid's O(n^2)
// pairwise scan.
type UniqueIDCollision struct {
	ID   uint64
	A, B icb.LinkKey
}

// UniqueIDTracker assigns at most one owner per Unique ID and reports
// every further claimant as a collision.
type UniqueIDTracker struct {
	owner map[uint64]icb.LinkKey
	max   uint64
}

// NewUniqueIDTracker returns an empty tracker.
func NewUniqueIDTracker() *UniqueIDTracker {
	return &UniqueIDTracker{owner: map[uint64]icb.LinkKey{}}
}

// Observe records that key carries Unique ID id, returning a
// collision if id was already claimed by a different ICB.
func (u *UniqueIDTracker) Observe(id uint64, key icb.LinkKey) *UniqueIDCollision {
	if id > u.max {
		u.max = id
	}
	if prev, ok := u.owner[id]; ok && prev != key {
		return &UniqueIDCollision{ID: id, A: prev, B: key}
	}
	u.owner[id] = key
	return nil
}

// Max returns the highest Unique ID observed, comparable against an
// Integrity Descriptor's NextUniqueID (spec.md 4.6/4.13).
func (u *UniqueIDTracker) Max() uint64 {
	return u.max
}
