package checker

import "github.com/ostafen/udfkit/internal/udf/icb"

// LinkCounter tallies how many FIDs actually reference each ICB, to be
// compared against that ICB's recorded FileLinkCount, mirroring
// TestLinkCount's ICBlist[i].Link vs .LinkRec comparison.
type LinkCounter map[icb.LinkKey]uint32

// Observe records one directory entry pointing at key.
func (c LinkCounter) Observe(key icb.LinkKey) {
	c[key]++
}

// LinkMismatch is one ICB whose recorded link count disagrees with the
// number of FIDs found referencing it.
type LinkMismatch struct {
	Key      icb.LinkKey
	Recorded uint16
	Counted  uint32
}

// CheckLinks compares every recorded FileLinkCount against the number
// of FIDs actually observed pointing at that ICB.
func CheckLinks(recorded map[icb.LinkKey]uint16, counted LinkCounter) []LinkMismatch {
	var mismatches []LinkMismatch
	for key, want := range recorded {
		if got := counted[key]; uint32(want) != got {
			mismatches = append(mismatches, LinkMismatch{Key: key, Recorded: want, Counted: got})
		}
	}
	return mismatches
}
