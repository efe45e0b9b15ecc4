// Package coord defines genomic coordinate values and half-open coordinate
// ranges, with the total order used by coordinate-sorted alignment storage.
package coord

import (
	"fmt"
	"math"
)

const (
	// InfinityPos is 1 + the largest possible alignment position.
	InfinityPos = math.MaxInt32

	// UnmappedRefID is the pseudo reference ID of unmapped records.  Unmapped
	// records sort after every mapped record.
	UnmappedRefID = int32(-1)

	// InvalidRefID is a sentinel. -2 because -1 is taken by UnmappedRefID.
	InvalidRefID = int32(-2)
)

// Coord identifies one record address: a reference sequence, a 0-based
// position on it, and a sequence number distinguishing records that start at
// the same position (the Nth record at a position has Seq N-1).
type Coord struct {
	RefID int32
	Pos   int32
	Seq   int32
}

// Range is a half-open coordinate interval [Start, Limit).
type Range struct {
	Start Coord
	Limit Coord
}

func sortableRefID(id int32) int32 {
	if id == UnmappedRefID {
		return math.MaxInt32
	}
	return id
}

// Compare returns (negative, 0, positive) if (c<c1, c=c1, c>c1) respectively.
func (c Coord) Compare(c1 Coord) int {
	refid0 := sortableRefID(c.RefID)
	refid1 := sortableRefID(c1.RefID)
	if refid0 != refid1 {
		return int(refid0 - refid1)
	}
	if c.Pos != c1.Pos {
		return int(c.Pos - c1.Pos)
	}
	return int(c.Seq - c1.Seq)
}

// LT returns true iff c < c1.
func (c Coord) LT(c1 Coord) bool { return c.Compare(c1) < 0 }

// LE returns true iff c <= c1.
func (c Coord) LE(c1 Coord) bool { return c.Compare(c1) <= 0 }

// GE returns true iff c >= c1.
func (c Coord) GE(c1 Coord) bool { return c.Compare(c1) >= 0 }

// EQ returns true iff c = c1.
func (c Coord) EQ(c1 Coord) bool {
	return c.RefID == c1.RefID && c.Pos == c1.Pos && c.Seq == c1.Seq
}

// String returns a debug representation, e.g. "2:1000:0".
func (c Coord) String() string {
	return fmt.Sprintf("%d:%d:%d", c.RefID, c.Pos, c.Seq)
}

// Contains checks whether c is inside r.
func (r Range) Contains(c Coord) bool {
	return r.Start.LE(c) && c.LT(r.Limit)
}

// Intersects returns true iff (r ∩ r1) != ∅.
func (r Range) Intersects(r1 Range) bool {
	return r.Start.LT(r1.Limit) && r1.Start.LT(r.Limit)
}
