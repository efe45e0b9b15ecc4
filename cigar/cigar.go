// Package cigar translates alignment CIGAR geometry between reference and
// query coordinates.
//
// A CIGAR is a run-length encoding of alignment operations.  Match, Deletion
// and RefSkip runs consume reference bases; Match, Insertion and SoftClip
// runs consume query bases.  Given a reference-relative offset inside a
// record's span, this package answers "which query base (if any) is aligned
// there, and inside what kind of run".
//
// Walker adds a resident forward-only cursor on top of the cold lookup, so a
// pileup sweep issuing monotonically increasing position queries does O(total
// CIGAR length) work per record instead of O(runs × positions).
package cigar

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/strandbio/align"
)

// StateKind classifies the local alignment state at one reference position.
type StateKind int

const (
	// StateNone means the record has no alignment geometry at the position.
	StateNone StateKind = iota
	// StateBase means a query base is aligned to the position.
	StateBase
	// StateDeletion means the position falls inside a deletion run.
	StateDeletion
	// StateRefSkip means the position falls inside a reference-skip run
	// (e.g. an RNAseq intron).
	StateRefSkip
)

// State is the local alignment state of one record at one reference
// position.
type State struct {
	Kind StateKind
	// QueryPos is the 0-based offset into the query sequence of the aligned
	// base.  Meaningful only when Kind == StateBase.
	QueryPos int
	// Boundary is true when the position is the first reference position of
	// its containing run.
	Boundary bool
}

// IndelKind classifies an indel event reported by Walker.IndelAt.
type IndelKind int

const (
	// IndelNone means no indel starts at the queried position.
	IndelNone IndelKind = iota
	// IndelInsertion means an insertion sits between the queried position and
	// the next reference position.
	IndelInsertion
	// IndelDeletion means a deletion run starts at the queried position.
	IndelDeletion
)

// Indel describes an indel event and its length.
type Indel struct {
	Kind IndelKind
	Len  int
}

// Validate checks that every run has positive length and a recognized
// operation kind.  Anything else is a storage-contract violation and yields
// align.ErrMalformedRecord.
func Validate(cig sam.Cigar) error {
	for _, co := range cig {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch,
			sam.CigarInsertion, sam.CigarDeletion, sam.CigarSkipped,
			sam.CigarSoftClipped, sam.CigarHardClipped, sam.CigarPadded:
		default:
			return errors.Wrapf(align.ErrMalformedRecord, "unrecognized CIGAR op %v", co)
		}
		if co.Len() <= 0 {
			return errors.Wrapf(align.ErrMalformedRecord, "zero-length CIGAR op %v", co)
		}
	}
	return nil
}

// RefSpan returns the number of reference bases the CIGAR consumes.  A
// record starting at position p covers [p, p+RefSpan).
func RefSpan(cig sam.Cigar) int {
	var n int
	for _, co := range cig {
		n += co.Len() * co.Type().Consumes().Reference
	}
	return n
}

// QuerySpan returns the number of query bases the CIGAR consumes, including
// soft-clipped bases.
func QuerySpan(cig sam.Cigar) int {
	var n int
	for _, co := range cig {
		n += co.Len() * co.Type().Consumes().Query
	}
	return n
}

// At performs a cold O(runs) lookup: it walks cig accumulating reference and
// query consumption in lockstep, and returns the state at
// reference-relative offset k (0 <= k < RefSpan).  Offsets outside the span
// yield align.ErrOutOfRange.
func At(cig sam.Cigar, k int) (State, error) {
	if k < 0 {
		return State{}, errors.Wrapf(align.ErrOutOfRange, "offset %d before record span", k)
	}
	var refOff, queryOff int
	for _, co := range cig {
		n := co.Len()
		consumes := co.Type().Consumes()
		if consumes.Reference > 0 && k < refOff+n {
			return stateInRun(co, k, refOff, queryOff), nil
		}
		refOff += n * consumes.Reference
		queryOff += n * consumes.Query
	}
	return State{}, errors.Wrapf(align.ErrOutOfRange, "offset %d beyond record span %d", k, refOff)
}

// stateInRun computes the state for offset k inside the reference-consuming
// run co, which starts at reference offset refOff with queryOff query bases
// consumed before it.
func stateInRun(co sam.CigarOp, k, refOff, queryOff int) State {
	s := State{Boundary: k == refOff}
	switch co.Type() {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
		s.Kind = StateBase
		s.QueryPos = queryOff + (k - refOff)
	case sam.CigarDeletion:
		s.Kind = StateDeletion
	case sam.CigarSkipped:
		s.Kind = StateRefSkip
	}
	return s
}
