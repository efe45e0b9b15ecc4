package cigar

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/strandbio/align"
)

// Walker resolves reference positions of one record to alignment states.  It
// keeps a resident cursor at the run containing the last queried position,
// so monotonically increasing queries (the pileup access pattern) cost O(1)
// amortized.  Querying behind the cursor restarts it from the first run, the
// cold O(runs) path used when a record is admitted mid-span.
//
// A Walker is owned by a single sweep; it is not safe for concurrent use.
type Walker struct {
	cig   sam.Cigar
	start int // 0-based reference start
	end   int // start + reference span

	// Cursor: geometry consumed strictly before run opIdx.
	opIdx    int
	refOff   int
	queryOff int
}

// NewWalker validates rec's CIGAR and returns a Walker over its reference
// span.  Records with a contract-violating CIGAR yield
// align.ErrMalformedRecord.
func NewWalker(rec *sam.Record) (*Walker, error) {
	return NewCigarWalker(rec.Cigar, rec.Pos)
}

// NewCigarWalker is NewWalker for a bare CIGAR starting at the given
// reference position.
func NewCigarWalker(cig sam.Cigar, start int) (*Walker, error) {
	if err := Validate(cig); err != nil {
		return nil, err
	}
	return &Walker{cig: cig, start: start, end: start + RefSpan(cig)}, nil
}

// Start returns the 0-based reference start of the walked record.
func (w *Walker) Start() int { return w.start }

// End returns the 0-based exclusive reference end.  End == Start for records
// with no reference-consuming runs.
func (w *Walker) End() int { return w.end }

// locate advances (or restarts) the cursor until the run at opIdx contains
// reference-relative offset k, and returns its index.
//
// REQUIRES: 0 <= k < w.end-w.start, which guarantees a containing run.
func (w *Walker) locate(k int) int {
	if k < w.refOff {
		w.opIdx, w.refOff, w.queryOff = 0, 0, 0
	}
	for {
		co := w.cig[w.opIdx]
		n := co.Len()
		consumes := co.Type().Consumes()
		if consumes.Reference > 0 && k < w.refOff+n {
			return w.opIdx
		}
		w.refOff += n * consumes.Reference
		w.queryOff += n * consumes.Query
		w.opIdx++
	}
}

// StateAt returns the alignment state at the given reference position.
// Positions outside [Start, End) yield align.ErrOutOfRange.
func (w *Walker) StateAt(pos int) (State, error) {
	k := pos - w.start
	if k < 0 || pos >= w.end {
		return State{}, errors.Wrapf(align.ErrOutOfRange,
			"position %d outside record span [%d,%d)", pos, w.start, w.end)
	}
	idx := w.locate(k)
	return stateInRun(w.cig[idx], k, w.refOff, w.queryOff), nil
}

// IndelAt reports the indel event, if any, beginning at the given reference
// position: an insertion is reported at the reference position immediately
// preceding the inserted bases, and a deletion at its first deleted
// reference position.  Positions outside the record span report IndelNone.
func (w *Walker) IndelAt(pos int) Indel {
	k := pos - w.start
	if k < 0 || pos >= w.end {
		return Indel{}
	}
	idx := w.locate(k)
	co := w.cig[idx]
	switch co.Type() {
	case sam.CigarDeletion:
		if k == w.refOff {
			return Indel{Kind: IndelDeletion, Len: co.Len()}
		}
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
		if k == w.refOff+co.Len()-1 {
			// Padding separates the components of a multiple alignment; an
			// insertion on its far side still follows this position.
			for j := idx + 1; j < len(w.cig); j++ {
				switch w.cig[j].Type() {
				case sam.CigarPadded:
					continue
				case sam.CigarInsertion:
					return Indel{Kind: IndelInsertion, Len: w.cig[j].Len()}
				}
				break
			}
		}
	}
	return Indel{}
}
