// Copyright 2019 Strand Biosciences.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pileup

import (
	"github.com/grailbio/hts/sam"

	"github.com/strandbio/align/cigar"
)

// Pile is the pileup column of one reference position: every alignment
// overlapping it, in admission order (ascending start, ties in storage
// order).  Alignments sitting in a deletion or reference skip at the
// position are listed too; only Depth excludes them.
type Pile struct {
	RefID      int
	Pos        int
	Alignments []Alignment
}

// Depth returns the number of alignments contributing a base at this
// position.  Deletion and reference-skip states are listed in Alignments
// but not counted here; depth is a derived value, not a distinct state.
func (p *Pile) Depth() int {
	n := 0
	for i := range p.Alignments {
		if p.Alignments[i].state.Kind == cigar.StateBase {
			n++
		}
	}
	return n
}

// Alignment is one record's view at one pileup position.  It borrows the
// record from the engine's active set; the reference is valid only for the
// lifetime of the Pile that contains it.
type Alignment struct {
	rec   *sam.Record
	state cigar.State
	indel cigar.Indel
}

// Record returns the underlying record, for on-demand field lookup (query
// sequence, base qualities, flags).  Callers must not retain it past the
// current Pile.
func (a *Alignment) Record() *sam.Record {
	return a.rec
}

// QueryPos returns the 0-based offset into the query sequence aligned to
// this position, and whether such a base exists.  It is absent inside
// deletions and reference skips.
func (a *Alignment) QueryPos() (int, bool) {
	if a.state.Kind != cigar.StateBase {
		return 0, false
	}
	return a.state.QueryPos, true
}

// IsDeletion reports whether this position falls in a deletion of the
// record.
func (a *Alignment) IsDeletion() bool {
	return a.state.Kind == cigar.StateDeletion
}

// IsRefSkip reports whether this position falls in a reference skip of the
// record.
func (a *Alignment) IsRefSkip() bool {
	return a.state.Kind == cigar.StateRefSkip
}

// Indel reports the indel event beginning at this position: an insertion
// between this and the next reference position, or a deletion whose first
// deleted base is here.
func (a *Alignment) Indel() cigar.Indel {
	return a.indel
}
