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

// Package pileup sweeps a reference-position cursor across a stream of
// coordinate-sorted alignment records and reports, at every covered
// position, the set of records overlapping it together with each record's
// local CIGAR state.
//
// Problem:
// Given records sorted by (reference, start), we want per-position columns
// without ever holding more than the records that overlap the current
// position.  A record enters the active set when the sweep reaches its
// start, and leaves once the sweep passes its end.  Positions covered by no
// record are skipped in one jump rather than visited one base at a time, so
// a sweep over a sparse region costs O(records + covered positions), not
// O(reference length).
package pileup

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/strandbio/align/cigar"
)

// Source yields the coordinate-sorted records of one sweep.  *query.Cursor
// and storage.RecordStream both satisfy it.
type Source interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

// Generator produces one Pile per covered reference position, in ascending
// position order.  Use:
//
//	gen := pileup.NewGenerator(cursor)
//	for gen.Scan() {
//		pile := gen.Pile()
//		...
//	}
//	if err := gen.Err(); err != nil { ... }
//
// The generator pulls lazily: stopping early costs nothing beyond the
// records already admitted.  A Generator sweeps once; it is not restartable.
type Generator struct {
	src Source

	state   sweepState
	refID   int
	pos     int
	active  []activeEntry
	pending *sam.Record // next record not yet admitted
	srcDone bool

	pile    Pile
	err     error
	dropped int
}

type sweepState int

const (
	stateIdle sweepState = iota
	stateSweeping
	stateExhausted
)

// activeEntry pairs an admitted record with its resident CIGAR cursor.  The
// entry owns the record until eviction.
type activeEntry struct {
	rec    *sam.Record
	walker *cigar.Walker
}

// NewGenerator returns a Generator sweeping the records of src.
func NewGenerator(src Source) *Generator {
	return &Generator{src: src}
}

// Scan advances the sweep to the next covered position, returning false once
// the source is drained and the active set empty, or on error.
func (g *Generator) Scan() bool {
	if g.err != nil || g.state == stateExhausted {
		return false
	}
	if g.state == stateIdle {
		if !g.fetch() {
			g.state = stateExhausted
			return false
		}
		g.refID = g.pending.Ref.ID()
		g.pos = g.pending.Pos
		g.state = stateSweeping
	} else {
		g.pos++
	}
	for {
		g.evict()
		g.admit()
		if len(g.active) != 0 {
			break
		}
		if g.pending == nil {
			if g.err == nil {
				g.state = stateExhausted
			}
			return false
		}
		// Nothing overlaps the current position: jump to the next pending
		// record instead of walking uncovered bases.
		g.refID = g.pending.Ref.ID()
		g.pos = g.pending.Pos
	}
	g.buildPile()
	return true
}

// Pile returns the current column.  Valid only after a Scan that returned
// true; the column and its alignment entries are reused by the next Scan.
func (g *Generator) Pile() *Pile {
	return &g.pile
}

// Err returns the error that aborted the sweep, or nil.
func (g *Generator) Err() error {
	return g.err
}

// Dropped returns the number of malformed records skipped during admission.
func (g *Generator) Dropped() int {
	return g.dropped
}

// fetch loads the next admissible record into g.pending, skipping records
// with no alignment geometry.  Returns false when the source is drained or
// fails.
func (g *Generator) fetch() bool {
	g.pending = nil
	if g.srcDone {
		return false
	}
	for g.src.Scan() {
		rec := g.src.Record()
		if rec.Ref.ID() < 0 || len(rec.Cigar) == 0 {
			// Unmapped records pile on no position.
			continue
		}
		g.pending = rec
		return true
	}
	g.srcDone = true
	if err := g.src.Err(); err != nil {
		g.err = errors.Wrap(err, "pileup: record source failed")
	}
	return false
}

// evict drops every active entry whose span no longer reaches the current
// position.
func (g *Generator) evict() {
	kept := g.active[:0]
	for _, e := range g.active {
		if e.walker.End() > g.pos {
			kept = append(kept, e)
		}
	}
	g.active = kept
}

// admit moves pending records starting at (or, on the first position of a
// sweep, before) the current position into the active set.  A record whose
// CIGAR violates the storage contract is dropped here; the sweep continues.
func (g *Generator) admit() {
	for g.pending != nil && g.pending.Ref.ID() == g.refID && g.pending.Pos <= g.pos {
		rec := g.pending
		w, err := cigar.NewWalker(rec)
		switch {
		case err != nil:
			g.dropped++
			log.Printf("pileup: dropping record %s: %v", rec.Name, err)
		case w.End() <= w.Start():
			// Zero reference span (e.g. all-insertion): overlaps nothing.
		case w.End() > g.pos:
			g.active = append(g.active, activeEntry{rec: rec, walker: w})
		}
		if !g.fetch() {
			return
		}
	}
}

func (g *Generator) buildPile() {
	g.pile.RefID = g.refID
	g.pile.Pos = g.pos
	g.pile.Alignments = g.pile.Alignments[:0]
	for i := range g.active {
		e := &g.active[i]
		state, err := e.walker.StateAt(g.pos)
		if err != nil {
			// Admission and eviction bound every active span around pos.
			vlog.Panicf("active record %s does not cover position %d: %v", e.rec.Name, g.pos, err)
		}
		g.pile.Alignments = append(g.pile.Alignments, Alignment{
			rec:   e.rec,
			state: state,
			indel: e.walker.IndelAt(g.pos),
		})
	}
}

// Sweep is a convenience wrapper running a whole sweep through fn.  It stops
// early if fn returns false and then returns the generator error, if any.
func Sweep(src Source, fn func(*Pile) bool) error {
	gen := NewGenerator(src)
	for gen.Scan() {
		if !fn(gen.Pile()) {
			break
		}
	}
	if err := gen.Err(); err != nil {
		return err
	}
	if n := gen.Dropped(); n != 0 {
		log.Printf("pileup: sweep dropped %d malformed record(s)", n)
	}
	return nil
}
