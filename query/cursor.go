// Package query streams the alignment records that truly overlap one
// genomic region, in storage order.
//
// The region index is conservative: the chunks it returns are a superset of
// the records overlapping the query, so the per-record overlap filter here
// is load-bearing correctness, not an optimization.
package query

import (
	"github.com/grailbio/hts/sam"

	"github.com/strandbio/align/coord"
	"github.com/strandbio/align/index"
	"github.com/strandbio/align/storage"
)

// Cursor iterates over the records of one backend whose spans intersect
// [start, end) on one reference, in non-decreasing start order.  A Cursor is
// a single-use sweep: it is not resumable after exhaustion: re-issue the
// region query for a fresh one.  Thread compatible.
type Cursor struct {
	backend storage.Backend
	chunks  []index.Chunk
	refID   int
	start   int
	end     int

	chunkIdx int
	stream   storage.RecordStream
	rec      *sam.Record
	err      error
	done     bool
}

// New returns a cursor over the records in [start, end) on refID, using idx
// to choose which byte ranges of b to read.  Index lookup errors
// (align.ErrUnknownReference, align.ErrInvalidRegion) surface through Err
// and the first Scan.
func New(b storage.Backend, idx index.Lookuper, refID, start, end int) *Cursor {
	c := &Cursor{backend: b, refID: refID, start: start, end: end}
	if start < 0 {
		c.start = 0
	}
	c.chunks, c.err = idx.Lookup(refID, start, end)
	return c
}

// Region is New with the backend's own index.
func Region(b storage.Backend, refID, start, end int) *Cursor {
	idx, err := b.Index()
	if err != nil {
		return &Cursor{err: err}
	}
	return New(b, idx, refID, start, end)
}

// Scan advances the cursor to the next overlapping record, returning false
// at the end of the region or on error.
func (c *Cursor) Scan() bool {
	if c.err != nil || c.done {
		return false
	}
	limit := coord.Coord{RefID: int32(c.refID), Pos: int32(c.end)}
	for {
		if c.stream == nil {
			if c.chunkIdx == len(c.chunks) {
				c.done = true
				return false
			}
			var err error
			if c.stream, err = c.backend.StreamFrom(c.chunks[c.chunkIdx].Begin); err != nil {
				c.err = err
				return false
			}
		}
		if !c.stream.Scan() {
			c.closeStream()
			if c.err != nil {
				return false
			}
			c.chunkIdx++
			continue
		}
		rec := c.stream.Record()
		if !index.OffsetLess(c.stream.LastOffset(), c.chunks[c.chunkIdx].End) {
			// The record belongs to a later chunk; chunks were coalesced, so
			// the gap before the next one is a real skip.
			c.closeStream()
			if c.err != nil {
				return false
			}
			c.chunkIdx++
			continue
		}
		addr := coord.Coord{RefID: int32(rec.Ref.ID()), Pos: int32(rec.Pos)}
		if addr.GE(limit) {
			// Storage order within a reference is non-decreasing start, so no
			// later record can reach back into the region.
			c.closeStream()
			c.done = true
			return false
		}
		if int(addr.RefID) != c.refID || rec.End() <= c.start {
			continue
		}
		c.rec = rec
		return true
	}
}

// Record returns the current record.  Valid only after a Scan that returned
// true, and only until the next Scan call.
func (c *Cursor) Record() *sam.Record {
	return c.rec
}

// Err returns the error that stopped the sweep, or nil.  A storage failure
// ends the sweep; it is never retried here.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor and returns Err.
func (c *Cursor) Close() error {
	if c.stream != nil {
		c.closeStream()
	}
	c.done = true
	return c.err
}

func (c *Cursor) closeStream() {
	if err := c.stream.Err(); err != nil && c.err == nil {
		c.err = err
	}
	if err := c.stream.Close(); err != nil && c.err == nil {
		c.err = err
	}
	c.stream = nil
}
