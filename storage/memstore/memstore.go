// Package memstore is an in-memory storage backend over a fixed record set.
//
// It exists for tests and for small record collections that never touch
// disk: records are addressed by synthetic virtual offsets (the record
// ordinal in the File field), and a real bin/linear region index is built
// over them, so the exact index/query/pileup code paths used with file
// backends run unchanged.
package memstore

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/strandbio/align"
	"github.com/strandbio/align/coord"
	"github.com/strandbio/align/index"
	"github.com/strandbio/align/storage"
)

const linearWindowShift = 14

// Opts controls backend construction.
type Opts struct {
	// RecordsPerChunk caps how many consecutive same-bin records share one
	// index chunk.  Smaller values make the index finer-grained.  Default 1.
	RecordsPerChunk int

	// NoIndex makes Index return align.ErrIndexMissing.
	NoIndex bool

	// FailAt, if positive, makes streams fail with align.ErrStorage when
	// they reach the record with that ordinal.
	FailAt int
}

// Backend implements storage.Backend over recs, which must be sorted by
// (reference, position) with unmapped records last.
type Backend struct {
	header *sam.Header
	recs   []*sam.Record
	idx    *index.Index
	trees  []llrb.Tree // per reference, keyed by record span
	opts   Opts
}

// spanKey orders records by start position, ties by storage ordinal.
type spanKey struct {
	start int
	ord   int
	rec   *sam.Record
}

// Compare implements llrb.Comparable.
func (k spanKey) Compare(c llrb.Comparable) int {
	k2 := c.(spanKey)
	if k.start != k2.start {
		return k.start - k2.start
	}
	return k.ord - k2.ord
}

// New builds a backend over recs.  It panics on out-of-order input; the
// memory backend is the storage-order contract's reference implementation
// and will not silently weaken it.
func New(header *sam.Header, recs []*sam.Record, opts Opts) *Backend {
	if opts.RecordsPerChunk <= 0 {
		opts.RecordsPerChunk = 1
	}
	b := &Backend{
		header: header,
		recs:   recs,
		trees:  make([]llrb.Tree, len(header.Refs())),
		opts:   opts,
	}
	prev := coord.Coord{RefID: 0, Pos: -1}
	for ord, rec := range recs {
		addr := coord.Coord{RefID: int32(rec.Ref.ID()), Pos: int32(rec.Pos)}
		if addr.Compare(prev) < 0 {
			vlog.Panicf("memstore: record %d out of order: %v after %v", ord, addr, prev)
		}
		prev = addr
		if refID := rec.Ref.ID(); refID >= 0 {
			b.trees[refID].Insert(spanKey{start: rec.Pos, ord: ord, rec: rec})
		}
	}
	b.idx = buildIndex(header, recs, opts.RecordsPerChunk)
	return b
}

// Header implements storage.Backend.
func (b *Backend) Header() (*sam.Header, error) {
	return b.header, nil
}

// Index implements storage.Backend.
func (b *Backend) Index() (index.Lookuper, error) {
	if b.opts.NoIndex {
		return nil, errors.Wrap(align.ErrIndexMissing, "memstore")
	}
	return b.idx, nil
}

// RegionIndex returns the concrete bin index, for tests that need its
// structure rather than the Lookuper contract.
func (b *Backend) RegionIndex() *index.Index {
	return b.idx
}

// StreamFrom implements storage.Backend.
func (b *Backend) StreamFrom(offset bgzf.Offset) (storage.RecordStream, error) {
	ord := int(offset.File)
	if ord < 0 {
		ord = 0
	}
	return &stream{b: b, next: ord}, nil
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	return nil
}

// Overlapping returns every record whose span intersects [start, end) on
// refID.  It answers from the per-reference span tree, independent of the
// bin index, which makes it the oracle that region-query tests compare
// against.
func (b *Backend) Overlapping(refID, start, end int) []*sam.Record {
	if refID < 0 || refID >= len(b.trees) || start >= end {
		return nil
	}
	var out []*sam.Record
	b.trees[refID].DoRange(func(item llrb.Comparable) bool {
		k := item.(spanKey)
		if k.rec.End() > start {
			out = append(out, k.rec)
		}
		return false
	}, spanKey{start: 0, ord: -1}, spanKey{start: end, ord: -1})
	return out
}

// BuildPositional samples every interval-th position change per reference
// into a Positional index over the same synthetic offsets.
func (b *Backend) BuildPositional(interval int) index.Positional {
	if interval <= 0 {
		interval = 1
	}
	var p index.Positional
	prevRefID := int32(-2)
	sincePrev := 0
	for ord, rec := range b.recs {
		refID := int32(rec.Ref.ID())
		if refID < 0 {
			break
		}
		if refID != prevRefID || sincePrev >= interval {
			p = append(p, index.PosEntry{
				RefID:   refID,
				Pos:     int32(rec.Pos),
				VOffset: index.FromOffset(bgzf.Offset{File: int64(ord)}),
			})
			prevRefID = refID
			sincePrev = 0
			continue
		}
		sincePrev++
	}
	return p
}

// stream yields b.recs[next:], one record per Scan.
type stream struct {
	b    *Backend
	next int
	cur  *sam.Record
	err  error
}

// Scan implements storage.RecordStream.
func (s *stream) Scan() bool {
	if s.err != nil || s.next >= len(s.b.recs) {
		return false
	}
	if f := s.b.opts.FailAt; f > 0 && s.next == f {
		s.err = errors.Wrapf(align.ErrStorage, "memstore: injected read failure at record %d", f)
		return false
	}
	// Hand out a copy so callers cannot alter the backing test data.
	cur := sam.GetFromFreePool()
	*cur = *s.b.recs[s.next]
	s.cur = cur
	s.next++
	return true
}

// Record implements storage.RecordStream.
func (s *stream) Record() *sam.Record {
	return s.cur
}

// LastOffset implements storage.RecordStream.
func (s *stream) LastOffset() bgzf.Offset {
	return bgzf.Offset{File: int64(s.next - 1)}
}

// Err implements storage.RecordStream.
func (s *stream) Err() error {
	return s.err
}

// Close implements storage.RecordStream.
func (s *stream) Close() error {
	return s.err
}

func buildIndex(header *sam.Header, recs []*sam.Record, perChunk int) *index.Index {
	idx := &index.Index{Refs: make([]index.Reference, len(header.Refs()))}
	var unmapped uint64
	seen := make([][]bool, len(header.Refs()))
	for refID := range idx.Refs {
		n := (header.Refs()[refID].Len()-1)>>linearWindowShift + 1
		if n < 1 {
			n = 1
		}
		idx.Refs[refID].Intervals = make([]bgzf.Offset, n)
		seen[refID] = make([]bool, n)
	}
	for ord, rec := range recs {
		refID := rec.Ref.ID()
		if refID < 0 {
			unmapped++
			continue
		}
		ref := &idx.Refs[refID]
		start := rec.Pos
		end := rec.End()
		if end <= start {
			end = start + 1
		}
		addChunk(ref, index.BinFor(start, end), ord, perChunk)
		off := bgzf.Offset{File: int64(ord)}
		for w := start >> linearWindowShift; w <= (end-1)>>linearWindowShift && w < len(ref.Intervals); w++ {
			if !seen[refID][w] {
				ref.Intervals[w] = off
				seen[refID][w] = true
			}
		}
		ref.Meta.MappedCount++
	}
	idx.UnmappedCount = &unmapped
	return idx
}

// addChunk appends record ordinal ord to the bin, extending the bin's last
// chunk while the run stays contiguous and under perChunk records.
func addChunk(ref *index.Reference, binNum uint32, ord, perChunk int) {
	for i := range ref.Bins {
		if ref.Bins[i].Num != binNum {
			continue
		}
		chunks := ref.Bins[i].Chunks
		last := &chunks[len(chunks)-1]
		if last.End.File == int64(ord) && int(int64(ord)-last.Begin.File) < perChunk {
			last.End.File = int64(ord) + 1
			return
		}
		ref.Bins[i].Chunks = append(chunks, index.Chunk{
			Begin: bgzf.Offset{File: int64(ord)},
			End:   bgzf.Offset{File: int64(ord) + 1},
		})
		return
	}
	ref.Bins = append(ref.Bins, index.Bin{
		Num: binNum,
		Chunks: []index.Chunk{{
			Begin: bgzf.Offset{File: int64(ord)},
			End:   bgzf.Offset{File: int64(ord) + 1},
		}},
	})
}
