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

package pileup_test

import (
	"testing"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/pkg/errors"

	"github.com/strandbio/align"
	"github.com/strandbio/align/cigar"
	"github.com/strandbio/align/pileup"
	"github.com/strandbio/align/query"
	"github.com/strandbio/align/storage/memstore"
)

func newRef(t *testing.T, name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	assert.NoError(t, err)
	return ref
}

func newRec(name string, ref *sam.Reference, pos int, ops ...sam.CigarOp) *sam.Record {
	return &sam.Record{
		Name:  name,
		Ref:   ref,
		Pos:   pos,
		MapQ:  60,
		Cigar: sam.Cigar(ops),
	}
}

func match(n int) sam.CigarOp { return sam.NewCigarOp(sam.CigarMatch, n) }
func del(n int) sam.CigarOp   { return sam.NewCigarOp(sam.CigarDeletion, n) }
func ins(n int) sam.CigarOp   { return sam.NewCigarOp(sam.CigarInsertion, n) }

func backend(t *testing.T, length int, recs ...*sam.Record) *memstore.Backend {
	chr1 := newRef(t, "chr1", length)
	for _, rec := range recs {
		if rec.Ref == nil && rec.Flags&sam.Unmapped == 0 {
			rec.Ref = chr1
		}
	}
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	assert.NoError(t, err)
	return memstore.New(header, recs, memstore.Opts{})
}

type column struct {
	pos   int
	depth int
	names []string
}

func sweep(t *testing.T, src pileup.Source) []column {
	gen := pileup.NewGenerator(src)
	var cols []column
	for gen.Scan() {
		p := gen.Pile()
		col := column{pos: p.Pos, depth: p.Depth()}
		for i := range p.Alignments {
			col.names = append(col.names, p.Alignments[i].Record().Name)
		}
		cols = append(cols, col)
	}
	assert.NoError(t, gen.Err())
	return cols
}

func TestDepthBoundaries(t *testing.T) {
	// r1 covers [100,105), r2 covers [102,107).
	b := backend(t, 1000,
		newRec("r1", nil, 100, match(5)),
		newRec("r2", nil, 102, match(5)),
	)
	cols := sweep(t, query.Region(b, 0, 0, 1000))
	assert.EQ(t, len(cols), 7)

	wantDepth := map[int]int{100: 1, 101: 1, 102: 2, 103: 2, 104: 2, 105: 1, 106: 1}
	for _, col := range cols {
		assert.EQ(t, col.depth, wantDepth[col.pos], "pos", col.pos)
	}
	assert.EQ(t, cols[0].pos, 100)
	assert.EQ(t, cols[len(cols)-1].pos, 106)
	assert.EQ(t, cols[2].names, []string{"r1", "r2"})
}

func TestDeletionListedNotCounted(t *testing.T) {
	// r1 deletes [3,5); r2 matches straight through.
	b := backend(t, 1000,
		newRec("r1", nil, 0, match(3), del(2), match(3)),
		newRec("r2", nil, 0, match(8)),
	)
	gen := pileup.NewGenerator(query.Region(b, 0, 0, 1000))
	byPos := map[int]*pileup.Pile{}
	for gen.Scan() {
		p := gen.Pile()
		cp := *p
		cp.Alignments = append([]pileup.Alignment(nil), p.Alignments...)
		byPos[p.Pos] = &cp
	}
	assert.NoError(t, gen.Err())
	assert.EQ(t, len(byPos), 8)

	for pos := 3; pos <= 4; pos++ {
		p := byPos[pos]
		assert.EQ(t, len(p.Alignments), 2, "pos", pos)
		assert.EQ(t, p.Depth(), 1, "pos", pos)
		assert.True(t, p.Alignments[0].IsDeletion())
		_, ok := p.Alignments[0].QueryPos()
		assert.False(t, ok)
		q, ok := p.Alignments[1].QueryPos()
		assert.True(t, ok)
		assert.EQ(t, q, pos)
	}

	// The deletion event is reported once, at its first deleted position.
	assert.EQ(t, byPos[3].Alignments[0].Indel(),
		cigar.Indel{Kind: cigar.IndelDeletion, Len: 2})
	assert.EQ(t, byPos[4].Alignments[0].Indel(), cigar.Indel{})

	assert.EQ(t, byPos[2].Depth(), 2)
	assert.EQ(t, byPos[5].Depth(), 2)
}

func TestInsertion(t *testing.T) {
	b := backend(t, 1000, newRec("r1", nil, 100, match(5), ins(2), match(3)))
	gen := pileup.NewGenerator(query.Region(b, 0, 0, 1000))
	var sawIndel, sawAfter bool
	for gen.Scan() {
		p := gen.Pile()
		a := &p.Alignments[0]
		switch p.Pos {
		case 104:
			assert.EQ(t, a.Indel(), cigar.Indel{Kind: cigar.IndelInsertion, Len: 2})
			sawIndel = true
		case 105:
			q, ok := a.QueryPos()
			assert.True(t, ok)
			assert.EQ(t, q, 7)
			sawAfter = true
		default:
			assert.EQ(t, a.Indel(), cigar.Indel{}, "pos", p.Pos)
		}
	}
	assert.NoError(t, gen.Err())
	assert.True(t, sawIndel)
	assert.True(t, sawAfter)
}

func TestSkipForward(t *testing.T) {
	b := backend(t, 100000,
		newRec("r1", nil, 100, match(2)),
		newRec("r2", nil, 50000, match(2)),
	)
	cols := sweep(t, query.Region(b, 0, 0, 100000))
	var positions []int
	for _, col := range cols {
		positions = append(positions, col.pos)
	}
	assert.EQ(t, positions, []int{100, 101, 50000, 50001})
}

func TestEmptyRegion(t *testing.T) {
	b := backend(t, 1000, newRec("r1", nil, 100, match(5)))
	cols := sweep(t, query.Region(b, 0, 500, 600))
	assert.EQ(t, len(cols), 0)
}

func TestSweepStartsAtRecordStart(t *testing.T) {
	// A sweep over a region query begins at the start of the first
	// delivered record, which may precede the region itself.
	b := backend(t, 1000, newRec("r1", nil, 100, match(3), del(2), match(5)))
	gen := pileup.NewGenerator(query.Region(b, 0, 104, 106))
	assert.True(t, gen.Scan())
	p := gen.Pile()
	assert.EQ(t, p.Pos, 100)
	assert.EQ(t, p.Depth(), 1)
}

func TestMalformedRecordDropped(t *testing.T) {
	b := backend(t, 1000,
		newRec("r1", nil, 100, match(5)),
		newRec("bad", nil, 101, match(0)),
		newRec("r2", nil, 102, match(5)),
	)
	cols := sweep(t, query.Region(b, 0, 0, 1000))

	gen := pileup.NewGenerator(query.Region(b, 0, 0, 1000))
	for gen.Scan() {
	}
	assert.NoError(t, gen.Err())
	assert.EQ(t, gen.Dropped(), 1)

	// The malformed record contributes to no column; the sweep continues.
	for _, col := range cols {
		for _, name := range col.names {
			assert.True(t, name != "bad", "pos", col.pos)
		}
	}
	assert.EQ(t, len(cols), 7)
	assert.EQ(t, cols[2].depth, 2) // pos 102: r1 and r2
}

func TestZeroSpanRecordSkipped(t *testing.T) {
	b := backend(t, 1000,
		newRec("r1", nil, 100, match(3)),
		newRec("insonly", nil, 101, ins(4)),
	)
	cols := sweep(t, query.Region(b, 0, 0, 1000))
	assert.EQ(t, len(cols), 3)
	for _, col := range cols {
		assert.EQ(t, col.names, []string{"r1"})
	}
}

func TestStorageErrorAborts(t *testing.T) {
	chr1 := newRef(t, "chr1", 1000)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	assert.NoError(t, err)
	recs := []*sam.Record{
		newRec("r1", chr1, 100, match(5)),
		newRec("r2", chr1, 101, match(5)),
		newRec("r3", chr1, 102, match(5)),
	}
	b := memstore.New(header, recs, memstore.Opts{RecordsPerChunk: 16, FailAt: 2})

	gen := pileup.NewGenerator(query.Region(b, 0, 0, 1000))
	for gen.Scan() {
	}
	assert.NotNil(t, gen.Err())
	assert.EQ(t, errors.Cause(gen.Err()), align.ErrStorage)
}

func TestEarlyTermination(t *testing.T) {
	b := backend(t, 1000,
		newRec("r1", nil, 100, match(10)),
		newRec("r2", nil, 105, match(10)),
	)
	var n int
	err := pileup.Sweep(query.Region(b, 0, 0, 1000), func(p *pileup.Pile) bool {
		n++
		return n < 3
	})
	assert.NoError(t, err)
	assert.EQ(t, n, 3)
}

func TestCrossReference(t *testing.T) {
	// A whole-file sweep over a raw backend stream follows the records onto
	// the next reference once the active set drains; trailing unmapped
	// records pile nowhere.
	chr1 := newRef(t, "chr1", 1000)
	chr2 := newRef(t, "chr2", 1000)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	assert.NoError(t, err)
	b := memstore.New(header, []*sam.Record{
		newRec("r1", chr1, 500, match(2)),
		newRec("r2", chr2, 7, match(2)),
		{Name: "u1", Pos: -1, Flags: sam.Unmapped},
	}, memstore.Opts{})

	src, err := b.StreamFrom(bgzf.Offset{})
	assert.NoError(t, err)
	gen := pileup.NewGenerator(src)
	type refPos struct{ refID, pos int }
	var got []refPos
	for gen.Scan() {
		p := gen.Pile()
		got = append(got, refPos{p.RefID, p.Pos})
	}
	assert.NoError(t, gen.Err())
	assert.EQ(t, got, []refPos{{0, 500}, {0, 501}, {1, 7}, {1, 8}})
	assert.NoError(t, src.Close())
}

func TestSweepOrdering(t *testing.T) {
	// Ties at the same start keep storage order in the column.
	b := backend(t, 1000,
		newRec("first", nil, 100, match(4)),
		newRec("second", nil, 100, match(4)),
		newRec("third", nil, 102, match(4)),
	)
	cols := sweep(t, query.Region(b, 0, 0, 1000))
	assert.True(t, len(cols) > 0)
	assert.EQ(t, cols[0].names, []string{"first", "second"})
	assert.EQ(t, cols[2].names, []string{"first", "second", "third"})

	prev := -1
	for _, col := range cols {
		assert.True(t, col.pos > prev, "pos", col.pos, "after", prev)
		prev = col.pos
	}
}
