// Package index maps half-open genomic intervals to the storage byte ranges
// that may contain overlapping records.
//
// Index is the binning model used by coordinate-sorted alignment files: each
// reference carries a hierarchy of power-of-two-aligned bins, each bin a
// list of storage chunks, plus a linear index of 16 kbp tiling windows.  The
// chunk set returned by Lookup is a conservative superset: it may contain
// records outside the queried interval (the region cursor filters those),
// but never misses an overlapping one.
//
// An Index is immutable after construction and safe to share across
// concurrent sweeps.
package index

import (
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/grailbio/hts/bgzf"
	"github.com/pkg/errors"

	"github.com/strandbio/align"
)

const (
	// metadataBin is the pseudo-bin number carrying per-reference metadata.
	metadataBin = 37450

	// maxRefLen is the maximum reference length representable by the bin
	// hierarchy (2^29, from the level-zero bin size).
	maxRefLen = 1 << 29

	// linearWindowSize is the tiling window of the linear index.
	linearWindowSize = 1 << 14
)

// MaxOffset sorts after every real storage offset.
var MaxOffset = bgzf.Offset{File: math.MaxInt64, Block: math.MaxUint16}

// Lookuper maps a half-open region [start, end) on a reference to an
// ascending, non-overlapping sequence of candidate storage chunks.
// Implementations must be pure: identical arguments yield identical chunk
// sequences.
type Lookuper interface {
	Lookup(refID, start, end int) ([]Chunk, error)
}

// Chunk is a byte range [Begin, End) of the underlying storage, addressed by
// virtual offsets.
type Chunk struct {
	Begin bgzf.Offset
	End   bgzf.Offset
}

// Bin is one node of the bin hierarchy.
type Bin struct {
	Num    uint32
	Chunks []Chunk
}

// Metadata is the optional per-reference record accounting.
type Metadata struct {
	UnmappedBegin uint64
	UnmappedEnd   uint64
	MappedCount   uint64
	UnmappedCount uint64
}

// Reference is the index data for one reference sequence.
type Reference struct {
	Bins      []Bin
	Intervals []bgzf.Offset
	Meta      Metadata
}

// Index is a parsed region index for one alignment file.
type Index struct {
	Refs          []Reference
	UnmappedCount *uint64
}

var indexMagic = [4]byte{'B', 'A', 'I', 0x1}

// Read parses a serialized region index.  Malformed input yields
// align.ErrIndexCorrupt.
func Read(r io.Reader) (*Index, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "reading magic: %v", err)
	}
	if magic != indexMagic {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "bad magic %q", magic[:])
	}

	var refCount int32
	if err := binary.Read(r, binary.LittleEndian, &refCount); err != nil {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "reading reference count: %v", err)
	}
	if refCount < 0 {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "negative reference count %d", refCount)
	}
	idx := &Index{Refs: make([]Reference, refCount)}
	for refID := int32(0); refID < refCount; refID++ {
		ref, err := readReference(r)
		if err != nil {
			return nil, err
		}
		idx.Refs[refID] = ref
	}

	var unmapped uint64
	if err := binary.Read(r, binary.LittleEndian, &unmapped); err == nil {
		idx.UnmappedCount = &unmapped
	} else if err != io.EOF {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "reading unmapped count: %v", err)
	}
	return idx, nil
}

func readReference(r io.Reader) (Reference, error) {
	var ref Reference
	var binCount int32
	if err := binary.Read(r, binary.LittleEndian, &binCount); err != nil {
		return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading bin count: %v", err)
	}
	ref.Bins = make([]Bin, 0, binCount)
	for b := int32(0); b < binCount; b++ {
		var binNum uint32
		if err := binary.Read(r, binary.LittleEndian, &binNum); err != nil {
			return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading bin number: %v", err)
		}
		var chunkCount int32
		if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
			return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading chunk count: %v", err)
		}
		chunks := make([]Chunk, chunkCount)
		for c := range chunks {
			var beginV, endV uint64
			if err := binary.Read(r, binary.LittleEndian, &beginV); err != nil {
				return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading chunk begin: %v", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &endV); err != nil {
				return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading chunk end: %v", err)
			}
			chunks[c] = Chunk{Begin: ToOffset(beginV), End: ToOffset(endV)}
		}
		if binNum == metadataBin {
			if len(chunks) != 2 {
				return ref, errors.Wrapf(align.ErrIndexCorrupt,
					"metadata bin has %d chunks, want 2", len(chunks))
			}
			ref.Meta = Metadata{
				UnmappedBegin: FromOffset(chunks[0].Begin),
				UnmappedEnd:   FromOffset(chunks[0].End),
				MappedCount:   FromOffset(chunks[1].Begin),
				UnmappedCount: FromOffset(chunks[1].End),
			}
			continue
		}
		ref.Bins = append(ref.Bins, Bin{Num: binNum, Chunks: chunks})
	}

	var intervalCount int32
	if err := binary.Read(r, binary.LittleEndian, &intervalCount); err != nil {
		return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading interval count: %v", err)
	}
	if intervalCount < 0 {
		return ref, errors.Wrapf(align.ErrIndexCorrupt, "negative interval count %d", intervalCount)
	}
	ref.Intervals = make([]bgzf.Offset, intervalCount)
	for i := range ref.Intervals {
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return ref, errors.Wrapf(align.ErrIndexCorrupt, "reading interval offset: %v", err)
		}
		ref.Intervals[i] = ToOffset(v)
	}
	return ref, nil
}

// Lookup implements Lookuper.  It returns the coalesced, ascending chunk
// list of every bin overlapping [start, end) on refID, pruned by the linear
// index.  Unknown refID yields align.ErrUnknownReference, start > end yields
// align.ErrInvalidRegion, and a negative start is clamped to 0.
func (idx *Index) Lookup(refID, start, end int) ([]Chunk, error) {
	if refID < 0 || refID >= len(idx.Refs) {
		return nil, errors.Wrapf(align.ErrUnknownReference, "reference %d not in index (%d references)",
			refID, len(idx.Refs))
	}
	if start > end {
		return nil, errors.Wrapf(align.ErrInvalidRegion, "start %d > end %d", start, end)
	}
	if start < 0 {
		start = 0
	}
	if end > maxRefLen {
		end = maxRefLen
	}
	if start >= end {
		return nil, nil
	}

	ref := &idx.Refs[refID]

	// Records starting before this window cannot reach [start, end); chunks
	// that end before the window's first record are dead weight.
	var floor bgzf.Offset
	if w := start / linearWindowSize; w < len(ref.Intervals) {
		floor = ref.Intervals[w]
	}

	var chunks []Chunk
	for _, binNum := range binsForRange(start, end) {
		for i := range ref.Bins {
			if ref.Bins[i].Num != binNum {
				continue
			}
			for _, c := range ref.Bins[i].Chunks {
				if OffsetLess(floor, c.End) {
					chunks = append(chunks, c)
				}
			}
		}
	}
	return coalesce(chunks), nil
}

// binsForRange returns the numbers of all bins that may hold records
// overlapping [start, end).  Derived from the C examples in the binning
// index specification.
func binsForRange(start, end int) []uint32 {
	end--
	bins := []uint32{0}
	for k := 1 + (start >> 26); k <= 1+(end>>26); k++ {
		bins = append(bins, uint32(k))
	}
	for k := 9 + (start >> 23); k <= 9+(end>>23); k++ {
		bins = append(bins, uint32(k))
	}
	for k := 73 + (start >> 20); k <= 73+(end>>20); k++ {
		bins = append(bins, uint32(k))
	}
	for k := 585 + (start >> 17); k <= 585+(end>>17); k++ {
		bins = append(bins, uint32(k))
	}
	for k := 4681 + (start >> 14); k <= 4681+(end>>14); k++ {
		bins = append(bins, uint32(k))
	}
	return bins
}

// BinFor returns the number of the smallest bin fully containing the
// half-open interval [start, end).  Derived from the C examples in the
// binning index specification.
func BinFor(start, end int) uint32 {
	end--
	switch {
	case start>>14 == end>>14:
		return uint32(4681 + (start >> 14))
	case start>>17 == end>>17:
		return uint32(585 + (start >> 17))
	case start>>20 == end>>20:
		return uint32(73 + (start >> 20))
	case start>>23 == end>>23:
		return uint32(9 + (start >> 23))
	case start>>26 == end>>26:
		return uint32(1 + (start >> 26))
	}
	return 0
}

// coalesce sorts chunks by begin offset and merges contiguous or overlapping
// neighbors, minimizing backend seeks.
func coalesce(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return nil
	}
	sort.Slice(chunks, func(i, j int) bool {
		return OffsetLess(chunks[i].Begin, chunks[j].Begin)
	})
	merged := chunks[:1]
	for _, c := range chunks[1:] {
		last := &merged[len(merged)-1]
		if OffsetLess(last.End, c.Begin) {
			merged = append(merged, c)
			continue
		}
		if OffsetLess(last.End, c.End) {
			last.End = c.End
		}
	}
	return merged
}

// OffsetLess returns true iff a addresses an earlier storage byte than b.
func OffsetLess(a, b bgzf.Offset) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Block < b.Block
}

// ToOffset unpacks a 64-bit virtual offset.
func ToOffset(v uint64) bgzf.Offset {
	return bgzf.Offset{File: int64(v >> 16), Block: uint16(v)}
}

// FromOffset packs o into its 64-bit virtual-offset form.
func FromOffset(o bgzf.Offset) uint64 {
	return uint64(o.File)<<16 | uint64(o.Block)
}
