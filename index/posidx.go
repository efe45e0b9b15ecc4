package index

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/grailbio/hts/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/strandbio/align"
)

// Positional is an alternate index flavor: a flat, gzip-compressed list of
// (reference, position, sequence number) -> virtual offset samples, sorted
// ascending in both keys.  It trades the binning hierarchy for uniform seek
// granularity: where the binning index cannot address inside a 16 kbp
// window, a Positional index can be sampled at any byte interval.
//
// Positional implements Lookuper by returning one open-ended chunk starting
// at the sample at or before the queried start; the region cursor's
// sorted-start early stop bounds the scan on the far side.
type Positional []PosEntry

// PosEntry is one index sample.  RefID -1 marks the unmapped section at the
// end of the file.
type PosEntry struct {
	RefID   int32
	Pos     int32
	Seq     uint32
	VOffset uint64
}

var posMagic = []byte{
	'A', 'P', 'X', 0x01, 0x3d, 0x91, 0x5e, 0xa0,
	0x46, 0x12, 0xf3, 0x8b, 0x77, 0x04, 0xc9, 0x2e,
}

func comparePosEntry(x, y *PosEntry) int {
	if x.RefID != y.RefID {
		// The unmapped section sorts last.
		if x.RefID < 0 && y.RefID >= 0 {
			return 1
		} else if x.RefID >= 0 && y.RefID < 0 {
			return -1
		}
		return int(x.RefID) - int(y.RefID)
	}
	if x.Pos != y.Pos {
		return int(x.Pos) - int(y.Pos)
	}
	return int(x.Seq) - int(y.Seq)
}

// RecordOffset returns a storage offset from which reading forward reaches
// the records at the target position.  If reading from the returned offset
// immediately yields a record past the target, the target position is absent
// from the file.
func (p Positional) RecordOffset(refID, pos int32, seq uint32) bgzf.Offset {
	target := PosEntry{RefID: refID, Pos: pos, Seq: seq}
	x := sort.Search(len(p), func(i int) bool {
		return comparePosEntry(&p[i], &target) >= 0
	})
	if x == len(p) {
		return ToOffset(p[x-1].VOffset)
	}
	if comparePosEntry(&p[x], &target) > 0 && x > 0 {
		x--
	}
	return ToOffset(p[x].VOffset)
}

// Lookup implements Lookuper.
func (p Positional) Lookup(refID, start, end int) ([]Chunk, error) {
	if refID < 0 {
		return nil, errors.Wrapf(align.ErrUnknownReference, "reference %d", refID)
	}
	if start > end {
		return nil, errors.Wrapf(align.ErrInvalidRegion, "start %d > end %d", start, end)
	}
	if start < 0 {
		start = 0
	}
	if len(p) == 0 || start >= end {
		return nil, nil
	}
	begin := p.RecordOffset(int32(refID), int32(start), 0)
	return []Chunk{{Begin: begin, End: MaxOffset}}, nil
}

// ReadPositional parses a serialized Positional index.  Malformed or
// out-of-order input yields align.ErrIndexCorrupt.
func ReadPositional(r io.Reader) (Positional, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "opening positional index: %v", err)
	}
	defer gz.Close() // nolint: errcheck

	magic := make([]byte, len(posMagic))
	if _, err := io.ReadFull(gz, magic); err != nil {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "reading magic: %v", err)
	}
	if !bytes.Equal(magic, posMagic) {
		return nil, errors.Wrapf(align.ErrIndexCorrupt, "bad positional index magic %x", magic)
	}

	var p Positional
	for i := 0; ; i++ {
		var entry PosEntry
		if err := binary.Read(gz, binary.LittleEndian, &entry); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrapf(align.ErrIndexCorrupt, "reading entry %d: %v", i, err)
		}
		if i > 0 {
			prev := &p[i-1]
			if comparePosEntry(prev, &entry) >= 0 {
				return nil, errors.Wrapf(align.ErrIndexCorrupt,
					"entry positions out of order: %v then %v", *prev, entry)
			}
			if prev.VOffset >= entry.VOffset {
				return nil, errors.Wrapf(align.ErrIndexCorrupt,
					"entry offsets out of order: %v then %v", *prev, entry)
			}
		}
		p = append(p, entry)
	}
	return p, nil
}

// PositionalWriter serializes a Positional index.
type PositionalWriter struct {
	gz      *gzip.Writer
	started bool
}

// NewPositionalWriter returns a writer whose Append calls must supply
// entries in ascending (ref, pos, seq) and offset order.
func NewPositionalWriter(w io.Writer) *PositionalWriter {
	return &PositionalWriter{gz: gzip.NewWriter(w)}
}

// Append writes one entry.
func (w *PositionalWriter) Append(entry *PosEntry) error {
	if !w.started {
		if _, err := w.gz.Write(posMagic); err != nil {
			return err
		}
		w.started = true
	}
	return binary.Write(w.gz, binary.LittleEndian, entry)
}

// Close flushes the compressed stream.  It does not close the underlying
// writer.
func (w *PositionalWriter) Close() error {
	if !w.started {
		if _, err := w.gz.Write(posMagic); err != nil {
			return err
		}
	}
	return w.gz.Close()
}
