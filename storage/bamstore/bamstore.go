// Package bamstore implements the storage contract over indexed BAM files.
//
// Decompression and record decoding are done by github.com/grailbio/hts;
// this package only adapts its readers to the Backend/RecordStream contract
// and selects between the two index flavors by file suffix: a binning index
// (.bai) or a positional sidecar (.pai).
package bamstore

import (
	"io"
	"strings"
	"sync"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/strandbio/align"
	"github.com/strandbio/align/index"
	"github.com/strandbio/align/storage"
)

// Backend reads one BAM file and its index.  Paths may be anything
// grailbio/base/file understands, including S3 URLs.  Thread safe.
type Backend struct {
	// Path of the *.bam file.  Must be nonempty.
	Path string
	// IndexPath of the index.  If "", Path + ".bai".
	IndexPath string

	mu     sync.Mutex
	header *sam.Header
	idx    index.Lookuper
}

// Open is a convenience constructor.
func Open(path, indexPath string) *Backend {
	return &Backend{Path: path, IndexPath: indexPath}
}

func (b *Backend) indexPath() string {
	if b.IndexPath == "" {
		return b.Path + ".bai"
	}
	return b.IndexPath
}

// Header implements storage.Backend.
func (b *Backend) Header() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		return nil, errors.Wrapf(align.ErrStorage, "open %s: %v", b.Path, err)
	}
	defer in.Close(ctx) // nolint: errcheck
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.Wrapf(align.ErrStorage, "reading %s header: %v", b.Path, err)
	}
	defer r.Close() // nolint: errcheck
	b.header = r.Header()
	return b.header, nil
}

// Index implements storage.Backend.  The parsed index is cached; it is
// immutable and shared by every sweep against this backend.
func (b *Backend) Index() (index.Lookuper, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx != nil {
		return b.idx, nil
	}
	path := b.indexPath()
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(align.ErrIndexMissing, "open %s: %v", path, err)
	}
	defer in.Close(ctx) // nolint: errcheck
	if strings.HasSuffix(path, ".pai") {
		p, err := index.ReadPositional(in.Reader(ctx))
		if err != nil {
			return nil, err
		}
		b.idx = p
		return b.idx, nil
	}
	idx, err := index.Read(in.Reader(ctx))
	if err != nil {
		return nil, err
	}
	b.idx = idx
	return b.idx, nil
}

// StreamFrom implements storage.Backend.  Each stream owns an independent
// reader, so concurrent sweeps never share seek state.
func (b *Backend) StreamFrom(offset bgzf.Offset) (storage.RecordStream, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		return nil, errors.Wrapf(align.ErrStorage, "open %s: %v", b.Path, err)
	}
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		_ = in.Close(ctx)
		return nil, errors.Wrapf(align.ErrStorage, "open %s reader: %v", b.Path, err)
	}
	if offset.File != 0 || offset.Block != 0 {
		if err := r.Seek(offset); err != nil {
			_ = r.Close()
			_ = in.Close(ctx)
			return nil, errors.Wrapf(align.ErrStorage, "seek %s to %+v: %v", b.Path, offset, err)
		}
	}
	return &stream{in: in, reader: r}, nil
}

// Close implements storage.Backend.  The backend holds no long-lived
// handles; streams own theirs.
func (b *Backend) Close() error {
	return nil
}

type stream struct {
	in     file.File
	reader *bam.Reader
	rec    *sam.Record
	err    error
	done   bool
}

// Scan implements storage.RecordStream.
func (s *stream) Scan() bool {
	if s.err != nil || s.done {
		return false
	}
	rec, err := s.reader.Read()
	if err == io.EOF {
		s.done = true
		return false
	}
	if err != nil {
		s.err = errors.Wrapf(align.ErrStorage, "reading record: %v", err)
		return false
	}
	s.rec = rec
	return true
}

// Record implements storage.RecordStream.
func (s *stream) Record() *sam.Record {
	return s.rec
}

// LastOffset implements storage.RecordStream.
func (s *stream) LastOffset() bgzf.Offset {
	return s.reader.LastChunk().Begin
}

// Err implements storage.RecordStream.
func (s *stream) Err() error {
	return s.err
}

// Close implements storage.RecordStream.
func (s *stream) Close() error {
	if err := s.reader.Close(); err != nil && s.err == nil {
		s.err = errors.Wrapf(align.ErrStorage, "closing reader: %v", err)
	}
	if err := s.in.Close(vcontext.Background()); err != nil && s.err == nil {
		s.err = errors.Wrapf(align.ErrStorage, "closing %s: %v", s.in.Name(), err)
	}
	return s.err
}
