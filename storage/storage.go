// Package storage defines the contract between the region-query core and
// the layer that owns file decoding: opening alignment files, reading their
// indexes, and streaming decoded records from a storage offset.
//
// The core never decompresses bytes or parses record wire formats itself;
// backends do, and in exchange they must honor one invariant: records within
// a reference are yielded in non-decreasing start order.  The region cursor
// and pileup engine are both built on that invariant.
package storage

import (
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"

	"github.com/strandbio/align/index"
)

// Backend is one open alignment store.  Implementations are safe for use by
// multiple concurrent sweeps; the streams they return are not.
//
// Failure contract: Index returns align.ErrIndexMissing or
// align.ErrIndexCorrupt; StreamFrom and stream reads return
// align.ErrStorage-classified errors.
type Backend interface {
	// Header returns the file header.  Callers must not modify it.
	Header() (*sam.Header, error)

	// Index returns the region index for this store.  The result is
	// immutable and shared; it may be cached by the backend.
	Index() (index.Lookuper, error)

	// StreamFrom returns a stream of decoded records beginning at the given
	// storage offset.
	StreamFrom(offset bgzf.Offset) (RecordStream, error)

	// Close releases backend resources.  All streams must be closed first.
	Close() error
}

// RecordStream is a lazy, finite, pull-based record sequence.  No work
// happens until Scan is called; abandoning the stream early costs nothing
// beyond Close.
type RecordStream interface {
	// Scan advances to the next record, returning false at end of stream or
	// on error.
	Scan() bool

	// Record returns the current record.  Valid only after a Scan that
	// returned true, and only until the next Scan call.
	Record() *sam.Record

	// LastOffset returns the storage offset at which the current record
	// begins.
	LastOffset() bgzf.Offset

	// Err returns the error that terminated the stream, or nil at a normal
	// end.
	Err() error

	// Close must be called exactly once. It returns the value of Err.
	Close() error
}
