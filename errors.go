package align

import (
	"github.com/pkg/errors"
)

// The error taxonomy shared by all packages in this module.  Callers classify
// failures with errors.Cause:
//
//	if errors.Cause(err) == align.ErrUnknownReference { ... }
//
// None of these are retried internally; retry policy belongs to the storage
// backend or the caller.
var (
	// ErrInvalidRegion indicates a malformed query interval (start > end).
	ErrInvalidRegion = errors.New("invalid region")

	// ErrUnknownReference indicates a reference ID not present in the index.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrIndexMissing indicates that no index exists for the storage.
	ErrIndexMissing = errors.New("index missing")

	// ErrIndexCorrupt indicates an unparseable or inconsistent index.
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrMalformedRecord indicates an inconsistent record, e.g. a zero-length
	// or unrecognized CIGAR operation.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrOutOfRange indicates a position query outside a record's reference
	// span.
	ErrOutOfRange = errors.New("position out of range")

	// ErrStorage indicates a backend read failure.  It aborts the sweep that
	// encountered it.
	ErrStorage = errors.New("storage error")
)
