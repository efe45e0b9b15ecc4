// Package align provides indexed region queries and per-position pileup over
// coordinate-sorted alignment files.
//
// The core pipeline is: an index (package index) translates a genomic
// interval into byte ranges of the underlying storage; a region cursor
// (package query) streams records from those ranges through a storage
// backend (package storage) and filters them down to true overlaps; a pileup
// generator (package pileup) sweeps a position cursor across the resulting
// records, reporting for every covered reference base the set of overlapping
// alignments together with their local CIGAR state (package cigar).
//
// Record decoding, BGZF decompression and header parsing are supplied by the
// storage backend (github.com/grailbio/hts for real BAM files); this module
// only defines the contract they must honor.
package align
