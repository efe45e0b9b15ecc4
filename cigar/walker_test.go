package cigar_test

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandbio/align"
	"github.com/strandbio/align/cigar"
)

func TestWalkerSpan(t *testing.T) {
	w, err := cigar.NewCigarWalker(mkCigar(
		sam.NewCigarOp(sam.CigarMatch, 5),
		sam.NewCigarOp(sam.CigarInsertion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
	), 100)
	require.NoError(t, err)
	assert.Equal(t, 100, w.Start())
	assert.Equal(t, 108, w.End())

	// Insertion-only record consumes no reference.
	w, err = cigar.NewCigarWalker(mkCigar(sam.NewCigarOp(sam.CigarInsertion, 4)), 7)
	require.NoError(t, err)
	assert.Equal(t, w.Start(), w.End())

	_, err = cigar.NewCigarWalker(mkCigar(sam.NewCigarOp(sam.CigarMatch, 0)), 0)
	require.Error(t, err)
	assert.Equal(t, align.ErrMalformedRecord, errors.Cause(err))
}

func TestWalkerMonotone(t *testing.T) {
	// 5M 2I 3M at 100: query offsets 0..4 over [100,105), then 7..9 over
	// [105,108) with the two inserted bases between 104 and 105.
	w, err := cigar.NewCigarWalker(mkCigar(
		sam.NewCigarOp(sam.CigarMatch, 5),
		sam.NewCigarOp(sam.CigarInsertion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
	), 100)
	require.NoError(t, err)

	wantQuery := []int{0, 1, 2, 3, 4, 7, 8, 9}
	for i, q := range wantQuery {
		s, err := w.StateAt(100 + i)
		require.NoError(t, err)
		assert.Equal(t, cigar.StateBase, s.Kind)
		assert.Equal(t, q, s.QueryPos, "pos %d", 100+i)
	}
	assert.Equal(t, cigar.Indel{Kind: cigar.IndelInsertion, Len: 2}, w.IndelAt(104))
	for _, pos := range []int{100, 103, 105, 107} {
		assert.Equal(t, cigar.Indel{}, w.IndelAt(pos), "pos %d", pos)
	}
}

func TestWalkerDeletion(t *testing.T) {
	w, err := cigar.NewCigarWalker(mkCigar(
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
	), 0)
	require.NoError(t, err)
	assert.Equal(t, 8, w.End())

	for pos := 0; pos < 3; pos++ {
		s, err := w.StateAt(pos)
		require.NoError(t, err)
		assert.Equal(t, cigar.StateBase, s.Kind)
		assert.Equal(t, pos, s.QueryPos)
	}
	for _, pos := range []int{3, 4} {
		s, err := w.StateAt(pos)
		require.NoError(t, err)
		assert.Equal(t, cigar.StateDeletion, s.Kind, "pos %d", pos)
	}
	s, err := w.StateAt(5)
	require.NoError(t, err)
	assert.Equal(t, cigar.StateBase, s.Kind)
	assert.Equal(t, 3, s.QueryPos)

	// The deletion is reported only at its first deleted position.
	assert.Equal(t, cigar.Indel{Kind: cigar.IndelDeletion, Len: 2}, w.IndelAt(3))
	assert.Equal(t, cigar.Indel{}, w.IndelAt(4))
	assert.Equal(t, cigar.Indel{}, w.IndelAt(2))
}

func TestWalkerBackwardRestart(t *testing.T) {
	w, err := cigar.NewCigarWalker(mkCigar(
		sam.NewCigarOp(sam.CigarMatch, 4),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 4),
	), 50)
	require.NoError(t, err)

	s, err := w.StateAt(59)
	require.NoError(t, err)
	assert.Equal(t, 7, s.QueryPos)

	// Querying behind the cursor restarts from the first run.
	s, err = w.StateAt(51)
	require.NoError(t, err)
	assert.Equal(t, cigar.StateBase, s.Kind)
	assert.Equal(t, 1, s.QueryPos)

	s, err = w.StateAt(55)
	require.NoError(t, err)
	assert.Equal(t, cigar.StateDeletion, s.Kind)
}

func TestWalkerPaddedInsertion(t *testing.T) {
	// Padding between the match run and the insertion does not hide the
	// insertion event.
	w, err := cigar.NewCigarWalker(mkCigar(
		sam.NewCigarOp(sam.CigarMatch, 2),
		sam.NewCigarOp(sam.CigarPadded, 1),
		sam.NewCigarOp(sam.CigarInsertion, 3),
		sam.NewCigarOp(sam.CigarMatch, 2),
	), 0)
	require.NoError(t, err)
	assert.Equal(t, cigar.Indel{Kind: cigar.IndelInsertion, Len: 3}, w.IndelAt(1))

	s, err := w.StateAt(2)
	require.NoError(t, err)
	assert.Equal(t, 5, s.QueryPos)
}

func TestWalkerOutOfRange(t *testing.T) {
	w, err := cigar.NewCigarWalker(mkCigar(sam.NewCigarOp(sam.CigarMatch, 5)), 10)
	require.NoError(t, err)
	for _, pos := range []int{9, 15, -1} {
		_, err := w.StateAt(pos)
		require.Error(t, err, "pos %d", pos)
		assert.Equal(t, align.ErrOutOfRange, errors.Cause(err))
	}
	assert.Equal(t, cigar.Indel{}, w.IndelAt(9))
	assert.Equal(t, cigar.Indel{}, w.IndelAt(15))
}
