package ref

import (
	"testing"

	"github.com/exascience/elprep-cram/sam"
)

func alignment(pos int32, cigar, seq string) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.POS = pos
	aln.CIGAR = cigar
	aln.SEQ = seq
	return aln
}

func TestTracksCoverageAndMismatches(t *testing.T) {
	// reference: positions 1..10 are "AAAAAAAAAA"
	bases := []byte("AAAAAAAAAA")
	tracks := NewTracks(1, 10, bases)

	// read of "AACAA" aligned at position 3 with CIGAR 5M mismatches at
	// position 5 (0-based read index 2, 'C' vs reference 'A').
	tracks.Populate([]*sam.Alignment{alignment(3, "5M", "AACAA")})

	for pos := int32(3); pos <= 7; pos++ {
		if got := tracks.CoverageAt(pos); got != 1 {
			t.Errorf("CoverageAt(%d) = %d, want 1", pos, got)
		}
	}
	if got := tracks.MismatchesAt(5); got != 1 {
		t.Errorf("MismatchesAt(5) = %d, want 1", got)
	}
	for _, pos := range []int32{3, 4, 6, 7} {
		if got := tracks.MismatchesAt(pos); got != 0 {
			t.Errorf("MismatchesAt(%d) = %d, want 0", pos, got)
		}
	}
}

func TestTracksIgnoresUnmappedRecords(t *testing.T) {
	bases := []byte("AAAAAAAAAA")
	tracks := NewTracks(1, 10, bases)
	unmapped := alignment(0, "*", "*")
	unmapped.FLAG = sam.Unmapped
	tracks.Populate([]*sam.Alignment{unmapped})
	for pos := int32(1); pos <= 10; pos++ {
		if got := tracks.CoverageAt(pos); got != 0 {
			t.Errorf("CoverageAt(%d) = %d, want 0 for unmapped-only batch", pos, got)
		}
	}
}

func TestTracksSoftClipDoesNotConsumeReference(t *testing.T) {
	// 2S3M: two soft-clipped bases should not advance ref_pos or be
	// counted against the reference.
	bases := []byte("AAAAAAAAAA")
	tracks := NewTracks(1, 10, bases)
	tracks.Populate([]*sam.Alignment{alignment(1, "2S3M", "TTAAA")})
	if got := tracks.CoverageAt(1); got != 1 {
		t.Errorf("CoverageAt(1) = %d, want 1 (first M base)", got)
	}
	if got := tracks.CoverageAt(4); got != 0 {
		t.Errorf("CoverageAt(4) = %d, want 0 (past the 3M span)", got)
	}
}

func TestTracksBaseAt(t *testing.T) {
	bases := []byte("ACGTACGTAC")
	tracks := NewTracks(1, 10, bases)
	if got := tracks.BaseAt(1); got != 'A' {
		t.Errorf("BaseAt(1) = %q, want 'A'", got)
	}
	if got := tracks.BaseAt(4); got != 'T' {
		t.Errorf("BaseAt(4) = %q, want 'T'", got)
	}
}
