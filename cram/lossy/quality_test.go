package lossy

import (
	"bytes"
	"testing"

	"github.com/exascience/elprep-cram/cram/ref"
	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/sam"
)

func alignment(pos int32, cigar string) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.POS = pos
	aln.CIGAR = cigar
	return aln
}

func TestCompile(t *testing.T) {
	qp, err := Compile("*8")
	if err != nil {
		t.Fatalf("Compile(*8) failed: %v", err)
	}
	if len(qp) != 1 || qp[0].Selector != SelectorAll || qp[0].MinQuality != 8 {
		t.Errorf("Compile(*8) = %+v, want [{* 8}]", qp)
	}

	qp, err = Compile("N8R20")
	if err != nil {
		t.Fatalf("Compile(N8R20) failed: %v", err)
	}
	if len(qp) != 2 ||
		qp[0] != (PreservationPolicy{SelectorNonMatch, 8}) ||
		qp[1] != (PreservationPolicy{SelectorReadCoverage, 20}) {
		t.Errorf("Compile(N8R20) = %+v", qp)
	}

	if _, err := Compile("Z8"); err == nil {
		t.Error("Compile(Z8) should have failed on unknown selector")
	}
	if _, err := Compile("*"); err == nil {
		t.Error("Compile(*) should have failed on missing threshold")
	}
}

func TestRequiresTracks(t *testing.T) {
	all, _ := Compile("*8")
	if all.RequiresTracks() {
		t.Error("*8 should not require tracks")
	}
	withN, _ := Compile("N8")
	if !withN.RequiresTracks() {
		t.Error("N8 should require tracks")
	}
}

func TestApplyAllSelectorKeepsEverythingAboveThreshold(t *testing.T) {
	qp, _ := Compile("*8")
	rec := &structure.CompressionRecord{
		AlignmentStart: 1,
		QualityScores:  []byte{5, 8, 10, 20},
	}
	qp.Apply(rec, alignment(1, "4M"), nil)
	want := []byte{Missing, 8, 10, 20}
	if !bytes.Equal(rec.QualityScoresKept, want) {
		t.Errorf("Apply(*8) = %v, want %v", rec.QualityScoresKept, want)
	}
}

func TestApplyNonMatchSelectorRequiresMismatch(t *testing.T) {
	qp, _ := Compile("N0")
	tracks := ref.NewTracks(1, 4, []byte("AAAA"))
	tracks.AddMismatches(2, 1)
	rec := &structure.CompressionRecord{
		AlignmentStart: 1,
		QualityScores:  []byte{10, 10, 10, 10},
	}
	qp.Apply(rec, alignment(1, "4M"), tracks)
	want := []byte{Missing, 10, Missing, Missing}
	if !bytes.Equal(rec.QualityScoresKept, want) {
		t.Errorf("Apply(N0) = %v, want %v", rec.QualityScoresKept, want)
	}
}

func TestApplyNilQualityScoresIsNoop(t *testing.T) {
	qp, _ := Compile("*0")
	rec := &structure.CompressionRecord{AlignmentStart: 1}
	qp.Apply(rec, alignment(1, "1M"), nil)
	if rec.QualityScoresKept != nil {
		t.Error("Apply on a record with no quality scores should leave QualityScoresKept nil")
	}
}

// A CIGAR with an insertion shifts every downstream read index off of
// the flat AlignmentStart+i mapping: read bases 0-1 align to ref
// positions 1-2 (2M), read base 2 is an inserted base with no ref
// position, and read bases 3-5 align to ref positions 3-5 (3M), not 4-6.
func TestApplyInsertionShiftsReferencePosition(t *testing.T) {
	qp, _ := Compile("N0")
	tracks := ref.NewTracks(1, 5, []byte("AAAAA"))
	tracks.AddMismatches(5, 1) // mismatch at the last M position, not at 4+2=6

	rec := &structure.CompressionRecord{
		AlignmentStart: 1,
		QualityScores:  []byte{10, 10, 10, 10, 10, 10},
	}
	qp.Apply(rec, alignment(1, "2M1I3M"), tracks)

	want := []byte{Missing, Missing, Missing, Missing, Missing, 10}
	if !bytes.Equal(rec.QualityScoresKept, want) {
		t.Errorf("Apply(N0) over 2M1I3M = %v, want %v", rec.QualityScoresKept, want)
	}
}

// A deletion advances the reference position without consuming a read
// base, so positions after it must skip the deleted span rather than
// being offset by the read index alone.
func TestApplyDeletionAdvancesReferencePositionOnly(t *testing.T) {
	qp, _ := Compile("N0")
	tracks := ref.NewTracks(1, 5, []byte("AAAAA"))
	tracks.AddMismatches(5, 1) // mismatch at the trailing M block, ref pos 5

	rec := &structure.CompressionRecord{
		AlignmentStart: 1,
		QualityScores:  []byte{10, 10, 10},
	}
	// 2M2D1M: read base 0 -> ref 1, read base 1 -> ref 2, ref advances by
	// 2 more for the deletion (ref 3-4, no read base consumed), read
	// base 2 -> ref 5, not ref 3.
	qp.Apply(rec, alignment(1, "2M2D1M"), tracks)

	want := []byte{Missing, Missing, 10}
	if !bytes.Equal(rec.QualityScoresKept, want) {
		t.Errorf("Apply(N0) over 2M2D1M = %v, want %v", rec.QualityScoresKept, want)
	}
}
