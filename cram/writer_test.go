package cram

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/reference"
	"github.com/exascience/elprep-cram/sam"
)

const testHeader = "@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:chr1\tLN:1000\n"

// captureSink records every sealed container it is notified of, in order,
// so tests can inspect offsets, slices, and records without depending on
// ContainerIO's simplified byte layout.
type captureSink struct {
	containers  []*structure.Container
	sequenceIDs []int32
	finished    bool
}

func (c *captureSink) ProcessContainer(container *structure.Container, sequenceID int32) error {
	c.containers = append(c.containers, container)
	c.sequenceIDs = append(c.sequenceIDs, sequenceID)
	return nil
}

func (c *captureSink) Finish() error {
	c.finished = true
	return nil
}

func coordinateSortedAlignment(refid, pos int32) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.QNAME = "read"
	aln.RNAME = "chr1"
	aln.POS = pos
	aln.CIGAR = "4M"
	aln.SEQ = "ACGT"
	aln.QUAL = "IIII"
	aln.SetREFID(refid)
	return aln
}

func newTestWriter(t *testing.T, sink *captureSink) (*Writer, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	w := NewWriter(&out)
	w.Index = sink
	w.Reference = reference.StaticProvider{0: bytes.Repeat([]byte("A"), 1000), 1: bytes.Repeat([]byte("A"), 1000)}
	if err := w.WriteHeader(testHeader); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	return w, &out
}

// Scenario 1 / P3 / P6 / P7: single container, single ref, delta correctness,
// MD5 stamping, lossless default.
func TestWriterScenario1SingleContainerSingleRef(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWriter(t, sink)

	starts := []int32{100, 150, 200, 250, 300}
	for _, pos := range starts {
		if err := w.WriteAlignment(coordinateSortedAlignment(0, pos)); err != nil {
			t.Fatalf("WriteAlignment failed: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if len(sink.containers) != 1 {
		t.Fatalf("got %d containers, want 1", len(sink.containers))
	}
	container := sink.containers[0]
	if len(container.Slices) != 1 {
		t.Fatalf("got %d slices, want 1", len(container.Slices))
	}
	records := container.Slices[0].Records
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}

	wantDeltas := []int32{0, 50, 50, 50, 50}
	for i, rec := range records {
		if rec.AlignmentDelta != wantDeltas[i] {
			t.Errorf("record %d AlignmentDelta = %d, want %d", i, rec.AlignmentDelta, wantDeltas[i])
		}
		if !rec.Detached {
			t.Errorf("record %d should be detached (no mate)", i)
		}
		if !rec.ForcePreserveQualityScores {
			t.Errorf("record %d should have ForcePreserveQualityScores = true under the lossless default", i)
		}
	}

	var want structure.Slice
	want.SetRefMD5(bytes.Repeat([]byte("A"), 1000))
	if container.Slices[0].RefMD5 != want.RefMD5 {
		t.Error("slice RefMD5 does not match MD5 of the batch reference bases")
	}
}

// P3: the first buffered record's delta is seeded from the batch-wide
// minimum alignment start, not unconditionally 0 - it only happens to be
// 0 when the first buffered record is also the min-start record.
func TestWriterDeltaSeededFromBatchMinStart(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWriter(t, sink)

	// Not in coordinate order: the first WriteAlignment isn't the
	// batch's min-start record.
	for _, pos := range []int32{150, 100, 200} {
		if err := w.WriteAlignment(coordinateSortedAlignment(0, pos)); err != nil {
			t.Fatalf("WriteAlignment failed: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	records := sink.containers[0].Slices[0].Records
	wantDeltas := []int32{50, -50, 100}
	for i, rec := range records {
		if rec.AlignmentDelta != wantDeltas[i] {
			t.Errorf("record %d AlignmentDelta = %d, want %d", i, rec.AlignmentDelta, wantDeltas[i])
		}
	}
}

// Scenario 2 / P1: container_size = 3, 7 records -> containers of size 3, 3, 1.
func TestWriterScenario2BoundaryByCount(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWriter(t, sink)
	w.SetContainerSize(3, 1)

	for i := int32(0); i < 7; i++ {
		if err := w.WriteAlignment(coordinateSortedAlignment(0, 100+i*10)); err != nil {
			t.Fatalf("WriteAlignment failed: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if len(sink.containers) != 3 {
		t.Fatalf("got %d containers, want 3", len(sink.containers))
	}
	wantSizes := []int{3, 3, 1}
	for i, container := range sink.containers {
		got := 0
		for _, slice := range container.Slices {
			got += len(slice.Records)
		}
		if got != wantSizes[i] {
			t.Errorf("container %d has %d records, want %d", i, got, wantSizes[i])
		}
	}
}

// Scenario 3: foreign ref on a small batch triggers a seal.
func TestWriterScenario3ForeignRefSmallBatchSeals(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWriter(t, sink)

	for i := int32(0); i < 10; i++ {
		if err := w.WriteAlignment(coordinateSortedAlignment(0, 100+i*10)); err != nil {
			t.Fatalf("WriteAlignment failed: %v", err)
		}
	}
	if err := w.WriteAlignment(coordinateSortedAlignment(1, 50)); err != nil {
		t.Fatalf("WriteAlignment failed: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if len(sink.containers) != 2 {
		t.Fatalf("got %d containers, want 2", len(sink.containers))
	}
	if len(sink.containers[0].Slices[0].Records) != 10 {
		t.Errorf("first container has %d records, want 10", len(sink.containers[0].Slices[0].Records))
	}
	if len(sink.containers[1].Slices[0].Records) != 1 {
		t.Errorf("second container has %d records, want 1", len(sink.containers[1].Slices[0].Records))
	}
}

// NewWriter must default PreserveReadNames and CaptureAllTags to true,
// matching htsjdk's CRAMFileWriter defaults.
func TestNewWriterDefaults(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	if !w.PreserveReadNames {
		t.Error("NewWriter should default PreserveReadNames to true")
	}
	if !w.CaptureAllTags {
		t.Error("NewWriter should default CaptureAllTags to true")
	}
}

// P5: container offsets are contiguous and container[0].offset equals the
// header prelude's byte length.
func TestWriterOffsetAccounting(t *testing.T) {
	sink := &captureSink{}
	w, out := newTestWriter(t, sink)
	headerBytes := out.Len()

	w.SetContainerSize(2, 1)
	for i := int32(0); i < 4; i++ {
		if err := w.WriteAlignment(coordinateSortedAlignment(0, 100+i*10)); err != nil {
			t.Fatalf("WriteAlignment failed: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if len(sink.containers) != 2 {
		t.Fatalf("got %d containers, want 2", len(sink.containers))
	}
	if sink.containers[0].Offset != int64(headerBytes) {
		t.Errorf("container[0].Offset = %d, want %d (header prelude length)", sink.containers[0].Offset, headerBytes)
	}
	if !sink.finished {
		t.Error("Finish should have called Index.Finish")
	}
}

func TestWriteAlignmentBeforeWriteHeaderFails(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	err := w.WriteAlignment(coordinateSortedAlignment(0, 1))
	if err == nil {
		t.Fatal("expected an error when WriteAlignment precedes WriteHeader")
	}
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != HeaderNotYetWritten {
		t.Errorf("got %v, want a *Error with Kind HeaderNotYetWritten", err)
	}
}

func TestWriteHeaderTwiceFails(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	if err := w.WriteHeader(testHeader); err != nil {
		t.Fatalf("first WriteHeader failed: %v", err)
	}
	err := w.WriteHeader(testHeader)
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != HeaderAlreadyWritten {
		t.Errorf("got %v, want a *Error with Kind HeaderAlreadyWritten", err)
	}
}

func TestLossyMultiRefNotSupported(t *testing.T) {
	sink := &captureSink{}
	var out bytes.Buffer
	w := NewWriter(&out)
	w.Index = sink
	w.Reference = reference.StaticProvider{0: bytes.Repeat([]byte("A"), 2000), 1: bytes.Repeat([]byte("A"), 2000)}
	w.QualityPreservationPolicy = "N8"
	if err := w.WriteHeader(testHeader); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	for i := int32(0); i < 1200; i++ {
		if err := w.WriteAlignment(coordinateSortedAlignment(0, 100+i)); err != nil {
			t.Fatalf("WriteAlignment failed: %v", err)
		}
	}
	err := w.WriteAlignment(coordinateSortedAlignment(1, 1))
	if err != nil {
		t.Fatalf("absorbing the 1201st record into a multi-reference batch should not itself fail: %v", err)
	}

	err = w.Finish()
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != LossyMultiRefNotSupported {
		t.Errorf("got %v, want a *Error with Kind LossyMultiRefNotSupported", err)
	}
}

func TestParanoidModeRoundTripPasses(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWriter(t, sink)
	w.SetParanoidMode(true)

	if err := w.WriteAlignment(coordinateSortedAlignment(0, 100)); err != nil {
		t.Fatalf("WriteAlignment failed: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish with paranoid mode enabled should succeed for a well-formed record: %v", err)
	}
}

func TestSequenceNamesFromHeader(t *testing.T) {
	header, _, err := sam.ParseHeader(bufio.NewReader(strings.NewReader(testHeader)))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	names := sequenceNames(header)
	if len(names) != 1 || names[0] != "chr1" {
		t.Errorf("sequenceNames(header) = %v, want [chr1]", names)
	}
}
