package cram

import (
	"testing"

	"github.com/exascience/elprep-cram/sam"
)

func incoming(refid int32) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.SetREFID(refid)
	return aln
}

func TestShouldFlushEmptyBatchNeverSeals(t *testing.T) {
	w := &Writer{}
	w.refCtx = uninitialisedRefContext
	if w.shouldFlush(incoming(0)) {
		t.Error("an empty batch must never seal")
	}
}

func TestShouldFlushOnContainerSizeBoundary(t *testing.T) {
	w := &Writer{RecordsPerSlice: 3, SlicesPerContainer: 1, coordinateSorted: true}
	w.refCtx = singleRefContext(0)
	w.buffer = make([]*sam.Alignment, 3)
	if !w.shouldFlush(incoming(0)) {
		t.Error("a batch at container_size should seal regardless of the incoming record's reference")
	}
}

func TestShouldFlushSameReferenceNeverSeals(t *testing.T) {
	w := &Writer{coordinateSorted: true}
	w.refCtx = singleRefContext(0)
	w.buffer = make([]*sam.Alignment, 5)
	if w.shouldFlush(incoming(0)) {
		t.Error("same-reference records should never trigger a seal")
	}
}

func TestShouldFlushNonCoordinateSortedNeverSeals(t *testing.T) {
	w := &Writer{coordinateSorted: false}
	w.refCtx = singleRefContext(0)
	w.buffer = make([]*sam.Alignment, 5)
	if w.shouldFlush(incoming(1)) {
		t.Error("a non-coordinate-sorted batch should freely mix references")
	}
}

// Scenario 3: foreign ref, small batch (<=1000) seals.
func TestShouldFlushForeignRefSmallBatchSeals(t *testing.T) {
	w := &Writer{coordinateSorted: true}
	w.refCtx = singleRefContext(0)
	w.buffer = make([]*sam.Alignment, 10)
	if !w.shouldFlush(incoming(1)) {
		t.Error("a foreign-reference record on a small batch should seal")
	}
}

// Scenario 4: foreign ref, large batch (>1000) absorbs into multi-ref.
func TestShouldFlushForeignRefLargeBatchAbsorbs(t *testing.T) {
	w := &Writer{coordinateSorted: true}
	w.refCtx = singleRefContext(0)
	w.buffer = make([]*sam.Alignment, 1200)
	if w.shouldFlush(incoming(1)) {
		t.Error("a foreign-reference record past the multi-ref threshold should not seal")
	}
	if !w.refCtx.MultiReference() {
		t.Error("the writer's ref context should have switched to MultiReference")
	}
}

func TestShouldFlushAlreadyMultiReferenceNeverSeals(t *testing.T) {
	w := &Writer{coordinateSorted: true}
	w.refCtx = multiRefContext()
	w.buffer = make([]*sam.Alignment, 5)
	if w.shouldFlush(incoming(9)) {
		t.Error("an already multi-reference batch should never seal on a reference mismatch alone")
	}
}

func TestMultiRefThresholdIsConfigurable(t *testing.T) {
	w := &Writer{coordinateSorted: true, MultiRefThreshold: 2}
	w.refCtx = singleRefContext(0)
	w.buffer = make([]*sam.Alignment, 3)
	if w.shouldFlush(incoming(1)) {
		t.Error("a custom MultiRefThreshold of 2 should already allow absorption at batch size 3")
	}
}
