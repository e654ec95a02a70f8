// elPrep: a high-performance tool for analyzing SAM/BAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

package cram

import (
	"github.com/exascience/elprep-cram/cram/build"
	"github.com/exascience/elprep-cram/cram/ref"
	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/sam"
)

// flush runs the steps of §4.5 over the current buffer: resolve
// reference bases, build a ReferenceTracks window if needed, convert
// every buffered record to a CompressionRecord, apply quality
// preservation, check for an abnormally high mismatch rate, resolve
// mate linkage, optionally round-trip check, and finally build and
// write the sealed container before resetting batch state.
func (w *Writer) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}

	batchBases, err := w.resolveBatchBases()
	if err != nil {
		return err
	}

	requiresTracks := w.quality.RequiresTracks()
	if requiresTracks && w.refCtx.MultiReference() {
		return newError(w.SessionID.String(), LossyMultiRefNotSupported,
			"quality preservation policy requires reference tracks on a multi-reference batch", nil)
	}

	start, stop := batchSpan(w.buffer)

	var tracks *ref.Tracks
	if requiresTracks && start <= stop {
		tracks = ref.NewTracks(start, stop, batchBases)
		tracks.Populate(w.buffer)
	}

	factory := &build.Sam2CramFactory{
		PreserveReadNames: w.PreserveReadNames,
		CaptureAllTags:    w.CaptureAllTags,
		CaptureTags:       w.CaptureTags,
		IgnoreTags:        w.IgnoreTags,
		ReferenceBases:    batchBases,
	}

	refBasesCache := make(map[int32][]byte)
	if id, ok := w.refCtx.ID(); ok {
		refBasesCache[id] = batchBases
	}

	records := make([]*structure.CompressionRecord, len(w.buffer))
	prevStart := start
	for i, aln := range w.buffer {
		if w.refCtx.MultiReference() {
			bases, err := w.referenceBasesFor(aln.REFID(), refBasesCache)
			if err != nil {
				return err
			}
			factory.ReferenceBases = bases
		}
		delta := aln.AlignmentStart() - prevStart
		records[i] = factory.Convert(aln, int32(i+1), delta)
		prevStart = aln.AlignmentStart()
	}

	if w.lossless {
		for _, rec := range records {
			rec.ForcePreserveQualityScores = rec.QualityScores != nil
		}
	} else {
		for i, rec := range records {
			w.quality.Apply(rec, w.buffer[i], tracks)
		}
	}

	if factory.BaseCount() < 3*factory.FeatureCount() {
		w.warnf("abnormally high mismatches in batch of %d records - possibly wrong reference", len(records))
	}

	build.ResolveMates(records, w.coordinateSorted, w.insertSize())

	if w.ParanoidMode {
		if err := w.roundTripCheck(records); err != nil {
			return err
		}
	}

	factoryBuilder := build.NewContainerFactory(int32(w.recordsPerSliceOrDefault()))
	container := factoryBuilder.BuildContainer(records, batchBases)
	container.Offset = w.fileOffset

	n, err := w.containerIO.Write(w.Sink, container)
	if err != nil {
		return newError(w.SessionID.String(), SinkIOError, "writing container", err)
	}
	w.fileOffset += n

	seqID := int32(-2)
	if id, ok := w.refCtx.ID(); ok {
		seqID = id
	}
	if err := w.Index.ProcessContainer(container, seqID); err != nil {
		return newError(w.SessionID.String(), SinkIOError, "notifying index sink", err)
	}

	w.buffer = w.buffer[:0]
	w.refCtx = uninitialisedRefContext
	return nil
}

// resolveBatchBases implements §4.5 step 1: MULTI_REFERENCE and
// unmapped (-1) batches resolve to an empty/nil base array; a
// single-reference batch fetches its bases from Reference.
func (w *Writer) resolveBatchBases() ([]byte, error) {
	if w.refCtx.MultiReference() {
		return nil, nil
	}
	id, ok := w.refCtx.ID()
	if !ok || id < 0 {
		return nil, nil
	}
	return w.referenceBasesFor(id, nil)
}

// referenceBasesFor fetches sequence id's bases from Reference, using
// cache (if non-nil) to avoid repeated provider calls within one flush.
func (w *Writer) referenceBasesFor(id int32, cache map[int32][]byte) ([]byte, error) {
	if id < 0 {
		return nil, nil
	}
	if cache != nil {
		if bases, ok := cache[id]; ok {
			return bases, nil
		}
	}
	if w.Reference == nil {
		return nil, newError(w.SessionID.String(), ReferenceFetchError, "no ReferenceProvider configured", nil)
	}
	bases, err := w.Reference.GetReferenceBases(id)
	if err != nil {
		return nil, newError(w.SessionID.String(), ReferenceFetchError, "fetching reference bases", err)
	}
	if cache != nil {
		cache[id] = bases
	}
	return bases, nil
}

// batchSpan computes [min alignment start, max alignment end] over the
// buffer's aligned records, ignoring unmapped ones; it returns
// (0, -1) if the buffer has no aligned records, so callers should test
// start <= stop before using the span.
func batchSpan(buffer []*sam.Alignment) (start, stop int32) {
	start, stop = 0, -1
	first := true
	for _, aln := range buffer {
		if aln.AlignmentStart() <= 0 {
			continue
		}
		s, e := aln.AlignmentStart(), aln.AlignmentEnd()
		if first {
			start, stop = s, e
			first = false
			continue
		}
		if s < start {
			start = s
		}
		if e > stop {
			stop = e
		}
	}
	return
}

// roundTripCheck implements §4.5 step 8: feed each CompressionRecord
// back through the inverse factory and assert that alignment start,
// reference name, read bases and quality string equal the originals.
func (w *Writer) roundTripCheck(records []*structure.CompressionRecord) error {
	inverse := &build.Cram2SamFactory{SequenceNames: w.sequenceNames}
	for i, rec := range records {
		reconstructed := inverse.Convert(rec)
		original := w.buffer[i]
		if !build.RoundTripMatches(original, reconstructed) {
			return newError(w.SessionID.String(), RoundTripMismatch,
				"round-trip mismatch for record "+original.QNAME, nil)
		}
	}
	return nil
}
