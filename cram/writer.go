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

// Package cram implements the streaming encoder that turns a
// coordinate- or query-sorted stream of sam.Alignment records into the
// CRAM container format: it buffers incoming records, decides container
// boundaries, resolves mate linkage, optionally degrades quality
// scores, and serialises sealed containers to an output sink while
// tracking byte offsets for a companion index.
//
// A Writer is not safe for concurrent WriteAlignment calls; callers
// must serialise access themselves, exactly as htsjdk's CRAMFileWriter
// and elPrep's own filter pipeline stages assume a single producer.
package cram

import (
	"bufio"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/exascience/elprep-cram/cram/build"
	"github.com/exascience/elprep-cram/cram/index"
	"github.com/exascience/elprep-cram/cram/lossy"
	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/reference"
	"github.com/exascience/elprep-cram/sam"
)

// Writer is the EncoderDriver: it owns all mutable state for one CRAM
// output stream (buffer, tri-state reference context, file offset,
// factory, indexer) and orchestrates the flush pipeline described in
// the component design.
type Writer struct {
	// Sink receives the CRAM byte stream: header prelude, containers,
	// EOF marker. If Sink implements io.Closer, Finish closes it.
	Sink io.Writer

	// Reference resolves whole-sequence reference bases by sequence id.
	// Required only when a batch actually needs bases: a stream of
	// entirely unmapped records never consults it.
	Reference reference.Provider

	// Index is notified of every sealed container. NewWriter sets it to
	// index.NopSink; a nil Index is not replaced by a default.
	Index index.Sink

	// Warnf receives advisory messages (HighMismatchWarning and
	// similar); defaults to log.Printf prefixed with SessionID.
	Warnf func(format string, args ...interface{})

	// SessionID identifies this Writer instance in warning and error
	// messages, so concurrent Writer instances in one process can be
	// told apart in logs.
	SessionID uuid.UUID

	// Configuration, all optional, must be set before the first
	// WriteAlignment call, except QualityPreservationPolicy, which
	// WriteHeader reads: a policy set after WriteHeader has no effect.
	PreserveReadNames         bool
	CaptureAllTags            bool
	CaptureTags               map[string]bool
	IgnoreTags                map[string]bool
	QualityPreservationPolicy string
	RecordsPerSlice           int
	SlicesPerContainer        int
	MultiRefThreshold         int
	ParanoidMode              bool

	// InsertSize computes the expected TLEN between a mate chain's head
	// and tail record during MateResolver validation; defaults to
	// defaultInsertSize if left nil.
	InsertSize build.InsertSizeFunc

	headerWritten    bool
	coordinateSorted bool
	sequenceNames    []string

	buffer     []*sam.Alignment
	refCtx     refContext
	fileOffset int64

	quality     lossy.QualityPreservation
	lossless    bool
	containerIO build.ContainerIO
}

// NewWriter returns a Writer that streams to sink, with a freshly
// generated SessionID and a Warnf backed by the standard log package.
func NewWriter(sink io.Writer) *Writer {
	w := &Writer{
		Sink:              sink,
		Index:             index.NopSink{},
		SessionID:         uuid.New(),
		PreserveReadNames: true,
		CaptureAllTags:    true,
	}
	w.refCtx = uninitialisedRefContext
	return w
}

func (w *Writer) warnf(format string, args ...interface{}) {
	if w.Warnf != nil {
		w.Warnf(format, args...)
		return
	}
	log.Printf("cram[%s]: "+format, append([]interface{}{w.SessionID}, args...)...)
}

func (w *Writer) insertSize() build.InsertSizeFunc {
	if w.InsertSize != nil {
		return w.InsertSize
	}
	return defaultInsertSize
}

// defaultInsertSize computes the outer template span between a mate
// chain's head and tail record. The exact formula is an external oracle
// per the component design (compute_insert_size); this default follows
// the common SAM convention of outer-span-from-leftmost-start.
func defaultInsertSize(head, tail *structure.CompressionRecord) int32 {
	headEnd := head.AlignmentStart + int32(len(head.ReadBases))
	tailEnd := tail.AlignmentStart + int32(len(tail.ReadBases))
	lo, hi := head.AlignmentStart, tailEnd
	if tail.AlignmentStart < lo {
		lo = tail.AlignmentStart
	}
	if headEnd > hi {
		hi = headEnd
	}
	span := hi - lo
	if head.AlignmentStart > tail.AlignmentStart {
		return -span
	}
	return span
}

// WriteHeader parses headerText, writes the CRAM file header prelude to
// Sink, compiles QualityPreservationPolicy, and records the header's
// sort order and sequence names.
// It must be called exactly once, before any WriteAlignment call; a
// second call returns a *Error with Kind HeaderAlreadyWritten.
func (w *Writer) WriteHeader(headerText string) error {
	if w.headerWritten {
		return newError(w.SessionID.String(), HeaderAlreadyWritten, "WriteHeader called more than once", nil)
	}

	header, _, err := sam.ParseHeader(bufio.NewReader(strings.NewReader(headerText)))
	if err != nil {
		return newError(w.SessionID.String(), SinkIOError, "parsing SAM header text", err)
	}

	n, err := w.containerIO.WriteHeader(w.Sink, &structure.Header{SamHeaderText: headerText})
	if err != nil {
		return newError(w.SessionID.String(), SinkIOError, "writing CRAM header prelude", err)
	}

	if w.QualityPreservationPolicy != "" {
		qp, err := lossy.Compile(w.QualityPreservationPolicy)
		if err != nil {
			return newError(w.SessionID.String(), SinkIOError, "compiling quality preservation policy", err)
		}
		w.quality = qp
	} else {
		w.lossless = true
	}

	w.sequenceNames = sequenceNames(header)
	w.coordinateSorted = header.HD_SO() == "coordinate"
	w.fileOffset = n
	w.headerWritten = true
	w.refCtx = uninitialisedRefContext
	return nil
}

func sequenceNames(header *sam.Header) []string {
	names := make([]string, len(header.SQ))
	for i, sq := range header.SQ {
		names[i] = sq["SN"]
	}
	return names
}

// WriteAlignment buffers rec, first running the flush pipeline if the
// boundary policy decides the current batch must be sealed before rec
// can join it.
func (w *Writer) WriteAlignment(rec *sam.Alignment) error {
	if !w.headerWritten {
		return newError(w.SessionID.String(), HeaderNotYetWritten, "WriteAlignment called before WriteHeader", nil)
	}
	if w.shouldFlush(rec) {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.refCtx = w.refCtx.adopt(rec.REFID())
	w.buffer = append(w.buffer, rec)
	return nil
}

// Finish flushes any buffered records, writes the CRAM EOF marker, and
// finalises the index sink. If Sink implements io.Closer, Finish closes
// it even if an earlier step in this call failed, returning whichever
// error occurred first.
func (w *Writer) Finish() error {
	var firstErr error
	if len(w.buffer) > 0 {
		if err := w.flush(); err != nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		if _, err := w.containerIO.WriteEOF(w.Sink); err != nil {
			firstErr = newError(w.SessionID.String(), SinkIOError, "writing CRAM EOF marker", err)
		}
	}
	if firstErr == nil {
		if err := w.Index.Finish(); err != nil {
			firstErr = newError(w.SessionID.String(), SinkIOError, "finishing index sink", err)
		}
	}
	if closer, ok := w.Sink.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = newError(w.SessionID.String(), SinkIOError, "closing output sink", err)
		}
	}
	return firstErr
}
