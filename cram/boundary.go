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

import "github.com/exascience/elprep-cram/sam"

// SwitchToMultiRefThreshold is the default batch size above which a
// foreign-reference record is absorbed into a multi-reference batch
// rather than triggering a seal.
const SwitchToMultiRefThreshold = 1000

// DefaultRecordsPerSlice and DefaultSlicesPerContainer together define
// the default container_size of 10,000 records.
const (
	DefaultRecordsPerSlice    = 10000
	DefaultSlicesPerContainer = 1
)

// shouldFlush implements §4.1 BoundaryPolicy.should_seal: it decides,
// before incoming is appended to the current buffer, whether the
// buffer must be sealed first. Its one side effect is switching
// w.refCtx to multi-reference when a foreign-reference record is
// absorbed into a batch above the threshold; callers apply the other
// ref_seq_index updates themselves via refContext.adopt after the
// decision (and after any resulting flush) is made.
func (w *Writer) shouldFlush(incoming *sam.Alignment) bool {
	if len(w.buffer) == 0 {
		return false
	}
	if len(w.buffer) >= w.containerSize() {
		return true
	}
	if !w.coordinateSorted || w.refCtx.MultiReference() {
		return false
	}
	currentID, _ := w.refCtx.ID()
	if incoming.REFID() == currentID {
		return false
	}
	if len(w.buffer) > w.multiRefThreshold() {
		w.refCtx = multiRefContext()
		return false
	}
	return true
}

func (w *Writer) containerSize() int {
	return w.recordsPerSliceOrDefault() * w.slicesPerContainerOrDefault()
}

func (w *Writer) recordsPerSliceOrDefault() int {
	if w.RecordsPerSlice <= 0 {
		return DefaultRecordsPerSlice
	}
	return w.RecordsPerSlice
}

func (w *Writer) slicesPerContainerOrDefault() int {
	if w.SlicesPerContainer <= 0 {
		return DefaultSlicesPerContainer
	}
	return w.SlicesPerContainer
}

func (w *Writer) multiRefThreshold() int {
	if w.MultiRefThreshold <= 0 {
		return SwitchToMultiRefThreshold
	}
	return w.MultiRefThreshold
}
