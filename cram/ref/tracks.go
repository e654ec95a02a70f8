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

// Package ref computes per-position reference coverage and mismatch
// counts for one flushed batch, feeding cram/lossy's quality
// preservation policies.
package ref

import (
	"fmt"

	"github.com/exascience/elprep-cram/sam"
)

// Tracks holds coverage and mismatch counters over the reference window
// [MinStart, MaxEnd] (both 1-based, inclusive) that one batch's aligned
// records span, plus the reference bases for that same sequence.
type Tracks struct {
	MinStart, MaxEnd int32
	bases            []byte
	coverage         []int32
	mismatches       []int32
}

// NewTracks allocates a Tracks window over [minStart, maxEnd] against
// bases, the complete reference sequence the batch aligns to.
func NewTracks(minStart, maxEnd int32, bases []byte) *Tracks {
	n := int(maxEnd-minStart) + 1
	return &Tracks{
		MinStart:   minStart,
		MaxEnd:     maxEnd,
		bases:      bases,
		coverage:   make([]int32, n),
		mismatches: make([]int32, n),
	}
}

func (t *Tracks) index(pos int32) int {
	i := int(pos - t.MinStart)
	if i < 0 || i >= len(t.coverage) {
		panic(fmt.Sprintf("ref: position %d outside tracks window [%d, %d]", pos, t.MinStart, t.MaxEnd))
	}
	return i
}

// AddCoverage increments the coverage counter at pos by delta.
func (t *Tracks) AddCoverage(pos int32, delta int32) {
	t.coverage[t.index(pos)] += delta
}

// AddMismatches increments the mismatch counter at pos by delta.
func (t *Tracks) AddMismatches(pos int32, delta int32) {
	t.mismatches[t.index(pos)] += delta
}

// CoverageAt returns the coverage counter at pos.
func (t *Tracks) CoverageAt(pos int32) int32 {
	return t.coverage[t.index(pos)]
}

// MismatchesAt returns the mismatch counter at pos.
func (t *Tracks) MismatchesAt(pos int32) int32 {
	return t.mismatches[t.index(pos)]
}

// BaseAt returns the reference base at pos, 1-based against the whole
// sequence, not the window.
func (t *Tracks) BaseAt(pos int32) byte {
	return t.bases[pos-1]
}

// Populate walks every aligned record's CIGAR, incrementing coverage for
// every reference-consuming operator and mismatches for every aligned
// (M/=/X) position whose read base differs from the reference.
//
// The mismatch loop indexes read bases at read_pos+i for i in [0, L);
// an earlier revision of this algorithm (following the original
// htsjdk source literally) double-counted read_pos, which is treated
// here as a bug in that source rather than intended behavior.
func (t *Tracks) Populate(records []*sam.Alignment) {
	for _, aln := range records {
		if aln.IsUnmapped() {
			continue
		}
		ops, err := sam.ScanCigarString(aln.CIGAR)
		if err != nil {
			continue
		}
		bases := aln.ReadBases()
		refPos := aln.AlignmentStart()
		readPos := int32(0)
		for _, op := range ops {
			length := op.Length
			if op.ConsumesReference() {
				for i := int32(0); i < length; i++ {
					t.AddCoverage(refPos+i, 1)
				}
			}
			if op.IsAligned() {
				for i := int32(0); i < length; i++ {
					readIndex := readPos + i
					if bases != nil && int(readIndex) < len(bases) &&
						bases[readIndex] != t.BaseAt(refPos+i) {
						t.AddMismatches(refPos+i, 1)
					}
				}
			}
			if op.ConsumesRead() {
				readPos += length
			}
			if op.ConsumesReference() {
				refPos += length
			}
		}
	}
}
