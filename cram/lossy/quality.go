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

// Package lossy implements htsjdk's compact quality-score preservation
// policy language: a policy string is a sequence of <selector><minQuality>
// pairs, e.g. "*8" (keep every position with quality >= 8), "N8" (keep
// positions flagged non-reference-match with quality >= 8, requires
// tracks), "R8" (keep positions with any read coverage with quality >= 8,
// also requires tracks).
package lossy

import (
	"fmt"
	"strconv"

	"github.com/exascience/elprep-cram/cram/ref"
	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/sam"
)

// Missing is the CRAM sentinel quality score for a masked position.
const Missing = 0xff

// Selector chooses, for one read position, whether its quality score
// should be retained.
type Selector byte

const (
	// SelectorAll matches every position.
	SelectorAll Selector = '*'
	// SelectorNonMatch matches positions whose read base mismatches the
	// reference, per the batch's ref/ref.Tracks mismatch counter.
	SelectorNonMatch Selector = 'N'
	// SelectorReadCoverage matches positions with any reference
	// coverage in the batch's ref.Tracks.
	SelectorReadCoverage Selector = 'R'
)

// PreservationPolicy is one compiled <selector><minQuality> pair.
type PreservationPolicy struct {
	Selector   Selector
	MinQuality byte
}

// RequiresTracks reports whether this policy entry consults
// coverage/mismatch counts, meaning a cram/ref.Tracks must have been
// populated before Apply runs.
func (p PreservationPolicy) RequiresTracks() bool {
	return p.Selector != SelectorAll
}

// keep decides, for a single read position with quality score q, whether
// p retains it. hasRefPos is false for read positions with no reference
// coordinate (insertions, soft clips); N and R can never match those.
func (p PreservationPolicy) keep(pos int32, hasRefPos bool, q byte, tracks *ref.Tracks) bool {
	if q < p.MinQuality {
		return false
	}
	switch p.Selector {
	case SelectorAll:
		return true
	case SelectorNonMatch:
		return hasRefPos && tracks != nil && tracks.MismatchesAt(pos) > 0
	case SelectorReadCoverage:
		return hasRefPos && tracks != nil && tracks.CoverageAt(pos) > 0
	default:
		return false
	}
}

// QualityPreservation is an ordered list of PreservationPolicy entries;
// a position is retained if any entry keeps it.
type QualityPreservation []PreservationPolicy

// Compile parses a policy string such as "*8" or "N8R20" into a
// QualityPreservation. An empty string compiles to an empty (lossless
// is handled separately by the caller, not by an empty policy list).
func Compile(policy string) (QualityPreservation, error) {
	var qp QualityPreservation
	for i := 0; i < len(policy); {
		sel := Selector(policy[i])
		switch sel {
		case SelectorAll, SelectorNonMatch, SelectorReadCoverage:
		default:
			return nil, fmt.Errorf("lossy: invalid selector %q in policy %q", policy[i], policy)
		}
		i++
		start := i
		for i < len(policy) && policy[i] >= '0' && policy[i] <= '9' {
			i++
		}
		if i == start {
			return nil, fmt.Errorf("lossy: missing quality threshold after selector %q in policy %q", sel, policy)
		}
		q, err := strconv.Atoi(policy[start:i])
		if err != nil {
			return nil, fmt.Errorf("lossy: %v, in policy %q", err, policy)
		}
		qp = append(qp, PreservationPolicy{Selector: sel, MinQuality: byte(q)})
	}
	return qp, nil
}

// RequiresTracks reports whether any entry in qp consults coverage or
// mismatch counts.
func (qp QualityPreservation) RequiresTracks() bool {
	for _, p := range qp {
		if p.RequiresTracks() {
			return true
		}
	}
	return false
}

// Apply decides, for every read position of rec, whether to retain its
// quality score or mask it to Missing, writing the result into
// rec.QualityScoresKept. tracks may be nil if !qp.RequiresTracks().
//
// aln is the sam.Alignment rec was converted from; its CIGAR drives the
// read-index-to-reference-position mapping the same way ref.Tracks.Populate
// walks it, so an insertion or deletion shifts later positions correctly
// instead of assuming a flat pos+i offset from AlignmentStart.
func (qp QualityPreservation) Apply(rec *structure.CompressionRecord, aln *sam.Alignment, tracks *ref.Tracks) {
	if rec.QualityScores == nil {
		return
	}
	kept := make([]byte, len(rec.QualityScores))
	for i := range kept {
		kept[i] = Missing
	}

	apply := func(readStart, readEnd, refStart int32, hasRefPos bool) {
		for i := readStart; i < readEnd; i++ {
			q := rec.QualityScores[i]
			pos := refStart + (i - readStart)
			for _, p := range qp {
				if p.keep(pos, hasRefPos, q, tracks) {
					kept[i] = q
					break
				}
			}
		}
	}

	ops, err := sam.ScanCigarString(aln.CIGAR)
	if err != nil {
		apply(0, int32(len(kept)), 0, false)
		rec.QualityScoresKept = kept
		return
	}

	refPos := rec.AlignmentStart
	readPos := int32(0)
	for _, op := range ops {
		length := op.Length
		if op.ConsumesRead() {
			apply(readPos, readPos+length, refPos, op.IsAligned())
			readPos += length
		}
		if op.ConsumesReference() {
			refPos += length
		}
	}
	rec.QualityScoresKept = kept
}
