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

// Package build holds the components that turn one flushed batch of
// sam.Alignment records into a sealed cram/structure.Container:
// Sam2CramFactory (and its inverse, for the paranoid round-trip check),
// MateResolver, ContainerFactory, and ContainerIO.
package build

import (
	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/sam"
)

// Sam2CramFactory converts sam.Alignment records into
// structure.CompressionRecord values, tracking the running base and
// feature counts the caller consults for HighMismatchWarning.
type Sam2CramFactory struct {
	// PreserveReadNames sets NamePreserved on the produced record.
	// Convert always copies ReadName; ContainerIO writes an empty name
	// for a record whose NamePreserved is false.
	PreserveReadNames bool

	// CaptureAllTags, when true, copies every SAM tag except those
	// listed in IgnoreTags. When false, only tags listed in CaptureTags
	// are copied.
	CaptureAllTags bool
	CaptureTags    map[string]bool
	IgnoreTags     map[string]bool

	// ReferenceBases is the current reference sequence's bases, seeded
	// by the caller before each Convert call (re-seeded per record in a
	// multi-reference batch).
	ReferenceBases []byte

	baseCount    int64
	featureCount int64
}

// BaseCount returns the running count of aligned reference bases seen
// across every Convert call since the factory was constructed.
func (f *Sam2CramFactory) BaseCount() int64 { return f.baseCount }

// FeatureCount returns the running count of encoded CRAM "features"
// (mismatches, insertions, deletions, soft clips) seen across every
// Convert call since the factory was constructed.
func (f *Sam2CramFactory) FeatureCount() int64 { return f.featureCount }

// Convert builds a structure.CompressionRecord from aln. index is the
// record's 1-based position within the batch; alignmentDelta is
// aln.AlignmentStart() minus the previous record's alignment start.
func (f *Sam2CramFactory) Convert(aln *sam.Alignment, index, alignmentDelta int32) *structure.CompressionRecord {
	rec := &structure.CompressionRecord{
		Index:              index,
		SequenceID:         aln.REFID(),
		AlignmentStart:     aln.AlignmentStart(),
		AlignmentDelta:     alignmentDelta,
		TemplateSize:       aln.TemplateSize(),
		ReadName:           aln.QNAME,
		NamePreserved:      f.PreserveReadNames,
		ReadBases:          aln.ReadBases(),
		QualityScores:      aln.QualityScores(),
		MultiFragment:      aln.IsMultiFragment(),
		FirstSegment:       aln.IsFirstSegment(),
		LastSegment:        aln.IsLastSegment(),
		SecondaryAlignment: aln.IsSecondaryAlignment(),
	}
	f.captureTags(aln, rec)
	f.countFeatures(aln)
	return rec
}

func (f *Sam2CramFactory) captureTags(aln *sam.Alignment, rec *structure.CompressionRecord) {
	for _, entry := range aln.TAGS {
		name := *entry.Key
		if f.CaptureAllTags {
			if f.IgnoreTags[name] {
				continue
			}
		} else if !f.CaptureTags[name] {
			continue
		}
		rec.Tags.Set(entry.Key, entry.Value)
	}
}

// countFeatures advances the factory's BaseCount/FeatureCount counters
// for aln's CIGAR, mirroring htsjdk's per-record feature accounting
// that §4.5 step 6's HighMismatchWarning consumes.
func (f *Sam2CramFactory) countFeatures(aln *sam.Alignment) {
	if aln.IsUnmapped() {
		return
	}
	ops, err := sam.ScanCigarString(aln.CIGAR)
	if err != nil {
		return
	}
	bases := aln.ReadBases()
	refPos := aln.AlignmentStart()
	readPos := int32(0)
	for _, op := range ops {
		length := op.Length
		if op.IsAligned() {
			f.baseCount += int64(length)
			for i := int32(0); i < length; i++ {
				readIndex := readPos + i
				if f.ReferenceBases != nil &&
					int(refPos+i-1) < len(f.ReferenceBases) &&
					bases != nil && int(readIndex) < len(bases) &&
					bases[readIndex] != f.ReferenceBases[refPos+i-1] {
					f.featureCount++
				}
			}
		} else if op.ConsumesRead() || op.ConsumesReference() {
			f.featureCount++
		}
		if op.ConsumesRead() {
			readPos += length
		}
		if op.ConsumesReference() {
			refPos += length
		}
	}
}

// Cram2SamFactory is the inverse of Sam2CramFactory, used only by the
// paranoid round-trip check (spec.md §4.5 step 8): it reconstructs just
// enough of a sam.Alignment from a structure.CompressionRecord to
// compare alignment start, reference name, read bases and quality
// string against the original.
type Cram2SamFactory struct {
	// SequenceNames maps a sequence id to its @SQ SN name, for the
	// reference-name comparison.
	SequenceNames []string
}

// Convert reconstructs a minimal sam.Alignment from rec.
func (f *Cram2SamFactory) Convert(rec *structure.CompressionRecord) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.QNAME = rec.ReadName
	aln.POS = rec.AlignmentStart
	aln.SEQ = string(rec.ReadBases)
	aln.QUAL = string(rec.QualityScores)
	if rec.SequenceID >= 0 && int(rec.SequenceID) < len(f.SequenceNames) {
		aln.RNAME = f.SequenceNames[rec.SequenceID]
	} else {
		aln.RNAME = "*"
	}
	aln.SetREFID(rec.SequenceID)
	return aln
}

// RoundTripMatches reports whether the fields the paranoid check cares
// about are preserved between original and reconstructed.
func RoundTripMatches(original *sam.Alignment, reconstructed *sam.Alignment) bool {
	return original.POS == reconstructed.POS &&
		original.RNAME == reconstructed.RNAME &&
		original.SEQ == reconstructed.SEQ &&
		original.QUAL == reconstructed.QUAL
}
