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

// Package structure holds the wire-ish types produced by the container
// builder: CompressionRecord, Slice, Container, and the CRAM file Header.
// The byte-level codec that would actually serialize these to the CRAM
// bitstream is out of scope; ContainerIO (package build) writes a
// deliberately simplified stand-in encoding.
package structure

import "github.com/exascience/elprep-cram/utils"

// CompressionRecord is the reference-relative intermediate form a
// Sam2CramFactory converts one sam.Alignment into. Next/Previous link
// mate chains within a single batch only; they are never valid across
// flushes.
type CompressionRecord struct {
	// Index is the 1-based position of this record within its batch.
	Index int32

	SequenceID         int32
	AlignmentStart     int32
	AlignmentDelta     int32
	TemplateSize       int32
	ReadName           string
	NamePreserved      bool
	ReadBases          []byte
	QualityScores      []byte
	Tags               utils.SmallMap
	MultiFragment      bool
	FirstSegment       bool
	LastSegment        bool
	SecondaryAlignment bool

	// Next and Previous link mate records within the batch; both nil
	// for a record with no resolved mate.
	Next, Previous *CompressionRecord

	// RecordsToNextFragment is the number of records between this
	// record and Next, or -1 if there is no Next or the record is
	// detached.
	RecordsToNextFragment int32

	Detached                   bool
	HasMateDownstream          bool
	ForcePreserveQualityScores bool

	// QualityScoresKept mirrors QualityScores but with masked positions
	// set to the CRAM missing-quality sentinel (0xff); populated by
	// QualityPreservation.Apply. Nil until a policy runs.
	QualityScoresKept []byte
}

// Slice groups a contiguous run of CompressionRecords under one
// reference-MD5 checksum.
type Slice struct {
	Records []*CompressionRecord
	RefMD5  [16]byte
}

// SetRefMD5 stamps Slice's reference checksum from the reference bases
// the batch this slice belongs to was built against.
func (s *Slice) SetRefMD5(batchBases []byte) {
	s.RefMD5 = md5Sum(batchBases)
}

// Container is the sealed, ready-to-serialize unit a ContainerBuilder
// produces from one flushed batch. Offset is filled in by the writer
// once the container's byte position in the output stream is known.
type Container struct {
	Slices []*Slice
	Offset int64
}

// Header is the CRAM file header prelude: version is fixed at CRAM
// v2.1 for this core (see ContainerIO), SamHeaderText is the verbatim
// textual SAM header the writer was given.
type Header struct {
	SamHeaderText string
}
