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

package build

import (
	"encoding/binary"
	"io"

	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/internal"
)

// CramVersionMajor and CramVersionMinor are the fixed version this core
// writes (spec.md §6: "Version is fixed at CRAM v2.1 for this core").
const (
	CramVersionMajor = 2
	CramVersionMinor = 1
)

var cramMagic = [4]byte{'C', 'R', 'A', 'M'}
var cramEOF = [4]byte{'E', 'O', 'F', 0}

// ContainerIO serializes sealed Containers to an io.Writer. The exact
// byte layout below is a deliberately simplified stand-in for the real
// CRAM bitstream codec (out of scope per spec.md §1): each record is
// written length-prefixed rather than block/bit-packed.
type ContainerIO struct{}

// WriteHeader writes the CRAM file header prelude (magic, version,
// length-prefixed SAM header text) to w and returns the number of
// bytes written.
func (ContainerIO) WriteHeader(w io.Writer, header *structure.Header) (int64, error) {
	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)

	buf = append(buf, cramMagic[:]...)
	buf = append(buf, CramVersionMajor, CramVersionMinor)
	text := []byte(header.SamHeaderText)
	buf = appendUint32(buf, uint32(len(text)))
	buf = append(buf, text...)

	n, err := w.Write(buf)
	return int64(n), err
}

// WriteEOF writes the CRAM EOF marker to w and returns the number of
// bytes written.
func (ContainerIO) WriteEOF(w io.Writer) (int64, error) {
	n, err := w.Write(cramEOF[:])
	return int64(n), err
}

// Write serializes container's slices to w and returns the number of
// bytes written, matching the `write_container(version, container,
// sink) -> bytes_written` contract (spec.md §6).
func (ContainerIO) Write(w io.Writer, container *structure.Container) (int64, error) {
	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)

	buf = appendUint32(buf, uint32(len(container.Slices)))
	for _, slice := range container.Slices {
		buf = appendSlice(buf, slice)
	}

	n, err := w.Write(buf)
	return int64(n), err
}

func appendSlice(buf []byte, slice *structure.Slice) []byte {
	buf = append(buf, slice.RefMD5[:]...)
	buf = appendUint32(buf, uint32(len(slice.Records)))
	for _, rec := range slice.Records {
		buf = appendRecord(buf, rec)
	}
	return buf
}

func appendRecord(buf []byte, rec *structure.CompressionRecord) []byte {
	buf = appendInt32(buf, rec.SequenceID)
	buf = appendInt32(buf, rec.AlignmentStart)
	buf = appendInt32(buf, rec.AlignmentDelta)
	buf = appendInt32(buf, rec.TemplateSize)
	if rec.Detached {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	name := rec.ReadName
	if !rec.NamePreserved {
		name = ""
	}
	buf = appendString(buf, name)
	packed := structure.PackBases(rec.ReadBases)
	length, _, packedBytes := packed.ReflectValue()
	buf = appendUint32(buf, uint32(length))
	buf = appendBytes(buf, packedBytes)
	quality := rec.QualityScoresKept
	if quality == nil {
		quality = rec.QualityScores
	}
	buf = appendBytes(buf, quality)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}
