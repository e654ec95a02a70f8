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

// Package index holds the IndexSink collaborator: consumers notified of
// every sealed container, used to build a companion index alongside the
// main CRAM output.
package index

import (
	"encoding/binary"
	"io"

	"github.com/exascience/elprep-cram/cram/build"
	"github.com/exascience/elprep-cram/cram/structure"
	"github.com/exascience/elprep-cram/internal"
)

// Sink is notified of every sealed container, in write order, and
// finalised once at the end of the stream.
type Sink interface {
	ProcessContainer(container *structure.Container, sequenceID int32) error
	Finish() error
}

// NopSink discards every container; the default when the caller does
// not want a companion index.
type NopSink struct{}

// ProcessContainer does nothing.
func (NopSink) ProcessContainer(*structure.Container, int32) error { return nil }

// Finish does nothing.
func (NopSink) Finish() error { return nil }

// StreamSink writes one fixed-width binary record per container to W:
// container ordinal, sequence id, minimum and maximum alignment start
// over the container's mapped records, byte offset, and byte length,
// mirroring the structural role of a .crai index
// without claiming byte compatibility with it.
type StreamSink struct {
	W     io.Writer
	count int32
}

// ProcessContainer writes one index record for container.
func (s *StreamSink) ProcessContainer(container *structure.Container, sequenceID int32) error {
	start, end := containerSpan(container)
	length := containerByteLength(container)

	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)

	buf = appendI32(buf, s.count)
	buf = appendI32(buf, sequenceID)
	buf = appendI32(buf, start)
	buf = appendI32(buf, end)
	buf = appendI64(buf, container.Offset)
	buf = appendI64(buf, length)

	s.count++
	_, err := s.W.Write(buf)
	return err
}

// Finish flushes the sink if it also implements an io.Closer-like
// flush, otherwise does nothing; StreamSink holds no other resources.
func (s *StreamSink) Finish() error {
	if flusher, ok := s.W.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

func containerSpan(container *structure.Container) (start, end int32) {
	start, end = -1, -1
	for _, slice := range container.Slices {
		for _, rec := range slice.Records {
			if rec.AlignmentStart <= 0 {
				continue
			}
			if start == -1 || rec.AlignmentStart < start {
				start = rec.AlignmentStart
			}
			if end == -1 || rec.AlignmentStart > end {
				end = rec.AlignmentStart
			}
		}
	}
	return
}

// containerByteLength is the number of bytes build.ContainerIO.Write
// produces for container.
func containerByteLength(container *structure.Container) int64 {
	n, _ := build.ContainerIO{}.Write(io.Discard, container)
	return n
}

func appendI32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func appendI64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}
