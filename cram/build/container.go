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
	"github.com/exascience/elprep-cram/cram/structure"
)

// ContainerFactory packs a batch's CompressionRecords into a sealed
// Container of slices. RecordsPerSlice bounds how many records each
// slice holds; the real CRAM block/codec encoding that would actually
// compress each slice's records is out of scope here (spec.md §1) —
// this factory only groups records and stamps checksums.
type ContainerFactory struct {
	RecordsPerSlice int32
}

// NewContainerFactory returns a ContainerFactory with the given
// records-per-slice limit.
func NewContainerFactory(recordsPerSlice int32) *ContainerFactory {
	return &ContainerFactory{RecordsPerSlice: recordsPerSlice}
}

// BuildContainer groups records into one or more Slices of at most
// f.RecordsPerSlice records each, and stamps every slice's reference
// MD5 from batchBases (the reference bases the whole batch aligns
// against; nil for a multi-reference or unmapped batch).
func (f *ContainerFactory) BuildContainer(records []*structure.CompressionRecord, batchBases []byte) *structure.Container {
	if f.RecordsPerSlice <= 0 {
		f.RecordsPerSlice = 1
	}
	container := &structure.Container{}
	for start := 0; start < len(records); start += int(f.RecordsPerSlice) {
		end := start + int(f.RecordsPerSlice)
		if end > len(records) {
			end = len(records)
		}
		slice := &structure.Slice{Records: records[start:end]}
		slice.SetRefMD5(batchBases)
		container.Slices = append(container.Slices, slice)
	}
	return container
}
