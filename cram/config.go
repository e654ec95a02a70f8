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

// SetParanoidMode enables or disables the round-trip assertion that
// runs as part of every flush (§4.5 step 8). Default off.
func (w *Writer) SetParanoidMode(enabled bool) {
	w.ParanoidMode = enabled
}

// SetContainerSize sets records_per_slice and slices_per_container
// together, so container_size = recordsPerSlice * slicesPerContainer.
func (w *Writer) SetContainerSize(recordsPerSlice, slicesPerContainer int) {
	w.RecordsPerSlice = recordsPerSlice
	w.SlicesPerContainer = slicesPerContainer
}

// SetSlicesPerContainer sets the number of slices each sealed container
// groups, leaving RecordsPerSlice untouched.
func (w *Writer) SetSlicesPerContainer(slicesPerContainer int) {
	w.SlicesPerContainer = slicesPerContainer
}

// SetMultiRefThreshold sets the batch-size threshold above which a
// foreign-reference record is absorbed into a multi-reference batch
// instead of triggering a seal (§4.1 step 5).
func (w *Writer) SetMultiRefThreshold(threshold int) {
	w.MultiRefThreshold = threshold
}
