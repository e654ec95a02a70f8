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
	"sort"

	psort "github.com/exascience/pargo/sort"
	"github.com/willf/bitset"

	"github.com/exascience/elprep-cram/cram/structure"
)

// stringSorter adapts a []string to pargo/sort.StableSorter, used to
// order Pass 3's leftover mate-map entries deterministically (Go map
// iteration order is randomized; htsjdk relies on a TreeMap for the
// same reason).
type stringSorter []string

func (s stringSorter) SequentialSort(i, j int) { sort.Strings(s[i:j]) }

func (s stringSorter) NewTemp() psort.StableSorter { return make(stringSorter, len(s)) }

func (s stringSorter) Len() int { return len(s) }

func (s stringSorter) Less(i, j int) bool { return s[i] < s[j] }

func (s stringSorter) Assign(p psort.StableSorter) func(i, j, len int) {
	dst, src := s, p.(stringSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// InsertSizeFunc computes the expected TLEN between a chain's head and
// tail record, mirroring htsjdk's SamPairUtil insert-size computation;
// callers supply their own since the exact formula depends on read
// orientation conventions this core treats as an external oracle.
type InsertSizeFunc func(head, tail *structure.CompressionRecord) int32

// ResolveMates links mate pairs within one batch of
// structure.CompressionRecord in place, and marks records that cannot
// be safely reconstructed from their mate link as Detached. coordinateSorted
// must be true for mate resolution to run at all; on a non-coordinate-sorted
// batch every record is simply marked detached.
func ResolveMates(records []*structure.CompressionRecord, coordinateSorted bool, insertSize InsertSizeFunc) {
	if !coordinateSorted {
		for _, r := range records {
			detachNoChain(r)
		}
		return
	}

	primary := make(map[string]*structure.CompressionRecord)
	secondary := make(map[string]*structure.CompressionRecord)

	// Pass 1: link primary & secondary mate streams separately.
	for _, r := range records {
		if !r.MultiFragment {
			detachNoChain(r)
			continue
		}
		mateMap := primary
		if r.SecondaryAlignment {
			mateMap = secondary
		}
		mate, found := mateMap[r.ReadName]
		if !found {
			mateMap[r.ReadName] = r
			continue
		}
		prev := chainTail(mate, uint(len(records)+1))
		prev.RecordsToNextFragment = r.Index - prev.Index - 1
		prev.Next = r
		r.Previous = prev
		prev.HasMateDownstream = true
		r.HasMateDownstream = false
		r.RecordsToNextFragment = -1
		r.Detached = false
		prev.Detached = false
	}

	// Pass 2: validate reconstructability of every chain head.
	for _, r := range records {
		if r.Next != nil && r.Previous == nil {
			validateChain(r, uint(len(records)+1), insertSize)
		}
	}

	// Pass 3: isolated map entries (no in-batch partner arrived).
	leftovers := collectLeftovers(primary, secondary)
	for _, r := range leftovers {
		if r.Next == nil {
			detachNoChain(r)
		}
	}
}

// detachNoChain marks r as detached and clears its chain-link fields.
func detachNoChain(r *structure.CompressionRecord) {
	r.Detached = true
	r.HasMateDownstream = false
	r.RecordsToNextFragment = -1
	r.Next = nil
	r.Previous = nil
}

// detach walks forward from head along Next, marking every node in the
// chain as detached. Chain pointers are left in place; downstream
// consumers treat detached records as independent regardless of Next.
func detach(head *structure.CompressionRecord, guard uint) {
	visited := bitset.New(guard)
	for node := head; node != nil; node = node.Next {
		if idx := uint(node.Index); idx < guard {
			if visited.Test(idx) {
				break
			}
			visited.Set(idx)
		}
		node.Detached = true
		node.HasMateDownstream = false
		node.RecordsToNextFragment = -1
	}
}

// chainTail walks forward from mate to the current end of its chain,
// guarding against a malformed cycle with a bitset sized to the batch.
func chainTail(mate *structure.CompressionRecord, guard uint) *structure.CompressionRecord {
	visited := bitset.New(guard)
	node := mate
	for node.Next != nil {
		if idx := uint(node.Index); idx < guard {
			if visited.Test(idx) {
				break
			}
			visited.Set(idx)
		}
		node = node.Next
	}
	return node
}

// validateChain walks head to tail and detaches the whole chain unless
// every node's TemplateSize is consistent with the computed insert size.
func validateChain(head *structure.CompressionRecord, guard uint, insertSize InsertSizeFunc) {
	tail := chainTail(head, guard)
	if !(head.FirstSegment && tail.LastSegment) {
		detach(head, guard)
		return
	}
	expected := insertSize(head, tail)
	if head.TemplateSize != expected {
		detach(head, guard)
		return
	}
	visited := bitset.New(guard)
	for node := head.Next; node != nil; node = node.Next {
		if idx := uint(node.Index); idx < guard {
			if visited.Test(idx) {
				break
			}
			visited.Set(idx)
		}
		if node.TemplateSize != -expected {
			detach(head, guard)
			return
		}
	}
}

// collectLeftovers gathers every record still present in either mate
// map, in a deterministic order (sorted by read name then by which map
// it came from) so that Pass 3's detach decisions do not depend on Go's
// randomized map iteration order, mirroring htsjdk's use of a sorted
// map for the same bookkeeping.
func collectLeftovers(primary, secondary map[string]*structure.CompressionRecord) []*structure.CompressionRecord {
	names := make([]string, 0, len(primary)+len(secondary))
	seen := make(map[string]bool, len(primary)+len(secondary))
	for name := range primary {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range secondary {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	psort.StableSort(stringSorter(names))

	leftovers := make([]*structure.CompressionRecord, 0, len(names)*2)
	for _, name := range names {
		if r, ok := primary[name]; ok {
			leftovers = append(leftovers, r)
		}
		if r, ok := secondary[name]; ok {
			leftovers = append(leftovers, r)
		}
	}
	return leftovers
}
