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

// refContext is the tri-state reference index a batch carries: either
// uninitialised (no record seen yet), pinned to a single sequence id,
// or spanning multiple references. The sentinel values mirror
// htsjdk's REF_SEQ_INDEX_NOT_INITIALIZED / Slice.MULTI_REFERENCE but
// stay package-private; callers only ever see the three states through
// the accessor methods below.
type refContext struct {
	state refState
	id    int32
}

type refState int8

const (
	refUninitialised refState = iota
	refSingle
	refMulti
)

var uninitialisedRefContext = refContext{state: refUninitialised}

// Uninitialised reports whether no record has been adopted into the
// current batch yet.
func (r refContext) Uninitialised() bool { return r.state == refUninitialised }

// MultiReference reports whether the current batch has been switched
// to absorb records spanning more than one reference sequence.
func (r refContext) MultiReference() bool { return r.state == refMulti }

// ID returns the batch's single reference sequence id and true, or
// (0, false) if the batch is uninitialised or multi-reference.
func (r refContext) ID() (int32, bool) {
	if r.state != refSingle {
		return 0, false
	}
	return r.id, true
}

func singleRefContext(id int32) refContext { return refContext{state: refSingle, id: id} }

func multiRefContext() refContext { return refContext{state: refMulti} }

// adopt applies the §4.1 "after appending incoming, update ref_seq_index"
// rule: uninitialised adopts incomingID; a differing id switches to
// multi-reference; an already multi-reference batch stays that way.
func (r refContext) adopt(incomingID int32) refContext {
	switch {
	case r.Uninitialised():
		return singleRefContext(incomingID)
	case r.MultiReference():
		return r
	default:
		if id, _ := r.ID(); id != incomingID {
			return multiRefContext()
		}
		return r
	}
}
