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

// Package reference provides the ReferenceProvider oracle that the cram
// writer consults to fetch whole-sequence reference bases by sequence
// index.
package reference

import (
	"fmt"

	"github.com/exascience/elprep-cram/fasta"
)

// Provider maps a sequence id to its complete reference bases. A
// sequence id is an index into the sequence dictionary the caller built
// the writer's header from; -1 (unmapped) never reaches
// GetReferenceBases, and a multi-reference batch asks for each record's
// own sequence id.
type Provider interface {
	GetReferenceBases(sequenceID int32) ([]byte, error)
}

// FastaProvider is a Provider backed by a memory-mapped FASTA file and
// its .fai index. Sequence ids are resolved against contigNames, the
// order in which the caller's SAM header listed its @SQ records; this
// must match the order the writer's header uses, since the writer only
// ever asks for bases by integer id.
type FastaProvider struct {
	file        *fasta.MappedFile
	contigNames []string
	cache       map[int32][]byte
}

// Open memory-maps filename (plus filename+".fai") and returns a
// FastaProvider that resolves sequence ids against contigNames.
func Open(filename string, contigNames []string) (*FastaProvider, error) {
	file, err := fasta.Open(filename)
	if err != nil {
		return nil, err
	}
	return &FastaProvider{
		file:        file,
		contigNames: contigNames,
		cache:       make(map[int32][]byte),
	}, nil
}

// Close unmaps the underlying FASTA file.
func (p *FastaProvider) Close() error {
	return p.file.Close()
}

// GetReferenceBases returns the complete bases for sequenceID, as listed
// by the sequence dictionary this provider was opened with. Results are
// cached per sequence id for the provider's lifetime.
func (p *FastaProvider) GetReferenceBases(sequenceID int32) ([]byte, error) {
	if bases, ok := p.cache[sequenceID]; ok {
		return bases, nil
	}
	if sequenceID < 0 || int(sequenceID) >= len(p.contigNames) {
		return nil, fmt.Errorf("reference: sequence id %d out of range", sequenceID)
	}
	bases, err := p.file.Sequence(p.contigNames[sequenceID])
	if err != nil {
		return nil, err
	}
	p.cache[sequenceID] = bases
	return bases, nil
}

// StaticProvider is a Provider backed by an in-memory table, useful for
// tests and for callers that already hold reference bases in memory.
type StaticProvider map[int32][]byte

// GetReferenceBases returns the bases stored for sequenceID.
func (p StaticProvider) GetReferenceBases(sequenceID int32) ([]byte, error) {
	bases, ok := p[sequenceID]
	if !ok {
		return nil, fmt.Errorf("reference: no bases registered for sequence id %d", sequenceID)
	}
	return bases, nil
}
