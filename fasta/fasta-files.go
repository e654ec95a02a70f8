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

// Package fasta provides a memory-mapped reader for indexed FASTA
// reference files, backing the reference package's default
// ReferenceProvider implementation.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os"

	"github.com/exascience/elprep-cram/internal"

	"golang.org/x/sys/unix"
)

// FaiReference represents an entry in an FAI file.
// See http://www.htslib.org/doc/faidx.html.
type FaiReference struct {
	Length    int32
	Offset    int64
	LineBases int32
	LineWidth int32
}

// ParseFai parses an FAI index file.
func ParseFai(filename string) (fai map[string]FaiReference) {
	f := internal.FileOpen(filename)
	defer internal.Close(f)

	fai = make(map[string]FaiReference)

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		b := bytes.Split(scanner.Bytes(), []byte("\t"))
		if len(b) != 5 {
			log.Panicf("badly formatted fai file %v - invalid number of entries", filename)
		}

		fai[string(b[0])] = FaiReference{
			Length:    int32(internal.ParseInt(string(b[1]), 10, 32)),
			Offset:    internal.ParseInt(string(b[2]), 10, 64),
			LineBases: int32(internal.ParseInt(string(b[3]), 10, 32)),
			LineWidth: int32(internal.ParseInt(string(b[4]), 10, 32)),
		}
	}

	if err := scanner.Err(); err != nil {
		log.Panic(err)
	}

	return fai
}

var iupacTable = map[byte]byte{
	'A': 'A', 'a': 'a',
	'C': 'C', 'c': 'c',
	'G': 'G', 'g': 'g',
	'T': 'T', 't': 't',
	'N': 'N', 'n': 'N',
	'R': 'N', 'r': 'N',
	'Y': 'N', 'y': 'N',
	'M': 'N', 'm': 'N',
	'K': 'N', 'k': 'N',
	'W': 'N', 'w': 'N',
	'S': 'N', 's': 'N',
	'B': 'N', 'b': 'N',
	'D': 'N', 'd': 'N',
	'H': 'N', 'h': 'N',
	'V': 'N', 'v': 'N',
}

// ToN normalizes ambiguity codes in FASTA references.
func ToN(base byte) byte {
	if n, ok := iupacTable[base]; ok {
		return n
	}
	return base
}

// MappedFile is a memory-mapped FASTA file plus its .fai sequence
// dictionary. Sequence lookups slice directly into the mapped region,
// decoding the fixed-width line wrapping described by the .fai entry on
// the fly, without copying the whole contig up front.
type MappedFile struct {
	fai  map[string]FaiReference
	data []byte
	file *os.File
}

// Open memory-maps filename (a FASTA file) for reading and parses its
// companion .fai index (filename + ".fai").
func Open(filename string) (*MappedFile, error) {
	fai := ParseFai(filename + ".fai")

	file := internal.FileOpen(filename)
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	var data []byte
	if stat.Size() > 0 {
		data, err = unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return &MappedFile{fai: fai, data: data, file: file}, nil
}

// Close unmaps the FASTA file and closes the underlying file descriptor.
func (m *MappedFile) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sequence returns the complete, unwrapped, ambiguity-normalized bases for
// contig, looked up through the .fai offset table.
func (m *MappedFile) Sequence(contig string) ([]byte, error) {
	ref, ok := m.fai[contig]
	if !ok {
		return nil, fmt.Errorf("fasta: unknown contig %q", contig)
	}
	bases := make([]byte, 0, ref.Length)
	offset := ref.Offset
	remaining := ref.Length
	for remaining > 0 {
		n := ref.LineBases
		if remaining < n {
			n = remaining
		}
		line := m.data[offset : offset+int64(n)]
		for _, b := range line {
			bases = append(bases, ToN(b))
		}
		offset += int64(ref.LineWidth)
		remaining -= n
	}
	return bases, nil
}

// Contigs returns the list of contig names known to this file's .fai index.
// The order of the names is not defined.
func (m *MappedFile) Contigs() []string {
	names := make([]string, 0, len(m.fai))
	for name := range m.fai {
		names = append(names, name)
	}
	return names
}
