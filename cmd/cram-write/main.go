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

// Command cram-write is a minimal demonstration of the cram.Writer
// producer API: it reads a textual SAM file, resolves each record's
// reference index against its own header, and streams the result
// through a cram.Writer into a CRAM-ish output file plus an optional
// companion index file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/exascience/elprep-cram/cram"
	"github.com/exascience/elprep-cram/cram/index"
	"github.com/exascience/elprep-cram/reference"
	"github.com/exascience/elprep-cram/sam"
	"github.com/exascience/elprep-cram/utils"
)

var programMessage = fmt.Sprint(
	"\n", utils.ProgramName, " version ", utils.ProgramVersion,
	" compiled with ", runtime.Version(),
	" - see ", utils.ProgramURL, " for more information.\n",
)

func main() {
	samFile := flag.String("sam", "", "input SAM text file (required)")
	fastaFile := flag.String("reference", "", "reference FASTA file with a .fai index (optional)")
	outFile := flag.String("out", "", "output CRAM-ish file (required)")
	indexFile := flag.String("index", "", "companion index output file (optional)")
	policy := flag.String("quality-policy", "", `quality preservation policy, e.g. "*8" (default: lossless)`)
	paranoid := flag.Bool("paranoid", false, "enable the paranoid round-trip assertion")
	recordsPerSlice := flag.Int("records-per-slice", 0, "records per slice (default 10000)")
	flag.Parse()

	fmt.Fprint(os.Stderr, programMessage)

	if *samFile == "" || *outFile == "" {
		fmt.Fprintln(os.Stderr, "usage: cram-write -sam in.sam -out out.cram [-reference ref.fa] [-index out.crai]")
		os.Exit(1)
	}

	if err := run(*samFile, *fastaFile, *outFile, *indexFile, *policy, *paranoid, *recordsPerSlice); err != nil {
		log.Fatal(err)
	}
}

func run(samFile, fastaFile, outFile, indexFile, policy string, paranoid bool, recordsPerSlice int) error {
	in, err := os.Open(samFile)
	if err != nil {
		return err
	}
	defer in.Close()

	headerText, reader, err := splitHeader(in)
	if err != nil {
		return err
	}

	header, _, err := sam.ParseHeader(bufio.NewReader(strings.NewReader(headerText)))
	if err != nil {
		return fmt.Errorf("parsing SAM header: %w", err)
	}

	out, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer out.Close()

	w := cram.NewWriter(out)
	w.QualityPreservationPolicy = policy
	w.SetParanoidMode(paranoid)
	if recordsPerSlice > 0 {
		w.SetContainerSize(recordsPerSlice, 1)
	}

	if fastaFile != "" {
		contigNames := make([]string, len(header.SQ))
		for i, sq := range header.SQ {
			contigNames[i] = sq["SN"]
		}
		provider, err := reference.Open(fastaFile, contigNames)
		if err != nil {
			return fmt.Errorf("opening reference FASTA: %w", err)
		}
		defer provider.Close()
		w.Reference = provider
	}

	var indexOut *os.File
	if indexFile != "" {
		indexOut, err = os.Create(indexFile)
		if err != nil {
			return err
		}
		defer indexOut.Close()
		w.Index = &index.StreamSink{W: indexOut}
	}

	if err := w.WriteHeader(headerText); err != nil {
		return err
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var sc sam.StringScanner
		sc.Reset(line)
		aln := sc.ParseAlignment()
		if err := sc.Err(); err != nil {
			return fmt.Errorf("parsing alignment line %q: %w", line, err)
		}
		if err := header.ResolveREFID(aln); err != nil {
			return err
		}
		if err := w.WriteAlignment(aln); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return w.Finish()
}

// splitHeader reads leading "@"-prefixed lines off in as the verbatim
// header text, returning a reader positioned at the first alignment
// line (or at EOF, if the file has none).
func splitHeader(in *os.File) (headerText string, rest *bufio.Reader, err error) {
	reader := bufio.NewReader(in)
	var header strings.Builder
	for {
		b, err := reader.Peek(1)
		if err != nil {
			return header.String(), reader, nil
		}
		if b[0] != '@' {
			return header.String(), reader, nil
		}
		line, err := reader.ReadString('\n')
		header.WriteString(line)
		if err != nil {
			return header.String(), reader, nil
		}
	}
}
