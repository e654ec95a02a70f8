// elPrep: a high-performance tool for analyzing SAM/BAM files.
// Copyright (c) 2020 imec vzw.

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

package internal

import (
	"io"
	"log"
	"os"
)

// FileOpen is os.Open with a panic in place of an error.
func FileOpen(filename string) *os.File {
	file, err := os.Open(filename)
	if err != nil {
		log.Panic(err)
	}
	return file
}

// Close is f.Close() with a panic in place of an error.
func Close(f io.Closer) {
	if err := f.Close(); err != nil {
		log.Panic(err)
	}
}
