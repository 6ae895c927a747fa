// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

const (
	matrixMarketBanner = "%%MatrixMarket"
	// maxEntriesHint bounds the capacity preallocated from the size line.
	maxEntriesHint = 1 << 20
)

// LoadMatrixMarket loads a sparse matrix from a Matrix Market coordinate file.
func LoadMatrixMarket(path string) (*SparseMatrix, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadMatrixMarket(file)
}

// ReadMatrixMarket parses a Matrix Market coordinate stream:
//
//	%%MatrixMarket matrix coordinate real general
//	% comments
//	<rows> <cols> <entries>
//	<row> <col> <value>
//
// Indices are 1-based. Only real and integer general matrices are supported.
func ReadMatrixMarket(r io.Reader) (*SparseMatrix, error) {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	headerRead := false
	nextLine := func() (string, bool) {
		for scanner.Scan() {
			lineNumber++
			line := strings.TrimSpace(scanner.Text())
			if line == "" || (headerRead && strings.HasPrefix(line, "%")) {
				continue
			}
			return line, true
		}
		return "", false
	}

	// parse banner
	header, ok := nextLine()
	if !ok {
		return nil, errors.Trace(readError(scanner, "missing header"))
	}
	headerRead = true
	banner := strings.Fields(strings.ToLower(header))
	if len(banner) != 5 || banner[0] != strings.ToLower(matrixMarketBanner) || banner[1] != "matrix" {
		return nil, errors.NotValidf("matrix market header %q", header)
	}
	if banner[2] != "coordinate" {
		return nil, errors.NotSupportedf("matrix market format %q", banner[2])
	}
	if banner[3] != "real" && banner[3] != "integer" {
		return nil, errors.NotSupportedf("matrix market field %q", banner[3])
	}
	if banner[4] != "general" {
		return nil, errors.NotSupportedf("matrix market symmetry %q", banner[4])
	}

	// parse size
	sizeLine, ok := nextLine()
	if !ok {
		return nil, errors.Trace(readError(scanner, "missing size line"))
	}
	size, err := parseInts(sizeLine, 3)
	if err != nil {
		return nil, errors.Annotatef(err, "line %d", lineNumber)
	}
	rows, cols, nnz := size[0], size[1], size[2]
	if rows < 0 || cols < 0 || nnz < 0 || rows > MaxDimension || cols > MaxDimension {
		return nil, errors.NotValidf("size line %q", sizeLine)
	}
	if nnz > rows*cols {
		return nil, errors.NotValidf("size line %q: %d entries in %dx%d matrix", sizeLine, nnz, rows, cols)
	}

	// parse entries
	entries := make([]Entry, 0, min(nnz, maxEntriesHint))
	for {
		line, ok := nextLine()
		if !ok {
			break
		}
		if len(entries) == nnz {
			return nil, errors.NotValidf("line %d: more than %d entries", lineNumber, nnz)
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.NotValidf("line %d: entry %q", lineNumber, line)
		}
		index, err := parseInts(strings.Join(fields[:2], " "), 2)
		if err != nil {
			return nil, errors.Annotatef(err, "line %d", lineNumber)
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.Annotatef(err, "line %d", lineNumber)
		}
		if index[0] < 1 || index[0] > rows || index[1] < 1 || index[1] > cols {
			return nil, errors.NotValidf("line %d: index (%d, %d) out of %dx%d", lineNumber, index[0], index[1], rows, cols)
		}
		entries = append(entries, Entry{Row: index[0] - 1, Col: index[1] - 1, Value: value})
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	if len(entries) != nnz {
		return nil, errors.NotValidf("%d entries, expected %d", len(entries), nnz)
	}
	return NewSparseMatrix(rows, cols, entries)
}

func parseInts(line string, n int) ([]int, error) {
	fields := strings.Fields(line)
	if len(fields) != n {
		return nil, errors.NotValidf("%q with %d fields, expected %d", line, len(fields), n)
	}
	values := make([]int, n)
	for i, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Trace(err)
		}
		values[i] = v
	}
	return values, nil
}

func readError(scanner *bufio.Scanner, message string) error {
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.NotValidf("%s", message)
}
