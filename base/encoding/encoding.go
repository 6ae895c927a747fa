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

package encoding

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/juju/errors"
)

// WriteVector writes vector to byte stream.
func WriteVector(w io.Writer, v []float64) error {
	return errors.Trace(binary.Write(w, binary.LittleEndian, v))
}

// ReadVector reads len(v) floats from byte stream.
func ReadVector(r io.Reader, v []float64) error {
	return errors.Trace(binary.Read(r, binary.LittleEndian, v))
}

// WriteMatrix writes matrix to byte stream.
func WriteMatrix(w io.Writer, m [][]float64) error {
	for i := range m {
		if err := WriteVector(w, m[i]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReadMatrix reads matrix from byte stream.
func ReadMatrix(r io.Reader, m [][]float64) error {
	for i := range m {
		if err := ReadVector(r, m[i]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// EncodeVector encodes vector as little-endian float64s.
func EncodeVector(v []float64) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8*len(v)))
	// writes to bytes.Buffer never fail
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// DecodeVector decodes little-endian float64s into v. The length of data must match.
func DecodeVector(data []byte, v []float64) error {
	if len(data) != 8*len(v) {
		return errors.NotValidf("%d bytes for %d floats", len(data), len(v))
	}
	return ReadVector(bytes.NewReader(data), v)
}

func FormatFloat64(val float64) string {
	return strconv.FormatFloat(val, 'f', -1, 64)
}
