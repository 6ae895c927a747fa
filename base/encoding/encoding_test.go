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
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestWriteMatrix(t *testing.T) {
	a := [][]float64{{1, 2}, {3, 4}}
	buf := bytes.NewBuffer(nil)
	err := WriteMatrix(buf, a)
	assert.NoError(t, err)
	assert.Equal(t, 32, buf.Len())
	b := [][]float64{{0, 0}, {0, 0}}
	err = ReadMatrix(buf, b)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
	// short stream
	err = ReadMatrix(bytes.NewReader([]byte{1, 2, 3}), b)
	assert.Error(t, err)
}

func TestEncodeVector(t *testing.T) {
	a := []float64{1.5, -2, math.MaxFloat64, math.SmallestNonzeroFloat64}
	data := EncodeVector(a)
	assert.Len(t, data, 32)
	assert.Equal(t, math.Float64bits(1.5), uint64(data[0])|uint64(data[1])<<8|uint64(data[2])<<16|
		uint64(data[3])<<24|uint64(data[4])<<32|uint64(data[5])<<40|uint64(data[6])<<48|uint64(data[7])<<56)
	b := make([]float64, 4)
	assert.NoError(t, DecodeVector(data, b))
	assert.Equal(t, a, b)
	// length mismatch
	err := DecodeVector(data[:31], b)
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Empty(t, EncodeVector(nil))
}

func TestFormatFloat64(t *testing.T) {
	assert.Equal(t, "0.25", FormatFloat64(0.25))
	assert.Equal(t, "3", FormatFloat64(3))
}
