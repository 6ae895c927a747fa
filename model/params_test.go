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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_Copy(t *testing.T) {
	// Create parameters
	a := Params{
		NumLatent:   1,
		Alpha:       0.1,
		RandomState: 0,
	}
	// Create copy
	b := a.Copy()
	b[NumLatent] = 2
	b[Alpha] = 0.2
	b[RandomState] = 1
	// Check original parameters
	assert.Equal(t, 1, a.GetInt(NumLatent, -1))
	assert.Equal(t, 0.1, a.GetFloat64(Alpha, -0.1))
	assert.Equal(t, int64(0), a.GetInt64(RandomState, -1))
	// Check copy parameters
	assert.Equal(t, 2, b.GetInt(NumLatent, -1))
	assert.Equal(t, 0.2, b.GetFloat64(Alpha, -0.1))
	assert.Equal(t, int64(1), b.GetInt64(RandomState, -1))
}

func TestParams_GetFloat64(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, 0.1, p.GetFloat64(Alpha, 0.1))
	// Normal case
	p[Alpha] = 1.0
	assert.Equal(t, 1.0, p.GetFloat64(Alpha, 0.1))
	// Wrong type case
	p[Alpha] = 1
	assert.Equal(t, 1.0, p.GetFloat64(Alpha, 0.1))
	p[Alpha] = float32(0.5)
	assert.Equal(t, 0.5, p.GetFloat64(Alpha, 0.1))
	p[Alpha] = "hello"
	assert.Equal(t, 0.1, p.GetFloat64(Alpha, 0.1))
}

func TestParams_GetInt(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, -1, p.GetInt(NumLatent, -1))
	// Normal case
	p[NumLatent] = 0
	assert.Equal(t, 0, p.GetInt(NumLatent, -1))
	// Wrong type case
	p[NumLatent] = "hello"
	assert.Equal(t, -1, p.GetInt(NumLatent, -1))
}

func TestParams_GetInt64(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, int64(-1), p.GetInt64(RandomState, -1))
	// Normal case
	p[RandomState] = int64(0)
	assert.Equal(t, int64(0), p.GetInt64(RandomState, -1))
	// Wrong type case
	p[RandomState] = 0
	assert.Equal(t, int64(0), p.GetInt64(RandomState, -1))
	p[RandomState] = "hello"
	assert.Equal(t, int64(-1), p.GetInt64(RandomState, -1))
}

func TestParams_GetBool(t *testing.T) {
	p := Params{}
	assert.True(t, p.GetBool("Verbose", true))
	p["Verbose"] = false
	assert.False(t, p.GetBool("Verbose", true))
	p["Verbose"] = 1
	assert.True(t, p.GetBool("Verbose", true))
}

func TestParams_GetString(t *testing.T) {
	p := Params{}
	assert.Equal(t, "a", p.GetString("Name", "a"))
	p["Name"] = "b"
	assert.Equal(t, "b", p.GetString("Name", "a"))
	p["Name"] = 1
	assert.Equal(t, "a", p.GetString("Name", "a"))
}

func TestParams_Overwrite(t *testing.T) {
	a := Params{NumLatent: 1, Alpha: 2.0}
	b := a.Overwrite(Params{Alpha: 3.0, NSims: 10})
	assert.Equal(t, Params{NumLatent: 1, Alpha: 2.0}, a)
	assert.Equal(t, Params{NumLatent: 1, Alpha: 3.0, NSims: 10}, b)
	assert.JSONEq(t, `{"NumLatent":1,"Alpha":3,"NSims":10}`, b.ToString())
}
