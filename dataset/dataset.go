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
	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/bpmf/base"
	"github.com/gorse-io/bpmf/base/log"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// MaxDimension is the largest number of rows or columns of a SparseMatrix.
const MaxDimension = 1 << 26

// Entry is a single (row, column, value) triple.
type Entry struct {
	Row   int
	Col   int
	Value float64
}

// SparseMatrix is an immutable sparse matrix in compressed column storage. Row indices
// within a column are sorted.
type SparseMatrix struct {
	rows   int
	cols   int
	colPtr []int
	rowIdx []int
	values []float64
}

// NewSparseMatrix builds a matrix from triples. Out-of-range indices and duplicated
// entries are rejected.
func NewSparseMatrix(rows, cols int, entries []Entry) (*SparseMatrix, error) {
	if rows < 0 || cols < 0 || rows > MaxDimension || cols > MaxDimension {
		return nil, errors.NotValidf("matrix size %dx%d", rows, cols)
	}
	columns := base.NewDenseSparseMatrix(cols)
	for _, e := range entries {
		if e.Row < 0 || e.Row >= rows || e.Col < 0 || e.Col >= cols {
			return nil, errors.NotValidf("entry (%d, %d) in %dx%d matrix", e.Row, e.Col, rows, cols)
		}
		columns[e.Col].Add(e.Row, e.Value)
	}
	m := &SparseMatrix{
		rows:   rows,
		cols:   cols,
		colPtr: make([]int, cols+1),
		rowIdx: make([]int, 0, len(entries)),
		values: make([]float64, 0, len(entries)),
	}
	for j, column := range columns {
		column.SortIndex()
		if row, dup := column.HasDuplicate(); dup {
			return nil, errors.NotValidf("duplicate entry (%d, %d)", row, j)
		}
		m.rowIdx = append(m.rowIdx, column.Indices...)
		m.values = append(m.values, column.Values...)
		m.colPtr[j+1] = len(m.values)
	}
	return m, nil
}

// Rows returns the number of rows.
func (m *SparseMatrix) Rows() int {
	return m.rows
}

// Cols returns the number of columns.
func (m *SparseMatrix) Cols() int {
	return m.cols
}

// Nnz returns the number of stored entries.
func (m *SparseMatrix) Nnz() int {
	return len(m.values)
}

// Col returns row indices and values of column j. The slices share storage with the
// matrix and must not be modified.
func (m *SparseMatrix) Col(j int) ([]int, []float64) {
	begin, end := m.colPtr[j], m.colPtr[j+1]
	return m.rowIdx[begin:end], m.values[begin:end]
}

// Degree returns the number of entries in column j.
func (m *SparseMatrix) Degree(j int) int {
	return m.colPtr[j+1] - m.colPtr[j]
}

// Sum returns the sum of all entries.
func (m *SparseMatrix) Sum() float64 {
	var sum float64
	for _, v := range m.values {
		sum += v
	}
	return sum
}

// ForEach iterates entries in column-major order.
func (m *SparseMatrix) ForEach(f func(row, col int, value float64)) {
	for j := 0; j < m.cols; j++ {
		for k := m.colPtr[j]; k < m.colPtr[j+1]; k++ {
			f(m.rowIdx[k], j, m.values[k])
		}
	}
}

// Transpose returns a new matrix with rows and columns swapped.
func (m *SparseMatrix) Transpose() *SparseMatrix {
	t := &SparseMatrix{
		rows:   m.cols,
		cols:   m.rows,
		colPtr: make([]int, m.rows+1),
		rowIdx: make([]int, len(m.values)),
		values: make([]float64, len(m.values)),
	}
	for _, row := range m.rowIdx {
		t.colPtr[row+1]++
	}
	for i := 0; i < m.rows; i++ {
		t.colPtr[i+1] += t.colPtr[i]
	}
	next := make([]int, m.rows)
	copy(next, t.colPtr[:m.rows])
	// columns are visited in order, so row indices of the transpose stay sorted
	m.ForEach(func(row, col int, value float64) {
		t.rowIdx[next[row]] = col
		t.values[next[row]] = value
		next[row]++
	})
	return t
}

// Dataset holds training ratings (rows are users, columns are items) and probe ratings.
type Dataset struct {
	Train      *SparseMatrix
	TrainT     *SparseMatrix
	Probe      *SparseMatrix
	MeanRating float64
	ColdUsers  *bitset.BitSet
	ColdItems  *bitset.BitSet
}

// NewDataset creates a Dataset from training and probe matrices.
func NewDataset(train, probe *SparseMatrix) (*Dataset, error) {
	if train.Nnz() == 0 {
		return nil, errors.NotValidf("empty training matrix")
	}
	if probe.Rows() != train.Rows() || probe.Cols() != train.Cols() {
		return nil, errors.NotValidf("probe matrix of size %dx%d against training matrix of size %dx%d",
			probe.Rows(), probe.Cols(), train.Rows(), train.Cols())
	}
	d := &Dataset{
		Train:      train,
		TrainT:     train.Transpose(),
		Probe:      probe,
		MeanRating: train.Sum() / float64(train.Nnz()),
		ColdUsers:  bitset.New(uint(train.Rows())),
		ColdItems:  bitset.New(uint(train.Cols())),
	}
	for i := 0; i < d.TrainT.Cols(); i++ {
		if d.TrainT.Degree(i) == 0 {
			d.ColdUsers.Set(uint(i))
		}
	}
	for i := 0; i < d.Train.Cols(); i++ {
		if d.Train.Degree(i) == 0 {
			d.ColdItems.Set(uint(i))
		}
	}
	return d, nil
}

// LoadDataset loads training and probe matrices from Matrix Market files.
func LoadDataset(trainPath, probePath string) (*Dataset, error) {
	train, err := LoadMatrixMarket(trainPath)
	if err != nil {
		return nil, errors.Annotatef(err, "load training matrix %s", trainPath)
	}
	probe, err := LoadMatrixMarket(probePath)
	if err != nil {
		return nil, errors.Annotatef(err, "load probe matrix %s", probePath)
	}
	d, err := NewDataset(train, probe)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load dataset",
		zap.Int("n_users", d.CountUsers()),
		zap.Int("n_items", d.CountItems()),
		zap.Int("n_train", train.Nnz()),
		zap.Int("n_probe", probe.Nnz()),
		zap.Float64("mean_rating", d.MeanRating),
		zap.Uint("n_cold_users", d.ColdUsers.Count()),
		zap.Uint("n_cold_items", d.ColdItems.Count()))
	return d, nil
}

// CountUsers returns the number of users.
func (d *Dataset) CountUsers() int {
	return d.Train.Rows()
}

// CountItems returns the number of items.
func (d *Dataset) CountItems() int {
	return d.Train.Cols()
}

// Count returns the number of entities on a side.
func (d *Dataset) Count(side model.Side) int {
	if side == model.Users {
		return d.CountUsers()
	}
	return d.CountItems()
}

// Ratings returns the matrix whose column j holds the training ratings of entity j on
// the side, indexed by entities of the opposite side.
func (d *Dataset) Ratings(side model.Side) *SparseMatrix {
	if side == model.Users {
		return d.TrainT
	}
	return d.Train
}

// Cold returns entities of a side without training ratings.
func (d *Dataset) Cold(side model.Side) *bitset.BitSet {
	if side == model.Users {
		return d.ColdUsers
	}
	return d.ColdItems
}
