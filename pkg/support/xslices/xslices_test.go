// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGather(t *testing.T) {
	rows := [][]float32{{1, 1}, {2, 2}, {3, 3}}
	assert.Equal(t, [][]float32{{3, 3}, {1, 1}, {2, 2}}, Gather(rows, []int{2, 0, 1}))
	assert.Equal(t, [][]float32{{2, 2}, {2, 2}}, Gather(rows, []int{1, 1}))
	assert.Empty(t, Gather(rows, nil))

	err := exceptions.TryCatch[error](func() { Gather(rows, []int{3}) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out-of-bounds")
}

// rowMatrix is a named slice type, like the model's recurrent states.
type rowMatrix [][]float32

func TestGatherKeepsSliceType(t *testing.T) {
	rows := rowMatrix{{1, 1}, {2, 2}, {3, 3}}
	assert.Equal(t, rowMatrix{{3, 3}, {1, 1}, {2, 2}}, Gather(rows, []int{2, 0, 1}))
	assert.Equal(t, rowMatrix{{2, 2}, {3, 3}, {1, 1}}, Permute(rows, []int{1, 2, 0}))
	cloned := GatherFunc(rows, []int{0, 0}, func(row []float32) []float32 { return append([]float32(nil), row...) })
	assert.IsType(t, rowMatrix{}, cloned)
	assert.Equal(t, rowMatrix{{1, 1}, {1, 1}}, cloned)
}

func TestGatherFunc(t *testing.T) {
	rows := [][]float32{{1, 1}, {2, 2}}
	gathered := GatherFunc(rows, []int{0, 0}, func(row []float32) []float32 {
		return append([]float32(nil), row...)
	})
	gathered[0][0] = 7
	assert.Equal(t, float32(1), gathered[1][0], "repeated rows must not share storage")
	assert.Equal(t, float32(1), rows[0][0], "source rows must not change")
}

func TestArgsortStable(t *testing.T) {
	assert.Equal(t, []int{1, 2, 0}, ArgsortStable([]float64{4.0, 1.0, 2.5}))
	assert.Equal(t, []int{1, 0, 2}, ArgsortStable([]float64{2, 1, 2}))
	assert.Empty(t, ArgsortStable([]float64{}))
}

func TestPermute(t *testing.T) {
	assert.Equal(t, []string{"b", "c", "a"}, Permute([]string{"a", "b", "c"}, []int{1, 2, 0}))
	err := exceptions.TryCatch[error](func() { Permute([]string{"a"}, []int{0, 0}) })
	require.Error(t, err)
}

func TestSmallHelpers(t *testing.T) {
	assert.Equal(t, 3, Last([]int{1, 2, 3}))
	assert.Equal(t, 2, At([]int{1, 2, 3}, -2))
	assert.Equal(t, []int{3, 4}, Iota(3, 2))
	assert.Equal(t, []float32{1, 1, 1}, Fill(3, float32(1)))
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, func(i int) string { return string(rune('0' + i)) }))

	m := [][]int{{1}, {2}}
	c := CloneMatrix(m)
	c[0][0] = 5
	assert.Equal(t, 1, m[0][0])
	assert.Nil(t, CloneMatrix[int](nil))
}
