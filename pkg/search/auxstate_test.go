// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"testing"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuxStateNone(t *testing.T) {
	a, err := NewAuxState(AuxNone, 0, 3, Additive, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, a.Rows())
	assert.Same(t, a, a.Gather([]int{0, 0, 0}))
	assert.NoError(t, a.Replace(nil, 3))
	assert.Nil(t, a.ExtractFinished(0))
	assert.Nil(t, a.Summaries())
	assert.Equal(t, model.Aux{}, a.Aux())
}

func TestAuxStateInitial(t *testing.T) {
	for _, acc := range []Accumulation{Additive, Subtractive} {
		t.Run(acc.String(), func(t *testing.T) {
			a, err := NewAuxState(AuxCoverage, 2, 3, acc, nil)
			require.NoError(t, err)
			require.Equal(t, 1, a.Rows())
			want := acc.InitialValue()
			for _, v := range a.Coverage()[0] {
				assert.Equal(t, []float32{want, want}, v)
			}
			assert.Equal(t, []float32{want, want, want}, a.ExtractFinished(0))
			assert.Nil(t, a.Fertility())
		})
	}

	_, err := NewAuxState(AuxCoverage, 0, 3, Additive, nil)
	assert.Error(t, err)
	_, err = NewAuxState(AuxCoverageWithFertility, 1, 3, Additive, []float32{1, 2})
	assert.Error(t, err)
	a, err := NewAuxState(AuxCoverageWithFertility, 1, 2, Additive, []float32{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, a.Aux().Fertility)
}

// TestReindex checks that the rows of states and coverage follow their hypotheses
// when the beam is re-indexed with origins [2, 0, 1].
func TestReindex(t *testing.T) {
	origins := []int{2, 0, 1}
	states := model.State{{1, 1}, {2, 2}, {3, 3}}
	gathered := xslices.Gather(states, origins)
	assert.Equal(t, model.State{{3, 3}, {1, 1}, {2, 2}}, gathered)
	assert.Equal(t, model.State{{3, 3}, {1, 1}, {2, 2}}, gatherStates([]model.State{states}, origins)[0])

	a, err := NewAuxState(AuxCoverage, 1, 2, Additive, nil)
	require.NoError(t, err)
	require.NoError(t, a.Replace(model.Coverage{
		{{1}, {1}},
		{{2}, {2}},
		{{3}, {3}},
	}, 3))
	reindexed := a.Gather(origins)
	require.Equal(t, 3, reindexed.Rows())
	assert.Equal(t, [][]float32{{3, 3}, {1, 1}, {2, 2}}, reindexed.Summaries())

	// Original is untouched, and repeated origins get independent copies.
	doubled := a.Gather([]int{1, 1})
	doubled.Coverage()[0][0][0] = 10
	assert.Equal(t, float32(2), doubled.Coverage()[1][0][0])
	assert.Equal(t, float32(2), a.Coverage()[1][0][0])
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}, {3, 3}}, a.Summaries())
}

func TestAuxStateReplaceShape(t *testing.T) {
	a, err := NewAuxState(AuxCoverage, 2, 2, Additive, nil)
	require.NoError(t, err)
	assert.Error(t, a.Replace(model.Coverage{{{0, 0}, {0, 0}}}, 2))
	assert.Error(t, a.Replace(model.Coverage{{{0, 0}}}, 1))
	assert.Error(t, a.Replace(model.Coverage{{{0}, {0, 0}}}, 1))
	assert.NoError(t, a.Replace(model.Coverage{{{0.5, 0}, {1, 0}}}, 1))
	assert.Equal(t, []float32{0.5, 1}, a.ExtractFinished(0))
}
