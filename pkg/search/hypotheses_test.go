// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHypothesesExtend(t *testing.T) {
	hs := Hypotheses{
		{Tokens: []int{5}, Alignments: [][]float32{{1, 0}}, Cost: 1},
		{Tokens: []int{6}, Alignments: [][]float32{{0, 1}}, Cost: 2},
	}
	assert.Equal(t, []int{5, 6}, hs.LastTokens())
	assert.Equal(t, []float64{1, 2}, hs.Costs())

	// alignment is [sourceLen=2][rows=2].
	alignment := [][]float32{{0.25, 0.5}, {0.75, 0.5}}
	next := hs.Extend([]Candidate{
		{Origin: 1, Token: 3, Cost: 2.5},
		{Origin: 1, Token: 4, Cost: 3},
		{Origin: 0, Token: 7, Cost: 4},
	}, alignment)
	require.Len(t, next, 3)
	assert.Equal(t, []int{6, 3}, next[0].Tokens)
	assert.Equal(t, [][]float32{{0, 1}, {0.5, 0.5}}, next[0].Alignments)
	assert.Equal(t, 2.5, next[0].Cost)
	assert.Equal(t, []int{6, 4}, next[1].Tokens)
	assert.Equal(t, []int{5, 7}, next[2].Tokens)
	assert.Equal(t, [][]float32{{1, 0}, {0.25, 0.75}}, next[2].Alignments)

	// Siblings don't share storage.
	next[0].Tokens[0] = 100
	assert.Equal(t, 6, next[1].Tokens[0])
	assert.Equal(t, 6, hs[1].Tokens[0])
	grown := append(next[0].Tokens, 9)
	assert.Equal(t, []int{6, 4}, next[1].Tokens)
	assert.Len(t, grown, 3)

	require.Panics(t, func() { hs.Extend([]Candidate{{Origin: 2}}, alignment) })
}

func TestHypothesesStart(t *testing.T) {
	hs := Hypotheses{{}}
	assert.Equal(t, []int{StartToken}, hs.LastTokens())
	next := hs.Extend([]Candidate{{Origin: 0, Token: 1, Cost: 0.5}}, [][]float32{{1}})
	assert.Equal(t, 1, next[0].Len())
	assert.Empty(t, hs[0].Tokens)
}

func TestHypothesesPartitionAndGather(t *testing.T) {
	const eos = 0
	hs := Hypotheses{
		{Tokens: []int{3, 0}, Cost: 1},
		{Tokens: []int{3, 4}, Cost: 2},
		{Tokens: []int{0}, Cost: 3},
		{Tokens: []int{2, 2}, Cost: 4},
	}
	live, finished := hs.Partition(eos)
	assert.Equal(t, []int{1, 3}, live)
	assert.Equal(t, []int{0, 2}, finished)

	gathered := hs.Gather([]int{2, 0, 1})
	assert.Equal(t, []float64{3, 1, 2}, gathered.Costs())
}

func TestHypothesisClone(t *testing.T) {
	h := Hypothesis{Tokens: []int{1, 2}, Alignments: [][]float32{{1}, {0.5}}, Cost: 3, Coverage: []float32{0.5}}
	c := h.Clone()
	assert.Equal(t, h, c)
	c.Alignments[0][0] = 7
	c.Coverage[0] = 7
	assert.Equal(t, float32(1), h.Alignments[0][0])
	assert.Equal(t, float32(0.5), h.Coverage[0])
}
